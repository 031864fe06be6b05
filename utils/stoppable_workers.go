// Package utils holds small concurrency and error helpers shared by the rgbdsync packages.
package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"

	"go.viam.com/rgbdsync/logging"
)

// StoppableWorkers is a collection of goroutines that can be stopped at a later time.
type StoppableWorkers interface {
	AddWorkers(...func(context.Context))
	Stop()
	Context() context.Context
}

// stoppableWorkersImpl is only handed out through the interface so the embedded WaitGroup is
// never copied.
type stoppableWorkersImpl struct {
	mu         sync.Mutex
	logger     logging.Logger
	cancelCtx  context.Context
	cancelFunc func()
	active     sync.WaitGroup
}

// NewStoppableWorkers runs the functions in separate goroutines. They can be stopped later.
func NewStoppableWorkers(funcs ...func(context.Context)) StoppableWorkers {
	return NewStoppableWorkersWithLogger(nil, funcs...)
}

// NewStoppableWorkersWithLogger is like NewStoppableWorkers, but a panicking worker is reported to
// the logger before the panic is swallowed.
func NewStoppableWorkersWithLogger(logger logging.Logger, funcs ...func(context.Context)) StoppableWorkers {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	workers := &stoppableWorkersImpl{logger: logger, cancelCtx: cancelCtx, cancelFunc: cancelFunc}
	workers.AddWorkers(funcs...)
	return workers
}

// AddWorkers starts a goroutine per function. After Stop it returns without starting anything.
func (sw *stoppableWorkersImpl) AddWorkers(funcs ...func(context.Context)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.cancelCtx.Err() != nil {
		return
	}

	sw.active.Add(len(funcs))
	for _, f := range funcs {
		f := f
		goutils.PanicCapturingGoWithCallback(func() {
			defer sw.active.Done()
			f(sw.cancelCtx)
		}, func(err interface{}) {
			if sw.logger != nil {
				sw.logger.Errorw("worker panicked", "error", err)
			}
		})
	}
}

// Stop cancels the workers' context and waits for all of them to return.
func (sw *stoppableWorkersImpl) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.cancelFunc()
	sw.active.Wait()
}

// Context gets the context the workers are checking on.
func (sw *stoppableWorkersImpl) Context() context.Context {
	return sw.cancelCtx
}
