// Package refcount provides the shared-ownership counter behind captures and images.
//
// Every constructor that hands out a counted object starts it at one. Ref adds an owner and
// Release drops one; the destructor runs exactly once, on the release that brings the count to
// zero. Releasing a dead object reports ErrReleased instead of running the destructor again.
package refcount

import (
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

var (
	// ErrReleased is returned when referencing or releasing an object whose count already hit zero.
	ErrReleased = errors.New("object already released")
)

// Counter is an atomic reference count with a destructor.
type Counter struct {
	count   atomic.Int64
	destroy func()
}

// New returns a Counter with one owner.
func New(destroy func()) *Counter {
	c := &Counter{destroy: destroy}
	c.count.Store(1)
	return c
}

// Ref adds an owner. It fails once the count has reached zero; a dead object cannot be revived.
func (c *Counter) Ref() error {
	for {
		cur := c.count.Load()
		if cur <= 0 {
			return ErrReleased
		}
		if c.count.CompareAndSwap(cur, cur+1) {
			return nil
		}
	}
}

// Release drops an owner and reports whether this call destroyed the object.
func (c *Counter) Release() (bool, error) {
	for {
		cur := c.count.Load()
		if cur <= 0 {
			return false, ErrReleased
		}
		if !c.count.CompareAndSwap(cur, cur-1) {
			continue
		}
		if cur == 1 {
			if c.destroy != nil {
				c.destroy()
			}
			return true, nil
		}
		return false, nil
	}
}

// Count returns the current number of owners.
func (c *Counter) Count() int64 {
	return c.count.Load()
}

// Alive reports whether at least one owner remains.
func (c *Counter) Alive() bool {
	return c.count.Load() > 0
}
