package utils

// Guard runs a cleanup only when the enclosing function bails out before calling Success.
//
//	guard := NewGuard(func() { driver.StopCameras(ctx) })
//	defer guard.OnFail()
//	if err := sync.Start(); err != nil {
//		return err
//	}
//	guard.Success()
type Guard struct {
	cleanup []func()
	success bool
}

// NewGuard returns a Guard with an initial cleanup.
func NewGuard(onFailCleanup func()) *Guard {
	return &Guard{cleanup: []func(){onFailCleanup}}
}

// Add registers another cleanup. Cleanups run in reverse order of registration.
func (guard *Guard) Add(onFailCleanup func()) {
	guard.cleanup = append(guard.cleanup, onFailCleanup)
}

// OnFail runs the cleanups unless Success was called.
func (guard *Guard) OnFail() {
	if guard.success {
		return
	}
	for i := len(guard.cleanup) - 1; i >= 0; i-- {
		guard.cleanup[i]()
	}
}

// Success declares the function succeeded.
func (guard *Guard) Success() {
	guard.success = true
}
