package daemon

import "sync"

// Starter is the function EnsureStarted calls exactly once per
// process, regardless of how many times it is invoked. An explicit
// sync.Once guard rather than an import side-effect: when this process
// is launched as a library entry point instead of a standalone daemon,
// the supervisor must still be constructed exactly once.
type Starter func() (any, error)

var (
	onceGuard sync.Once
	instance  any
	startErr  error
)

// EnsureStarted calls start the first time it is invoked from this
// process and caches the result; every subsequent call, regardless of
// the start function passed, returns the cached instance and error
// without calling start again.
func EnsureStarted(start Starter) (any, error) {
	onceGuard.Do(func() {
		instance, startErr = start()
	})
	return instance, startErr
}

// ResetForTest clears the once-guard so tests can exercise
// EnsureStarted more than once within the same test binary. Production
// code never calls this.
func ResetForTest() {
	onceGuard = sync.Once{}
	instance = nil
	startErr = nil
}
