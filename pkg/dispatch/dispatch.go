package dispatch

// Dispatcher executes posted closures asynchronously.
type Dispatcher interface {
	// Post schedules fn. It returns false if fn was rejected and will not run.
	Post(fn func()) bool
}

// Go runs every posted closure on its own goroutine.
type Go struct{}

// Post starts fn on a new goroutine and always returns true.
func (Go) Post(fn func()) bool {
	go fn()
	return true
}

// Func adapts a function to Dispatcher.
type Func func(fn func()) bool

// Post calls f(fn).
func (f Func) Post(fn func()) bool { return f(fn) }

// Reject is a Dispatcher that rejects everything.
type Reject struct{}

// Post returns false.
func (Reject) Post(func()) bool { return false }
