package dispatch

// Context is an execution context that callbacks can be redelivered onto.
type Context interface {
	// CheckAccess reports whether the calling goroutine is running on this context.
	CheckAccess() bool

	// Post enqueues fn for asynchronous execution on this context and returns
	// without waiting. Returns false if the context no longer accepts work.
	Post(fn func()) bool
}

// Deliver runs fn on ctx: inline if the caller is already on ctx, otherwise posted.
// Reports whether fn ran inline.
func Deliver(ctx Context, fn func()) (inline bool, ok bool) {
	if ctx.CheckAccess() {
		fn()
		return true, true
	}
	return false, ctx.Post(fn)
}
