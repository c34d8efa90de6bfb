// Package dispatch provides target execution contexts for event redelivery.
//
// A Context is a logical thread on which callbacks must be observed to run. Wrappers
// capture one at construction and route every native notification through it:
//
//	if ctx.CheckAccess() {
//	    handler()        // already on the target context: run inline
//	} else {
//	    ctx.Post(handler) // enqueue, return without waiting
//	}
//
// # Loop
//
// Loop is the standard Context: a single goroutine locked to its own OS thread that
// drains an unbounded FIFO queue. Post never blocks, so engine threads can redeliver
// notifications while the loop is busy.
//
//	loop := dispatch.NewLoop("main")
//	defer loop.Close()
//
//	loop.Post(func() { fmt.Println("on the loop") })
//	_ = loop.Invoke(func() { fmt.Println("waited for") })
//
// CheckAccess compares OS thread ids. Because the loop goroutine is locked to its thread,
// no other goroutine can observe the loop's thread id while the loop is running.
package dispatch
