//go:build linux

package dispatch

import "golang.org/x/sys/unix"

// CurrentThreadID returns the id of the OS thread running the caller.
// The value is only stable for goroutines locked to their thread.
func CurrentThreadID() uint64 {
	return uint64(unix.Gettid())
}
