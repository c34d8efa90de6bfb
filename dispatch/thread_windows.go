//go:build windows

package dispatch

import "golang.org/x/sys/windows"

// CurrentThreadID returns the id of the OS thread running the caller.
// The value is only stable for goroutines locked to their thread.
func CurrentThreadID() uint64 {
	return uint64(windows.GetCurrentThreadId())
}
