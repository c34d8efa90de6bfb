//go:build !linux && !windows

package dispatch

import (
	"bytes"
	"runtime"
	"strconv"
)

// CurrentThreadID returns an identifier for the caller's thread of execution.
// Without a portable thread id syscall this is the goroutine id, which is what
// Loop compares against on these platforms.
func CurrentThreadID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 123 [running]:"
	field := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(field, ' '); i >= 0 {
		field = field[:i]
	}
	id, err := strconv.ParseUint(string(field), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
