//go:build !linux

package core

import (
	"bytes"
	"runtime"
	"strconv"
)

// Without a per-thread id syscall, the goroutine id stands in for the thread
// id; the goroutine is pinned, so the two are interchangeable.
func currentThreadID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 123 [running]:..."
	field := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(field, ' '); i > 0 {
		field = field[:i]
	}
	id, err := strconv.ParseInt(string(field), 10, 64)
	if err != nil {
		return -1
	}
	return id
}

// Native priorities are not mapped on this platform; every thread runs at Normal.
func applyThreadPriority(p ThreadPriority) ThreadPriority {
	return ThreadPriorityNormal
}
