//go:build linux

package core

import "golang.org/x/sys/unix"

// Per-thread nice values. Linux applies setpriority(PRIO_PROCESS, tid) to a
// single thread.
var niceByPriority = map[ThreadPriority]int{
	ThreadPriorityLowest:      19,
	ThreadPriorityBelowNormal: 10,
	ThreadPriorityNormal:      0,
	ThreadPriorityAboveNormal: -5,
	ThreadPriorityHighest:     -10,
}

func currentThreadID() int64 {
	return int64(unix.Gettid())
}

// applyThreadPriority must run on the locked thread. Raising priority needs
// CAP_SYS_NICE; when refused, it steps toward Normal until the kernel accepts.
func applyThreadPriority(p ThreadPriority) ThreadPriority {
	tid := unix.Gettid()
	for p != ThreadPriorityNormal {
		if err := unix.Setpriority(unix.PRIO_PROCESS, tid, niceByPriority[p]); err == nil {
			return p
		}
		if p > ThreadPriorityNormal {
			p--
		} else {
			p++
		}
	}
	return ThreadPriorityNormal
}
