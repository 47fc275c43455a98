package evloop

import (
	"runtime"
	"strconv"
)

// goid returns the current goroutine id. Loops and the timer wheel
// use it to tell whether a call comes from the owning loop goroutine
// or from a timer callback re-entering the wheel.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	// "goroutine 123 [running]:"
	s := buf[len("goroutine "):n]
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			id, _ := strconv.ParseInt(string(s[:i]), 10, 64)
			return id
		}
	}

	return -1
}
