package ctxslot

import (
	"bytes"
	"runtime"
	"sync"
)

var stackBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64)
		return &b
	},
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID returns the id of the calling goroutine, parsed from the first
// line of its stack trace ("goroutine N [state]:"). Only the header is needed,
// so a small buffer suffices: runtime.Stack truncates the rest.
//
// Returns 0 if the header cannot be parsed.
func goroutineID() int64 {
	bp := stackBufPool.Get().(*[]byte)
	defer stackBufPool.Put(bp)
	n := runtime.Stack(*bp, false)
	return parseGoroutineID((*bp)[:n])
}

// parseGoroutineID must not allocate, it sits on the context lookup path.
func parseGoroutineID(stack []byte) int64 {
	if !bytes.HasPrefix(stack, goroutinePrefix) {
		return 0
	}
	var id int64
	for _, b := range stack[len(goroutinePrefix):] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + int64(b-'0')
	}
	return id
}
