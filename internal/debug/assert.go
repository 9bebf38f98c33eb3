package debug

import (
	"fmt"
	"runtime"
	"strings"
)

// Assert panics when truth is false. It guards invariants that only a
// programming error can break; input from the network must never reach it.
//
// NOTE: the caller location is included because after panic recovery it is
// otherwise buried in the middle of the panicking stack.
func Assert(truth bool, msg ...string) {
	if truth {
		return
	}

	text := "assertion failed"
	if len(msg) > 0 {
		text = fmt.Sprintf("%s(%s)", text, strings.Join(msg, "; "))
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		text = fmt.Sprintf("%s:%d: %s", file, line, text)
	}
	panic(text)
}
