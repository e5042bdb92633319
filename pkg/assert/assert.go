// Package assert provides lightweight runtime invariant checks.
//
// Violations are programming errors per the engine's error design: they are
// never expected to happen in a correctly operating system and therefore
// panic instead of returning an error.
package assert

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// Assert panics with a message identifying the call site if condition is
// false. args[0], if present, is a fmt.Sprintf format string for the rest
// of args.
func Assert(condition bool, args ...any) {
	if condition {
		return
	}

	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "unknown"
		line = 0
	}
	filename := filepath.Base(file)

	if len(args) > 0 {
		format, isStr := args[0].(string)
		if !isStr {
			panic(fmt.Sprintf("assertion failed at %s:%d", filename, line))
		}
		msg := fmt.Sprintf(format, args[1:]...)
		panic(fmt.Sprintf("assertion failed: %s at %s:%d", msg, filename, line))
	}
	panic(fmt.Sprintf("assertion failed at %s:%d", filename, line))
}

// NoError asserts that err is nil.
func NoError(err error) {
	Assert(err == nil, "expected no error, got: %v", err)
}

// Panic unconditionally panics with a formatted message, used for states
// that are reachable only through a programming error (e.g. destroying a
// dirty undo record set).
func Panic(format string, args ...any) {
	panic(fmt.Sprintf(format, args...))
}
