//go:build debug

// Package check guards internal invariants. Assertions panic under the
// debug build tag and compile to nothing otherwise; use them for
// conditions the code relies on, never for input validation.
package check

import "fmt"

// Assert panics when cond is false.
func Assert(cond bool, msg string) {
	if !cond {
		panic("assertion failed: " + msg)
	}
}

// Assertf is Assert with a formatted message.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("assertion failed: " + fmt.Sprintf(format, args...))
	}
}
