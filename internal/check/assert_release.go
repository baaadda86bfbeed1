//go:build !debug

package check

// Assert compiles to nothing outside debug builds.
func Assert(_ bool, _ string) {}

// Assertf compiles to nothing outside debug builds.
func Assertf(_ bool, _ string, _ ...any) {}
