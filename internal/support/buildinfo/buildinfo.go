// Package buildinfo carries version metadata stamped at link time.
package buildinfo

// Version is overridden via -ldflags at release build time.
var Version = "dev"
