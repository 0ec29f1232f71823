package main

import "runtime"

// Set at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func goVersion() string {
	return runtime.Version()
}
