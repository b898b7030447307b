package util

import "fmt"

// GitCommit and Version are overridden at build time via -ldflags, the
// teacher's own convention for its cmd/*/main.go "-version" flag.
var (
	GitCommit = "unknown"
	Version   = "dev"
)

// PrintVersion prints build version information and reports true so
// callers can os.Exit(0) right after, mirroring every cmd/*/main.go's
// "if *version && util.PrintVersion()" guard.
func PrintVersion() bool {
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	return true
}
