package version

import (
	"fmt"
	"runtime"
)

var (
	// Version of the packager binary.
	Version = "0.1.0"
	// Commit is the short git SHA the binary was built from.
	Commit = "none"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns version, commit, build time and the Go toolchain in one line.
func Full() string {
	return fmt.Sprintf("webreader-packager %s (commit %s, built at %s, %s)", Version, Commit, BuildTime, runtime.Version())
}
