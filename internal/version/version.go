// Package version carries build metadata injected via ldflags.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns a one-line human-readable version string.
func String() string {
	return fmt.Sprintf("flyscan %s (%s, built %s)", Version, GitSHA, BuildTime)
}
