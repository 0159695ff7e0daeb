// Package version carries build metadata, set with -ldflags at build time.
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

// String formats the build metadata for display and run records.
func String() string {
	return fmt.Sprintf("wormbehaviour %s (%s, built %s)", Version, GitSHA, BuildTime)
}
