// Package version carries the build identity stamped into the gaze-report
// binary at link time via -ldflags. Unstamped builds report "dev".
package version

import "fmt"

var (
	// Version is the release tag, or "dev" for local builds.
	Version = "dev"
	// GitSHA identifies the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"
)

// String formats the full build identity for logs and the version command.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}
