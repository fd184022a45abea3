// Package version carries build metadata injected with -ldflags.
package version

import "fmt"

var (
	// Version is the toolkit release, set at build time.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for `artos version` and the server banner.
func String() string {
	return fmt.Sprintf("artos %s (%s, built %s)", Version, GitSHA, BuildTime)
}
