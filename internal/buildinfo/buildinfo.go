// Package buildinfo exposes build metadata injected at link time via
// -ldflags "-X github.com/cliniscribe/dxgraph/internal/buildinfo.Version=...".
package buildinfo

import "fmt"

var (
	// Version is the semantic version of the build.
	Version = "dev"
	// Revision is the VCS revision the binary was built from.
	Revision = "unknown"
	// BuildDate is the UTC build timestamp.
	BuildDate = "unknown"
)

// UserAgent returns the identifier sent to external services.
func UserAgent() string {
	return fmt.Sprintf("dxgraph/%s (%s)", Version, Revision)
}
