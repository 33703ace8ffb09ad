// Package version holds build metadata injected with -ldflags.
package version

import "fmt"

// Set at build time, e.g.
//
//	go build -ldflags "-X figmamcp/internal/version.Version=v1.2.0 -X figmamcp/internal/version.Commit=$(git rev-parse --short HEAD)"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a single line describing the build.
func Info() string {
	return fmt.Sprintf("figmamcp %s (commit %s, built %s)", Version, Commit, Date)
}
