// Package version holds build metadata injected with -ldflags.
package version

import "fmt"

var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info returns a one-line description for the named binary.
func Info(binary string) string {
	return fmt.Sprintf("%s %s (%s) built at %s", binary, Version, GitCommit, BuildTime)
}
