// Package version holds build metadata stamped in with -ldflags.
package version

import "fmt"

var (
	// Version is the semantic version (e.g., v1.0.0)
	Version = "dev"

	// BuildTime is the time the binary was built
	BuildTime = "unknown"

	// GitCommit is the git commit hash
	GitCommit = "unknown"
)

// Info returns version information as a map
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	}
}

// String renders the build metadata for the version command.
func String() string {
	return fmt.Sprintf("n8n monitor %s\nBuild Time: %s\nGit Commit: %s", Version, BuildTime, GitCommit)
}
