package version

import "fmt"

// Build information injected at compile time via ldflags
var (
	// Version is the semantic version of the application
	Version = "v0.0.0-dev"

	// Commit is the git commit hash
	Commit = "unknown"
)

// Info returns a formatted string with version information
func Info() string {
	return fmt.Sprintf("buttonlink %s (commit: %s)", Version, Commit)
}

// GetVersion returns just the version string
func GetVersion() string {
	return Version
}
