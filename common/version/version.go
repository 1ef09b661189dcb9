// Package version carries build metadata stamped in via -ldflags.
package version

var (
	// Version is the semantic version of the binary.
	Version = "v0.0.0-dev"

	// GitCommit is the short commit hash this binary was built from.
	GitCommit = "unknown"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Info renders a single-line version banner.
func Info() string {
	return Version + " (" + GitCommit + ") built at " + BuildTime
}
