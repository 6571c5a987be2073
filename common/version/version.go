// Package version carries build metadata injected with -ldflags.
package version

var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info renders the build metadata on one line.
func Info() string {
	return "tegami " + Version + " (" + GitCommit + ", " + BuildTime + ")"
}
