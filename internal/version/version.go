package version

// Set via -ldflags at build time.
var (
	Version = "development"
	Commit  = "none"
	Date    = "unknown"
)
