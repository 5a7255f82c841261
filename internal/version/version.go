package version

import "fmt"

// Name identifies this tool in result descriptors and LAS headers.
const Name = "plotmerge"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// GeneratingSoftware is the value written into the LAS generating software
// field. LAS reserves 32 bytes for it; the codec truncates longer values.
func GeneratingSoftware() string {
	return fmt.Sprintf("%s %s", Name, Version)
}

// String describes the build for --version output.
func String() string {
	return fmt.Sprintf("%s %s (%s, built %s)", Name, Version, GitSHA, BuildTime)
}
