// Package build carries version metadata and the daemon's logging setup.
package build

import (
	"fmt"
	"runtime/debug"
)

// These are set through -ldflags at release time.
var (
	// Commit is the git commit the binary was built from.
	Commit string

	// RawTags is the comma separated list of build tags.
	RawTags string
)

const (
	appMajor = 0
	appMinor = 3
	appPatch = 0
)

// Version returns the semantic version of the binary.
func Version() string {
	return fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
}

// GoVersion reports the toolchain the binary was built with.
func GoVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}

	return ""
}

// CommitHash falls back to the VCS revision stamped by the toolchain when
// Commit was not set at link time.
func CommitHash() string {
	if Commit != "" {
		return Commit
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}

	return ""
}
