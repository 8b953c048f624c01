// Package version reports the build version for the drift binaries.
package version

import "runtime/debug"

// Set via -ldflags on release builds; left alone for go-install builds.
var (
	Version = "dev"
	Commit  = ""
)

// String renders "version (commit)" with the commit resolved from the
// build info when ldflags did not set it.
func String() string {
	if c := commit(); c != "" {
		return Version + " (" + shorten(c) + ")"
	}
	return Version
}

func commit() string {
	if Commit != "" {
		return Commit
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return ""
}

func shorten(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}
