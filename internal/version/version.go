// Package version exposes build metadata stamped in via -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time via -ldflags "-X ...version.VersionTag=v0.2.0 ..."
var (
	VersionTag = "dev"
	Commit     = "unknown"
	BuildTime  = "unknown"
)

// Info holds version and build metadata for the running binary
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	Platform  string `json:"platform"`
	GoVersion string `json:"go_version"`
}

// Get returns the current build's version information
func Get() Info {
	return Info{
		Version:   VersionTag,
		Commit:    Commit,
		BuildTime: BuildTime,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		GoVersion: runtime.Version(),
	}
}

// String returns a one-line version summary
func (i Info) String() string {
	return fmt.Sprintf("fathom %s (%s, built %s)", i.Version, i.Commit, i.BuildTime)
}
