// Package version reports what build of vigil is running. Release builds
// stamp the package variables through ldflags; plain `go build` binaries
// fall back to the VCS metadata the toolchain embeds, so a dev build still
// answers `vigil version` with something traceable.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time:
//
//	-ldflags "-X github.com/teranos/vigil/version.Version=v0.3.0 ..."
var (
	Version    = "dev"
	CommitHash = ""
	BuildTime  = ""
)

// Info is the resolved build identity, served on /healthz and the version
// hello frame.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	Dirty      bool   `json:"dirty,omitempty"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get resolves build identity, preferring ldflags values and filling gaps
// from the embedded VCS metadata.
func Get() Info {
	info := Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.CommitHash == "" {
					info.CommitHash = s.Value
				}
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = s.Value
				}
			case "vcs.modified":
				info.Dirty = s.Value == "true"
			}
		}
	}

	if info.CommitHash == "" {
		info.CommitHash = "unknown"
	}
	if info.BuildTime == "" {
		info.BuildTime = "unknown"
	}
	return info
}

// String renders the one-line identity shown by `vigil version`.
func (i Info) String() string {
	s := fmt.Sprintf("vigil %s (commit %s, built %s)", i.Version, i.Short(), i.BuildTime)
	if i.Dirty {
		s += " [modified]"
	}
	return s
}

// Short returns the abbreviated commit hash.
func (i Info) Short() string {
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}
