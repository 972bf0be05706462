// Package appversion reports goelan build information.
//
// Release builds inject the values with ldflags:
//
//	-ldflags="-X github.com/dantte-lp/goelan/internal/version.Version=v1.0.0
//	          -X github.com/dantte-lp/goelan/internal/version.GitCommit=abc1234
//	          -X github.com/dantte-lp/goelan/internal/version.BuildDate=2026-02-22T12:00:00Z"
//
// Builds without ldflags (go install, go run) fall back to the module
// version and VCS stamps recorded by the toolchain.
package appversion

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const unknown = "unknown"

// Version is the semantic version (e.g., "v0.1.0" or "dev").
var Version = "dev"

// GitCommit is the short git commit hash at build time.
var GitCommit = unknown

// BuildDate is the RFC 3339 build timestamp.
var BuildDate = unknown

// shortCommit is the length GitCommit is cut to when read from VCS stamps.
const shortCommit = 12

// Info is the resolved build information of the running binary.
type Info struct {
	Version   string `json:"version"    yaml:"version"`
	Commit    string `json:"commit"     yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	Modified  bool   `json:"modified"   yaml:"modified"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform"   yaml:"platform"`
}

// Get resolves Info from the ldflags variables, filling the gaps from
// build info.
func Get() Info {
	bi, _ := debug.ReadBuildInfo()
	return FromBuildInfo(bi)
}

// FromBuildInfo resolves Info against bi, which may be nil.
func FromBuildInfo(bi *debug.BuildInfo) Info {
	info := Info{
		Version:   Version,
		Commit:    GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi == nil {
		return info
	}

	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == unknown {
				info.Commit = s.Value[:min(len(s.Value), shortCommit)]
			}
		case "vcs.time":
			if info.BuildDate == unknown {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

// Map returns info keyed by its JSON field names.
func (i Info) Map() map[string]any {
	return map[string]any{
		"version":    i.Version,
		"commit":     i.Commit,
		"build_date": i.BuildDate,
		"modified":   i.Modified,
		"go_version": i.GoVersion,
		"platform":   i.Platform,
	}
}

// Full returns a human-readable multi-line version string for binary.
func (i Info) Full(binary string) string {
	commit := i.Commit
	if i.Modified {
		commit += " (modified)"
	}
	return fmt.Sprintf("%s %s\n  commit:  %s\n  built:   %s\n  go:      %s %s",
		binary, i.Version, commit, i.BuildDate, i.GoVersion, i.Platform)
}
