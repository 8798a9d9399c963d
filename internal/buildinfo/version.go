// Package buildinfo carries values stamped in at link time:
//
//	go build -ldflags "-X github.com/YoshitsuguKoike/deepipe/internal/buildinfo.Version=v1.0.0 \
//	    -X github.com/YoshitsuguKoike/deepipe/internal/buildinfo.Commit=$(git rev-parse --short HEAD)"
package buildinfo

import "runtime/debug"

var (
	Version = "dev"
	Commit  = ""
)

// GetVersion returns Version, or "dev" for unstamped builds
func GetVersion() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

// GetCommit returns Commit, falling back to the VCS revision recorded by the Go toolchain
func GetCommit() string {
	if Commit != "" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				return s.Value[:7]
			}
		}
	}
	return "unknown"
}
