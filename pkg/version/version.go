// Package version exposes build metadata of the memopt binary.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/goclaw/memopt/pkg/version.Version=v1.2.0"
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo is the build metadata reported by /status and --version.
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
}

// Get returns the build metadata of the running binary.
func Get() BuildInfo {
	return BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GoVersion: GoVersion,
	}
}

// String formats the build metadata on one line.
func (b BuildInfo) String() string {
	return fmt.Sprintf("memopt %s (commit %s, built %s, %s)", b.Version, b.GitCommit, b.BuildTime, b.GoVersion)
}
