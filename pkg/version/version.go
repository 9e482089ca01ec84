// Package version reports build metadata for the frameparser binaries.
package version

import (
	"fmt"
	"runtime"
)

// Build information. These variables are set at build time using ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
	OS        = runtime.GOOS
	Arch      = runtime.GOARCH
)

// Codecs lists the elementary stream syntaxes the parser understands.
var Codecs = []string{"h264", "mpeg2", "avs"}

// Info contains version information.
type Info struct {
	Version   string   `json:"version"`
	GitCommit string   `json:"git_commit"`
	BuildTime string   `json:"build_time"`
	GoVersion string   `json:"go_version"`
	OS        string   `json:"os"`
	Arch      string   `json:"arch"`
	Codecs    []string `json:"codecs"`
}

// GetInfo returns the version information.
func GetInfo() Info {
	codecs := make([]string, len(Codecs))
	copy(codecs, Codecs)
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        OS,
		Arch:      Arch,
		Codecs:    codecs,
	}
}

// String returns the version string.
func (i Info) String() string {
	return fmt.Sprintf("frameparser %s (commit: %s, built: %s, go: %s, os/arch: %s/%s)",
		i.Version, i.GitCommit, i.BuildTime, i.GoVersion, i.OS, i.Arch)
}

// Short returns a short version string.
func (i Info) Short() string {
	return fmt.Sprintf("frameparser %s", i.Version)
}

// Fields returns the build metadata as structured log fields.
func (i Info) Fields() map[string]interface{} {
	return map[string]interface{}{
		"version":    i.Version,
		"git_commit": i.GitCommit,
		"build_time": i.BuildTime,
		"go_version": i.GoVersion,
	}
}
