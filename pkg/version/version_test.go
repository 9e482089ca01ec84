package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, GitCommit, info.GitCommit)
	assert.Equal(t, BuildTime, info.BuildTime)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
	assert.Equal(t, []string{"h264", "mpeg2", "avs"}, info.Codecs)
}

func TestGetInfo_CodecsAreCopied(t *testing.T) {
	info := GetInfo()
	info.Codecs[0] = "changed"

	assert.Equal(t, "h264", Codecs[0])
}

func TestInfoString(t *testing.T) {
	info := Info{
		Version:   "1.0.0",
		GitCommit: "abc123",
		BuildTime: "2024-01-01",
		GoVersion: "go1.21",
		OS:        "linux",
		Arch:      "amd64",
	}

	str := info.String()
	assert.Contains(t, str, "frameparser 1.0.0")
	assert.Contains(t, str, "commit: abc123")
	assert.Contains(t, str, "built: 2024-01-01")
	assert.Contains(t, str, "go: go1.21")
	assert.Contains(t, str, "os/arch: linux/amd64")
}

func TestInfoShort(t *testing.T) {
	assert.Equal(t, "frameparser 1.0.0", Info{Version: "1.0.0"}.Short())
}

func TestInfoFields(t *testing.T) {
	fields := Info{Version: "1.2.3", GitCommit: "deadbeef"}.Fields()

	assert.Equal(t, "1.2.3", fields["version"])
	assert.Equal(t, "deadbeef", fields["git_commit"])
}
