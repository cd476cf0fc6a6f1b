package commands

import (
	"bytes"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubBuildInfo(t *testing.T, bi *debug.BuildInfo) {
	t.Helper()
	orig := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
	t.Cleanup(func() { readBuildInfo = orig })
}

func runVersion(t *testing.T, info BuildInfo, args ...string) string {
	t.Helper()
	cmd := NewVersionCommand(info)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return buf.String()
}

func TestVersionCommand_Stamped(t *testing.T) {
	stubBuildInfo(t, &debug.BuildInfo{
		GoVersion: "go1.24.1",
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "ffffffff"},
			{Key: "vcs.time", Value: "2000-01-01T00:00:00Z"},
		},
	})

	out := runVersion(t, BuildInfo{Version: "1.2.3", Commit: "abc1234", Date: "2026-10-01"})
	assert.Contains(t, out, "sqlineage v1.2.3\n")
	assert.Contains(t, out, "commit:   abc1234\n")
	assert.Contains(t, out, "built:    2026-10-01\n")
	assert.Contains(t, out, "go:       go1.24.1 ")
	assert.NotContains(t, out, "ffffffff")
}

func TestVersionCommand_FallsBackToBuildInfo(t *testing.T) {
	stubBuildInfo(t, &debug.BuildInfo{
		GoVersion: "go1.24.1",
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123abcd"},
			{Key: "vcs.time", Value: "2026-09-30T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
		Deps: []*debug.Module{
			{Path: "github.com/marcboeker/go-duckdb", Version: "v1.8.5"},
			{Path: "modernc.org/sqlite", Version: "v1.0.0", Replace: &debug.Module{Version: "v1.1.0"}},
			{Path: "github.com/spf13/cobra", Version: "v1.10.1"},
		},
	})

	out := runVersion(t, BuildInfo{Version: "dev", Commit: "unknown", Date: "unknown"})
	assert.Contains(t, out, "commit:   0123abcd (modified)\n")
	assert.Contains(t, out, "built:    2026-09-30T12:00:00Z\n")
	assert.Contains(t, out, "duckdb:   v1.8.5\n")
	assert.Contains(t, out, "sqlite:   v1.1.0\n")
	assert.NotContains(t, out, "postgres")
	assert.NotContains(t, out, "cobra")
}

func TestVersionCommand_NoBuildInfo(t *testing.T) {
	stubBuildInfo(t, nil)

	out := runVersion(t, BuildInfo{Version: "0.1.0"})
	assert.Contains(t, out, "sqlineage v0.1.0\n")
	assert.Contains(t, out, "commit:   unknown\n")
	assert.Contains(t, out, "built:    unknown\n")
}

func TestVersionCommand_Short(t *testing.T) {
	stubBuildInfo(t, nil)
	assert.Equal(t, "0.1.0\n", runVersion(t, BuildInfo{Version: "0.1.0"}, "--short"))
}

func TestVersionCommandMetadata(t *testing.T) {
	cmd := NewVersionCommand(BuildInfo{Version: "test"})

	assert.Equal(t, "version", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
	assert.NotNil(t, cmd.Flags().Lookup("short"))
}
