package adapter_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardloop/guardloop/pkg/adapter"
)

func TestExecuteSucceedsOnZeroExit(t *testing.T) {
	a := adapter.NewAdapter("echo", "/bin/echo", nil, time.Second)
	resp := a.Execute(context.Background(), "hello world", time.Second, nil)
	assert.Equal(t, 0, resp.ExitCode)
	assert.Contains(t, resp.Stdout, "hello world")
	assert.Empty(t, resp.Error)
}

func TestExecuteReportsTimeout(t *testing.T) {
	a := adapter.NewAdapter("sleep", "/bin/sh", []string{"-c", "sleep 5"}, time.Second)
	resp := a.Execute(context.Background(), "", 300*time.Millisecond, nil)
	assert.NotEqual(t, 0, resp.ExitCode)
	assert.Contains(t, resp.Error, "Timeout")
}

func TestExecuteRetriesOnFailure(t *testing.T) {
	a := adapter.NewAdapter("false", "/bin/sh", []string{"-c", "exit 1"}, time.Second)
	start := time.Now()
	resp := a.Execute(context.Background(), "", time.Second, nil)
	elapsed := time.Since(start)

	assert.NotEqual(t, 0, resp.ExitCode)
	assert.GreaterOrEqual(t, elapsed, 3*time.Second, "expects 1s+2s backoff between 3 attempts")
}

func TestExecuteStreamsStdoutLines(t *testing.T) {
	a := adapter.NewAdapter("sh", "/bin/sh", []string{"-c", "printf 'a\\nb\\n'"}, time.Second)
	var lines []string
	resp := a.Execute(context.Background(), "", time.Second, func(line string) {
		lines = append(lines, line)
	})
	require.Equal(t, 0, resp.ExitCode)
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestValidateInstallationFindsExecutableOnPath(t *testing.T) {
	a := adapter.NewAdapter("sh", "sh", nil, time.Second)
	assert.True(t, a.ValidateInstallation())
}

func TestValidateInstallationFailsForUnknownBinary(t *testing.T) {
	a := adapter.NewAdapter("nope", "definitely-not-a-real-binary-xyz", nil, time.Second)
	assert.False(t, a.ValidateInstallation())
}

func TestVersionParsesSemver(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "tool")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho tool version 1.2.3\n"), 0o755))

	a := adapter.NewAdapter("tool", script, nil, time.Second)
	v := a.Version()
	assert.Equal(t, "1.2.3", v)
}
