package executor_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guardloop/guardloop/pkg/executor"
)

func TestExtractOperationsFencedWithPath(t *testing.T) {
	output := "```go:main.go\npackage main\n```"
	ops := executor.ExtractOperations(output)
	assert.Len(t, ops, 1)
	assert.Equal(t, "main.go", ops[0].Path)
	assert.Equal(t, "package main", ops[0].Content)
}

func TestExtractOperationsFileContentBlock(t *testing.T) {
	output := "File: foo.py\nContent: print('hi')\nFile: bar.py\nContent: print('bye')"
	ops := executor.ExtractOperations(output)
	assert.Len(t, ops, 2)
	assert.Equal(t, "foo.py", ops[0].Path)
	assert.Equal(t, "bar.py", ops[1].Path)
}

func TestExtractOperationsSaveToAfterFence(t *testing.T) {
	output := "```\nconsole.log('hi')\n```\nSave to: script.js"
	ops := executor.ExtractOperations(output)
	assert.Len(t, ops, 1)
	assert.Equal(t, "script.js", ops[0].Path)
}

func TestValidateRejectsPathOutsideRoot(t *testing.T) {
	op := executor.FileOperation{Path: "../../etc/passwd", Content: "x"}
	v := executor.Validate(op, "/project")
	assert.False(t, v.Safe)
	assert.True(t, v.Reject)
}

func TestValidateRejectsSystemPathPrefix(t *testing.T) {
	op := executor.FileOperation{Path: "/etc/hosts", Content: "x"}
	v := executor.Validate(op, "/project")
	assert.False(t, v.Safe)
	assert.True(t, v.Reject)
}

func TestValidateCleanFileIsAutoSaveEligible(t *testing.T) {
	op := executor.FileOperation{Path: "pkg/main.go", Content: "package main\n"}
	v := executor.Validate(op, "/project")
	assert.True(t, v.Safe)
	assert.True(t, v.AutoSave)
}

func TestValidateUncommonExtensionLowersScore(t *testing.T) {
	op := executor.FileOperation{Path: "pkg/blob.xyz", Content: "data"}
	v := executor.Validate(op, "/project")
	assert.True(t, v.Safe)
	assert.False(t, v.AutoSave)
}

func TestValidateHardcodedSecretFlagged(t *testing.T) {
	op := executor.FileOperation{Path: "pkg/config.go", Content: `api_key: "sk-abcdefghij123456"`}
	v := executor.Validate(op, "/project")
	assert.NotEmpty(t, v.Warnings)
}

func TestExecuteWritesFileAndCreatesDirs(t *testing.T) {
	dir := t.TempDir()
	op := executor.FileOperation{Path: "nested/dir/out.go", Content: "package main\n"}
	r := executor.Execute(op, dir, false)
	assert.True(t, r.OK)

	content, err := os.ReadFile(filepath.Join(dir, "nested/dir/out.go"))
	assert.NoError(t, err)
	assert.Equal(t, "package main\n", string(content))
}

func TestExecuteSkipsWithoutConfirmationWhenRequired(t *testing.T) {
	dir := t.TempDir()
	op := executor.FileOperation{Path: "blob.xyz", Content: "run sudo cleanup"}
	v := executor.Validate(op, dir)
	assert.True(t, v.Safe)
	assert.True(t, v.NeedsConfirm)

	r := executor.Execute(op, dir, false)
	assert.True(t, r.Skipped)
}

func TestExecuteAllSummarizesResults(t *testing.T) {
	dir := t.TempDir()
	ops := []executor.FileOperation{
		{Path: "a.go", Content: "package main\n"},
		{Path: "../../escape.go", Content: "package main\n"},
	}
	s := executor.ExecuteAll(ops, dir, true)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
}
