package worker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardloop/guardloop/pkg/model"
	"github.com/guardloop/guardloop/pkg/storage/sqlite"
	"github.com/guardloop/guardloop/pkg/worker"
)

type fakeStore struct {
	stats          sqlite.Stats
	statsErr       error
	failuresSince  []model.FailureMode
	recentFailures []model.FailureMode
	deletedCutoff  time.Time
	deleteCount    int64
	vacuumCalled   bool
	deleteCalled   bool
}

func (f *fakeStore) GetStats(ctx context.Context) (sqlite.Stats, error) {
	return f.stats, f.statsErr
}

func (f *fakeStore) FailuresSince(ctx context.Context, since time.Time) ([]model.FailureMode, error) {
	return f.failuresSince, nil
}

func (f *fakeStore) RecentFailures(ctx context.Context, limit int) ([]model.FailureMode, error) {
	return f.recentFailures, nil
}

func (f *fakeStore) DeleteSessionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deleteCalled = true
	f.deletedCutoff = cutoff
	return f.deleteCount, nil
}

func (f *fakeStore) Vacuum(ctx context.Context) error {
	f.vacuumCalled = true
	return nil
}

func TestRenderFailureModesMarkdownBuildsTable(t *testing.T) {
	failures := []model.FailureMode{
		{Category: "hallucination", Severity: model.SeverityHigh, Tool: "claude", Context: "used a nonexistent API"},
	}
	out := worker.RenderFailureModesMarkdown(failures)

	assert.Contains(t, out, "# AI Failure Modes")
	assert.Contains(t, out, "| Timestamp | Category | Severity | Tool | Context |")
	assert.Contains(t, out, "|-----------|----------|----------|------|---------|")
	assert.Contains(t, out, "hallucination")
	assert.Contains(t, out, "claude")
	assert.Contains(t, out, "used a nonexistent API")
}

func TestRenderFailureModesMarkdownTruncatesLongContext(t *testing.T) {
	long := ""
	for i := 0; i < 150; i++ {
		long += "x"
	}
	failures := []model.FailureMode{{Category: "c", Severity: model.SeverityLow, Tool: "t", Context: long}}
	out := worker.RenderFailureModesMarkdown(failures)
	assert.Contains(t, out, "...")
}

func TestRenderFailureModesMarkdownEscapesPipesAndNewlines(t *testing.T) {
	failures := []model.FailureMode{{Category: "c", Severity: model.SeverityLow, Tool: "t", Context: "a|b\nc"}}
	out := worker.RenderFailureModesMarkdown(failures)
	assert.Contains(t, out, "a\\|b c")
}

func TestManagerStartSchedulesAndStopHalts(t *testing.T) {
	store := &fakeStore{}
	dir := t.TempDir()
	m := worker.NewManager(store, nil, filepath.Join(dir, "export.md"), nil)
	require.NoError(t, m.Start())
	m.Stop()
}
