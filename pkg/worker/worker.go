// Package worker implements the Background Workers (spec §4.16): four
// periodic actors scheduled via a shared cron engine, sharing a common
// start/stop lifecycle.
package worker

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/guardloop/guardloop/internal/log"
	"github.com/guardloop/guardloop/pkg/model"
	"github.com/guardloop/guardloop/pkg/patterns"
	"github.com/guardloop/guardloop/pkg/storage/sqlite"
	"go.uber.org/zap"
)

const (
	analysisPeriod = 300 * time.Second
	metricsPeriod  = 60 * time.Second
	exportPeriod   = 600 * time.Second
	cleanupPeriod  = 86400 * time.Second

	trendThreshold       = 10
	sessionRetentionDays = 30
)

// Store is the persistence surface consumed by the workers.
type Store interface {
	GetStats(ctx context.Context) (sqlite.Stats, error)
	FailuresSince(ctx context.Context, since time.Time) ([]model.FailureMode, error)
	RecentFailures(ctx context.Context, limit int) ([]model.FailureMode, error)
	DeleteSessionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Vacuum(ctx context.Context) error
}

// PatternStore is the persistence surface for AnalysisWorker's mining pass.
type PatternStore = patterns.Store

// Manager owns the shared cron engine and spawns/stops the four workers.
// Start schedules all four together; there is no per-worker switch.
type Manager struct {
	cronEngine   *cron.Cron
	store        Store
	patternStore PatternStore
	exportPath   string
	logPaths     []string
	entries      []cron.EntryID
}

// NewManager constructs a Manager. exportPath is where MarkdownExporter
// writes; logPaths are rotated by CleanupWorker.
func NewManager(store Store, patternStore PatternStore, exportPath string, logPaths []string) *Manager {
	return &Manager{
		cronEngine:   cron.New(),
		store:        store,
		patternStore: patternStore,
		exportPath:   exportPath,
		logPaths:     logPaths,
	}
}

// Start schedules all four workers and starts the cron engine.
func (m *Manager) Start() error {
	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"analysis", everySpec(analysisPeriod), m.runAnalysis},
		{"metrics", everySpec(metricsPeriod), m.runMetrics},
		{"markdown_export", everySpec(exportPeriod), m.runMarkdownExport},
		{"cleanup", everySpec(cleanupPeriod), m.runCleanup},
	}
	for _, j := range jobs {
		id, err := m.cronEngine.AddFunc(j.spec, wrapped(j.name, j.fn))
		if err != nil {
			return fmt.Errorf("schedule %s worker: %w", j.name, err)
		}
		m.entries = append(m.entries, id)
	}
	m.cronEngine.Start()
	return nil
}

// Stop halts the cron engine and waits for in-flight runs to finish.
func (m *Manager) Stop() {
	ctx := m.cronEngine.Stop()
	<-ctx.Done()
}

func everySpec(d time.Duration) string {
	return "@every " + d.String()
}

func wrapped(name string, fn func()) func() {
	return func() {
		start := time.Now()
		fn()
		log.Info("background worker tick complete", zap.String("worker", name), zap.Duration("elapsed", time.Since(start)))
	}
}

// runAnalysis computes 24h failure trends and logs an insight whenever any
// category crosses trendThreshold occurrences.
func (m *Manager) runAnalysis() {
	ctx := context.Background()
	since := time.Now().Add(-24 * time.Hour)
	failures, err := m.store.FailuresSince(ctx, since)
	if err != nil {
		log.Error("analysis worker failed to load failures", zap.Error(err))
		return
	}

	counts := map[string]int{}
	for _, f := range failures {
		counts[f.Category]++
	}
	for category, count := range counts {
		if count > trendThreshold {
			log.Warn("failure trend threshold crossed",
				zap.String("category", category), zap.Int("count_24h", count))
		}
	}

	if m.patternStore != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			_, err := patterns.AnalyzeFailures(gctx, m.patternStore, 7, nil)
			return err
		})
		g.Go(func() error {
			_, err := patterns.AnalyzeViolations(gctx, m.patternStore, 7, nil)
			return err
		})
		if err := g.Wait(); err != nil {
			log.Error("analysis worker pattern mining failed", zap.Error(err))
		}
	}
}

// runMetrics logs the GetStats row counts (sessions, violations, failures,
// guardrails) and the database size. It does not compute a success rate,
// mean execution time, or top violations/failures.
func (m *Manager) runMetrics() {
	ctx := context.Background()
	stats, err := m.store.GetStats(ctx)
	if err != nil {
		log.Error("metrics worker failed to load stats", zap.Error(err))
		return
	}
	log.Info("metrics snapshot",
		zap.Int64("sessions", stats.SessionCount),
		zap.Int64("violations", stats.ViolationCount),
		zap.Int64("failures", stats.FailureCount),
		zap.Int64("guardrails", stats.GuardrailCount),
		zap.Int64("database_bytes", stats.DatabaseBytes))
}

// runMarkdownExport renders recent failures to AI_Failure_Modes.md.
func (m *Manager) runMarkdownExport() {
	ctx := context.Background()
	failures, err := m.store.RecentFailures(ctx, 200)
	if err != nil {
		log.Error("markdown exporter failed to load failures", zap.Error(err))
		return
	}
	content := RenderFailureModesMarkdown(failures)
	if err := os.WriteFile(m.exportPath, []byte(content), 0o644); err != nil {
		log.Error("markdown exporter failed to write file", zap.String("path", m.exportPath), zap.Error(err))
	}
}

// RenderFailureModesMarkdown builds the "| Timestamp | Category | Severity |
// Tool | Context |" table used for AI_Failure_Modes.md.
func RenderFailureModesMarkdown(failures []model.FailureMode) string {
	var b strings.Builder
	b.WriteString("# AI Failure Modes\n\n")
	b.WriteString("| Timestamp | Category | Severity | Tool | Context |\n")
	b.WriteString("|-----------|----------|----------|------|---------|\n")
	for _, f := range failures {
		snippet := f.Context
		if len(snippet) > 100 {
			snippet = snippet[:100] + "..."
		}
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
			time.Now().Format(time.RFC3339), f.Category, f.Severity, f.Tool, escapeTableCell(snippet)))
	}
	return b.String()
}

func escapeTableCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", "\\|"), "\n", " ")
}

// runCleanup deletes sessions older than sessionRetentionDays, vacuums the
// store, and rotates configured logs.
func (m *Manager) runCleanup() {
	ctx := context.Background()
	cutoff := time.Now().Add(-sessionRetentionDays * 24 * time.Hour)

	deleted, err := m.store.DeleteSessionsOlderThan(ctx, cutoff)
	if err != nil {
		log.Error("cleanup worker failed to delete old sessions", zap.Error(err))
	} else {
		log.Info("cleanup worker deleted old sessions", zap.Int64("count", deleted))
	}

	if err := m.store.Vacuum(ctx); err != nil {
		log.Error("cleanup worker failed to vacuum", zap.Error(err))
	}

	for _, path := range m.logPaths {
		if err := rotateLog(path); err != nil {
			log.Error("cleanup worker failed to rotate log", zap.String("path", path), zap.Error(err))
		}
	}
}

// rotateLog renames path to a timestamp-suffixed sibling if it exceeds 10MB.
func rotateLog(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	const maxBytes = 10 * 1024 * 1024
	if info.Size() < maxBytes {
		return nil
	}
	rotated := fmt.Sprintf("%s.%s", path, time.Now().Format("20060102-150405"))
	return os.Rename(path, rotated)
}
