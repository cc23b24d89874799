package patterns_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardloop/guardloop/pkg/model"
	"github.com/guardloop/guardloop/pkg/patterns"
)

type fakeStore struct {
	failures   []model.FailureMode
	violations []model.Violation
	upserted   []model.LearnedPattern
}

func (f *fakeStore) FailuresSince(ctx context.Context, since time.Time) ([]model.FailureMode, error) {
	return f.failures, nil
}

func (f *fakeStore) ViolationsSince(ctx context.Context, since time.Time) ([]model.Violation, error) {
	return f.violations, nil
}

func (f *fakeStore) UpsertLearnedPattern(ctx context.Context, p *model.LearnedPattern) error {
	f.upserted = append(f.upserted, *p)
	return nil
}

func repeatFailures(n int, category, pattern string, severity model.Severity) []model.FailureMode {
	var out []model.FailureMode
	for i := 0; i < n; i++ {
		out = append(out, model.FailureMode{SessionID: "s", Category: category, Pattern: pattern, Severity: severity})
	}
	return out
}

func TestAnalyzeFailuresDropsBelowMinFrequency(t *testing.T) {
	store := &fakeStore{failures: repeatFailures(2, "JWT/Auth", "missing token validation", model.SeverityHigh)}
	out, err := patterns.AnalyzeFailures(context.Background(), store, 7, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestAnalyzeFailuresUpsertsAboveThresholds(t *testing.T) {
	store := &fakeStore{failures: repeatFailures(5, "JWT/Auth", "missing token validation", model.SeverityCritical)}
	out, err := patterns.AnalyzeFailures(context.Background(), store, 7, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "JWT/Auth", out[0].Category)
	assert.Equal(t, model.SeverityCritical, out[0].Severity)
	assert.Equal(t, 5, out[0].Frequency)
	assert.NotEmpty(t, out[0].Hash)
	assert.Len(t, store.upserted, 1)
}

func TestAnalyzeFailuresDropsBelowMinConfidence(t *testing.T) {
	store := &fakeStore{failures: repeatFailures(3, "Minor", "cosmetic issue", model.SeverityLow)}
	out, err := patterns.AnalyzeFailures(context.Background(), store, 7, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestAnalyzeFailuresCapsExemplarsAtFive(t *testing.T) {
	failures := repeatFailures(12, "JWT/Auth", "missing token validation", model.SeverityHigh)
	store := &fakeStore{failures: failures}
	out, err := patterns.AnalyzeFailures(context.Background(), store, 7, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.LessOrEqual(t, len(out[0].Examples), 5)
}

func TestAnalyzeFailuresFiltersByCategory(t *testing.T) {
	failures := append(
		repeatFailures(5, "JWT/Auth", "missing token validation", model.SeverityHigh),
		repeatFailures(5, "Looping", "infinite retry", model.SeverityHigh)...,
	)
	store := &fakeStore{failures: failures}
	out, err := patterns.AnalyzeFailures(context.Background(), store, 7, map[string]bool{"JWT/Auth": true})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "JWT/Auth", out[0].Category)
}

func TestAnalyzeViolationsGroupsByTypeAndRule(t *testing.T) {
	var violations []model.Violation
	for i := 0; i < 4; i++ {
		violations = append(violations, model.Violation{SessionID: "s", GuardrailType: model.GuardrailBPSBS, RuleID: "three-layer", Severity: model.SeverityHigh})
	}
	store := &fakeStore{violations: violations}
	out, err := patterns.AnalyzeViolations(context.Background(), store, 7, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "bpsbs", out[0].Category)
}
