// Package patterns implements the Pattern Analyser (spec §4.12): mining
// persisted failures and violations into LearnedPattern rows.
package patterns

import (
	"context"
	"time"

	"github.com/guardloop/guardloop/pkg/faildetect"
	"github.com/guardloop/guardloop/pkg/model"
)

const (
	minFrequency  = 3
	minConfidence = 0.6
	maxExemplars  = 5
)

// Store is the persistence surface consumed by the analyser.
type Store interface {
	FailuresSince(ctx context.Context, since time.Time) ([]model.FailureMode, error)
	ViolationsSince(ctx context.Context, since time.Time) ([]model.Violation, error)
	UpsertLearnedPattern(ctx context.Context, p *model.LearnedPattern) error
}

type group struct {
	category   string
	pattern    string
	severities []model.Severity
	sessionIDs []string
	first, last time.Time
}

// AnalyzeFailures groups failures from the last `days` days by (category,
// pattern), drops under-threshold groups, and upserts the survivors.
func AnalyzeFailures(ctx context.Context, store Store, days int, categories map[string]bool) ([]model.LearnedPattern, error) {
	since := windowStart(days)
	failures, err := store.FailuresSince(ctx, since)
	if err != nil {
		return nil, err
	}

	groups := map[string]*group{}
	for _, f := range failures {
		if categories != nil && !categories[f.Category] {
			continue
		}
		addToGroup(groups, f.Category, f.Pattern, f.Severity, f.SessionID, time.Now())
	}
	return commit(ctx, store, groups)
}

// AnalyzeViolations is the symmetric procedure over persisted violations,
// grouping by (guardrail_type, rule_id) as the (category, pattern) pair.
func AnalyzeViolations(ctx context.Context, store Store, days int, categories map[string]bool) ([]model.LearnedPattern, error) {
	since := windowStart(days)
	violations, err := store.ViolationsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	groups := map[string]*group{}
	for _, v := range violations {
		category := string(v.GuardrailType)
		if categories != nil && !categories[category] {
			continue
		}
		addToGroup(groups, category, v.RuleID, v.Severity, v.SessionID, time.Now())
	}
	return commit(ctx, store, groups)
}

func windowStart(days int) time.Time {
	return time.Now().Add(-time.Duration(days) * 24 * time.Hour)
}

func addToGroup(groups map[string]*group, category, pattern string, severity model.Severity, sessionID string, seenAt time.Time) {
	key := category + "\x00" + pattern
	g, ok := groups[key]
	if !ok {
		g = &group{category: category, pattern: pattern, first: seenAt, last: seenAt}
		groups[key] = g
	}
	g.severities = append(g.severities, severity)
	g.sessionIDs = append(g.sessionIDs, sessionID)
	if seenAt.Before(g.first) {
		g.first = seenAt
	}
	if seenAt.After(g.last) {
		g.last = seenAt
	}
}

func commit(ctx context.Context, store Store, groups map[string]*group) ([]model.LearnedPattern, error) {
	var out []model.LearnedPattern
	for _, g := range groups {
		freq := len(g.severities)
		if freq < minFrequency {
			continue
		}
		confidence := confidenceFor(freq, g.severities)
		if confidence < minConfidence {
			continue
		}

		severity := model.MaxSeverity(g.severities...)
		signature := g.category + ": " + g.pattern
		hash := faildetect.Hash(g.category, g.pattern)

		examples := g.sessionIDs
		if len(examples) > maxExemplars {
			examples = examples[len(examples)-maxExemplars:]
		}

		p := model.LearnedPattern{
			Hash:        hash,
			Category:    g.category,
			Signature:   signature,
			Description: signature,
			Frequency:   freq,
			Severity:    severity,
			FirstSeen:   g.first,
			LastSeen:    g.last,
			Confidence:  confidence,
			Examples:    examples,
		}
		if err := store.UpsertLearnedPattern(ctx, &p); err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

func confidenceFor(freq int, severities []model.Severity) float64 {
	var sumRank int
	for _, s := range severities {
		sumRank += model.SeverityRank(s)
	}
	avgRank := float64(sumRank) / float64(len(severities))

	freqTerm := float64(freq) / 10
	if freqTerm > 0.7 {
		freqTerm = 0.7
	}
	return freqTerm + (avgRank/4)*0.3
}
