// Package guardrails implements the Adaptive Guardrail Manager (spec §4.13):
// deriving dynamic rules from learned patterns, their lifecycle, retrieval,
// and effectiveness tracking.
package guardrails

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/guardloop/guardloop/pkg/model"
	"github.com/guardloop/guardloop/pkg/semantic"
)

const semanticThreshold = 0.3

// Store is the persistence surface consumed by the manager.
type Store interface {
	InsertDynamicGuardrail(ctx context.Context, g *model.DynamicGuardrail) (int64, error)
	UpdateGuardrailLifecycle(ctx context.Context, id int64, status model.GuardrailStatus, enforcement model.EnforcementMode, deactivatedAt *int64) error
	GetDynamicGuardrail(ctx context.Context, id int64) (*model.DynamicGuardrail, error)
	ListActiveGuardrails(ctx context.Context) ([]model.DynamicGuardrail, error)
	UpsertRuleEffectiveness(ctx context.Context, ruleID int64, date string, prevented, fp, tp bool, confidence float64) error
	EffectivenessTotals(ctx context.Context, ruleID int64) (triggered, prevented, fp, tp int, err error)
}

// Manager owns the dynamic guardrail lifecycle and retrieval scoring. It
// implements pkg/context.GuardrailProvider.
type Manager struct {
	store   Store
	matcher *semantic.Matcher
}

// NewManager constructs a Manager, indexing into its own semantic matcher.
func NewManager(store Store) *Manager {
	return &Manager{store: store, matcher: semantic.NewMatcher()}
}

// GenerateFromPattern derives a DynamicGuardrail's rule text, category,
// confidence, and initial trial status from a LearnedPattern, and persists
// it.
func (m *Manager) GenerateFromPattern(ctx context.Context, p model.LearnedPattern) (*model.DynamicGuardrail, error) {
	g := &model.DynamicGuardrail{
		PatternID:       p.ID,
		RuleText:        deriveRuleText(p.Description),
		Category:        p.Category,
		Confidence:      p.Confidence,
		Status:          model.StatusTrial,
		EnforcementMode: enforcementForSeverity(p.Severity),
		TaskTypes:       []model.TaskType{model.TaskCode},
		CreatedAt:       time.Now(),
		Creator:         "pattern_analyser",
	}
	id, err := m.store.InsertDynamicGuardrail(ctx, g)
	if err != nil {
		return nil, err
	}
	g.ID = id
	return g, nil
}

// deriveRuleText templates a pattern description into imperative rule text.
func deriveRuleText(description string) string {
	lower := strings.ToLower(description)
	switch {
	case strings.Contains(lower, "missing"):
		return "MUST include: " + description
	case strings.Contains(lower, "forgot") || strings.Contains(lower, "omit"):
		return "DO NOT forget: " + description
	case strings.Contains(lower, "incorrect") || strings.Contains(lower, "wrong"):
		return "AVOID: " + description
	default:
		return "LEARNED: " + description
	}
}

func enforcementForSeverity(s model.Severity) model.EnforcementMode {
	switch s {
	case model.SeverityCritical:
		return model.EnforcementBlock
	case model.SeverityHigh:
		return model.EnforcementAutoFix
	default:
		return model.EnforcementWarn
	}
}

// PromoteToValidated transitions trial → validated. Illegal from any other
// state.
func (m *Manager) PromoteToValidated(ctx context.Context, g *model.DynamicGuardrail) (bool, error) {
	if g.Status != model.StatusTrial {
		return false, nil
	}
	if err := m.store.UpdateGuardrailLifecycle(ctx, g.ID, model.StatusValidated, g.EnforcementMode, nil); err != nil {
		return false, err
	}
	g.Status = model.StatusValidated
	return true, nil
}

// PromoteToEnforced transitions validated → enforced, forcing block mode.
func (m *Manager) PromoteToEnforced(ctx context.Context, g *model.DynamicGuardrail) (bool, error) {
	if g.Status != model.StatusValidated {
		return false, nil
	}
	if err := m.store.UpdateGuardrailLifecycle(ctx, g.ID, model.StatusEnforced, model.EnforcementBlock, nil); err != nil {
		return false, err
	}
	g.Status = model.StatusEnforced
	g.EnforcementMode = model.EnforcementBlock
	return true, nil
}

// Deprecate is legal from any non-deprecated state; it sets deactivated_at
// and never reactivates the row.
func (m *Manager) Deprecate(ctx context.Context, g *model.DynamicGuardrail, reason string) (bool, error) {
	if g.Status == model.StatusDeprecated {
		return false, nil
	}
	now := time.Now().Unix()
	if err := m.store.UpdateGuardrailLifecycle(ctx, g.ID, model.StatusDeprecated, g.EnforcementMode, &now); err != nil {
		return false, err
	}
	g.Status = model.StatusDeprecated
	t := time.Unix(now, 0)
	g.DeactivatedAt = &t
	return true, nil
}

type scored struct {
	g     model.DynamicGuardrail
	score float64
}

// GetActive retrieves guardrails eligible for injection, filtered by task
// type overlap and minConfidence, ranked by the composite priority score
// (or, when useSemantic and prompt are given, filtered first by semantic
// similarity above 0.3 and ranked by that similarity's order), truncated to
// maxRules.
func (m *Manager) GetActive(ctx context.Context, taskType *model.TaskType, minConfidence float64, prompt string, maxRules int, useSemantic bool) ([]model.DynamicGuardrail, error) {
	all, err := m.store.ListActiveGuardrails(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []model.DynamicGuardrail
	for _, g := range all {
		if g.Confidence < minConfidence {
			continue
		}
		if taskType != nil && !taskTypeOverlap(g.TaskTypes, *taskType) {
			continue
		}
		candidates = append(candidates, g)
	}

	if useSemantic && prompt != "" {
		return m.semanticOrder(candidates, prompt, maxRules), nil
	}
	ordered := m.compositeOrder(ctx, candidates, prompt, taskType)
	if maxRules > 0 && len(ordered) > maxRules {
		ordered = ordered[:maxRules]
	}
	return ordered, nil
}

func taskTypeOverlap(types []model.TaskType, want model.TaskType) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

func (m *Manager) semanticOrder(candidates []model.DynamicGuardrail, prompt string, maxRules int) []model.DynamicGuardrail {
	rules := make([]semantic.Rule, 0, len(candidates))
	byID := map[string]model.DynamicGuardrail{}
	for _, g := range candidates {
		id := idKey(g.ID)
		rules = append(rules, semantic.Rule{ID: id, Text: g.RuleText})
		byID[id] = g
	}

	matches := m.matcher.FindRelevant(prompt, rules, maxRules, semanticThreshold)
	out := make([]model.DynamicGuardrail, 0, len(matches))
	for _, match := range matches {
		out = append(out, byID[match.RuleID])
	}
	return out
}

func (m *Manager) compositeOrder(ctx context.Context, candidates []model.DynamicGuardrail, prompt string, taskType *model.TaskType) []model.DynamicGuardrail {
	scoredList := make([]scored, 0, len(candidates))
	for _, g := range candidates {
		scoredList = append(scoredList, scored{g: g, score: m.compositeScore(ctx, g, prompt, taskType)})
	}
	sort.SliceStable(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })

	out := make([]model.DynamicGuardrail, 0, len(scoredList))
	for _, s := range scoredList {
		out = append(out, s.g)
	}
	return out
}

func (m *Manager) compositeScore(ctx context.Context, g model.DynamicGuardrail, prompt string, taskType *model.TaskType) float64 {
	relevance := keywordOverlap(prompt, g.RuleText)
	confidence := g.Confidence
	recency := recencyScore(g.ActivatedAt)
	successRate := m.successRate(ctx, g.ID)
	taskMatch := 0.0
	if taskType != nil && taskTypeOverlap(g.TaskTypes, *taskType) {
		taskMatch = 1.0
	}
	modeWeight := modeWeightFor(g.EnforcementMode)

	return relevance*2 + confidence*2 + recency + successRate*2 + taskMatch + modeWeight
}

func recencyScore(activatedAt *time.Time) float64 {
	if activatedAt == nil {
		return 0
	}
	daysSince := time.Since(*activatedAt).Hours() / 24
	score := 1 - daysSince/30
	if score < 0 {
		return 0
	}
	return score
}

func (m *Manager) successRate(ctx context.Context, ruleID int64) float64 {
	triggered, prevented, fp, _, err := m.store.EffectivenessTotals(ctx, ruleID)
	if err != nil || triggered == 0 {
		return 0
	}
	return float64(prevented-fp) / float64(triggered)
}

func modeWeightFor(mode model.EnforcementMode) float64 {
	switch mode {
	case model.EnforcementBlock:
		return 0.5
	case model.EnforcementAutoFix:
		return 0.3
	default:
		return 0.1
	}
}

func keywordOverlap(prompt, ruleText string) float64 {
	promptWords := wordSet(prompt)
	ruleWords := wordSet(ruleText)
	if len(ruleWords) == 0 {
		return 0
	}
	var hits int
	for w := range ruleWords {
		if promptWords[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(ruleWords))
}

func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[strings.Trim(w, ".,;:!?()[]{}\"'")] = true
	}
	return out
}

// FormatForContext renders guardrail rule texts for injection into the
// augmented prompt.
func FormatForContext(rules []model.DynamicGuardrail) string {
	texts := make([]string, 0, len(rules))
	for _, r := range rules {
		texts = append(texts, r.RuleText)
	}
	return strings.Join(texts, "\n")
}

// TrackEffectiveness records one trigger of a rule for the daily rollup.
func (m *Manager) TrackEffectiveness(ctx context.Context, ruleID int64, prevented, fp, tp bool, confidence float64) error {
	date := time.Now().Format("2006-01-02")
	return m.store.UpsertRuleEffectiveness(ctx, ruleID, date, prevented, fp, tp, confidence)
}

func idKey(id int64) string {
	return "rule-" + strconv.FormatInt(id, 10)
}

// ActiveForContext implements pkg/context.GuardrailProvider: returns
// formatted rule texts for the given task type and prompt, using semantic
// ranking when a prompt is supplied.
func (m *Manager) ActiveForContext(taskType model.TaskType, prompt string, maxRules int) []string {
	rules, err := m.GetActive(context.Background(), &taskType, 0.5, prompt, maxRules, prompt != "")
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.RuleText)
	}
	return out
}
