package guardrails_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardloop/guardloop/pkg/guardrails"
	"github.com/guardloop/guardloop/pkg/model"
)

type fakeStore struct {
	nextID      int64
	guardrails  map[int64]*model.DynamicGuardrail
	effectiveness map[int64][4]int // triggered, prevented, fp, tp
}

func newFakeStore() *fakeStore {
	return &fakeStore{guardrails: map[int64]*model.DynamicGuardrail{}, effectiveness: map[int64][4]int{}}
}

func (f *fakeStore) InsertDynamicGuardrail(ctx context.Context, g *model.DynamicGuardrail) (int64, error) {
	f.nextID++
	cp := *g
	cp.ID = f.nextID
	f.guardrails[f.nextID] = &cp
	return f.nextID, nil
}

func (f *fakeStore) UpdateGuardrailLifecycle(ctx context.Context, id int64, status model.GuardrailStatus, enforcement model.EnforcementMode, deactivatedAt *int64) error {
	g := f.guardrails[id]
	g.Status = status
	g.EnforcementMode = enforcement
	if deactivatedAt != nil {
		t := time.Unix(*deactivatedAt, 0)
		g.DeactivatedAt = &t
	}
	return nil
}

func (f *fakeStore) GetDynamicGuardrail(ctx context.Context, id int64) (*model.DynamicGuardrail, error) {
	return f.guardrails[id], nil
}

func (f *fakeStore) ListActiveGuardrails(ctx context.Context) ([]model.DynamicGuardrail, error) {
	var out []model.DynamicGuardrail
	for _, g := range f.guardrails {
		if (g.Status == model.StatusValidated || g.Status == model.StatusEnforced) && g.DeactivatedAt == nil {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertRuleEffectiveness(ctx context.Context, ruleID int64, date string, prevented, fp, tp bool, confidence float64) error {
	e := f.effectiveness[ruleID]
	e[0]++
	if prevented {
		e[1]++
	}
	if fp {
		e[2]++
	}
	if tp {
		e[3]++
	}
	f.effectiveness[ruleID] = e
	return nil
}

func (f *fakeStore) EffectivenessTotals(ctx context.Context, ruleID int64) (triggered, prevented, fp, tp int, err error) {
	e := f.effectiveness[ruleID]
	return e[0], e[1], e[2], e[3], nil
}

func TestGenerateFromPatternDerivesRuleTextByKeyword(t *testing.T) {
	store := newFakeStore()
	m := guardrails.NewManager(store)
	ctx := context.Background()

	g, err := m.GenerateFromPattern(ctx, model.LearnedPattern{ID: 1, Category: "JWT/Auth", Description: "missing token expiry check", Severity: model.SeverityCritical, Confidence: 0.8})
	require.NoError(t, err)
	assert.Contains(t, g.RuleText, "MUST include:")
	assert.Equal(t, model.EnforcementBlock, g.EnforcementMode)
	assert.Equal(t, model.StatusTrial, g.Status)
}

func TestLifecycleTransitionsAreMonotonic(t *testing.T) {
	store := newFakeStore()
	m := guardrails.NewManager(store)
	ctx := context.Background()

	g, err := m.GenerateFromPattern(ctx, model.LearnedPattern{ID: 1, Category: "X", Description: "forgot validation", Severity: model.SeverityLow, Confidence: 0.7})
	require.NoError(t, err)

	ok, err := m.PromoteToEnforced(ctx, g)
	require.NoError(t, err)
	assert.False(t, ok, "cannot skip validated")

	ok, err = m.PromoteToValidated(ctx, g)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.PromoteToEnforced(ctx, g)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.EnforcementBlock, g.EnforcementMode)

	ok, err = m.Deprecate(ctx, g, "false positive rate too high")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Deprecate(ctx, g, "again")
	require.NoError(t, err)
	assert.False(t, ok, "deprecated is terminal")
}

func TestGetActiveFiltersByConfidenceAndTaskType(t *testing.T) {
	store := newFakeStore()
	m := guardrails.NewManager(store)
	ctx := context.Background()

	g1, _ := m.GenerateFromPattern(ctx, model.LearnedPattern{Category: "A", Description: "missing auth", Confidence: 0.9, Severity: model.SeverityHigh})
	m.PromoteToValidated(ctx, g1)
	g2, _ := m.GenerateFromPattern(ctx, model.LearnedPattern{Category: "B", Description: "missing tests", Confidence: 0.2, Severity: model.SeverityLow})
	m.PromoteToValidated(ctx, g2)

	tt := model.TaskCode
	active, err := m.GetActive(ctx, &tt, 0.5, "", 10, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, g1.ID, active[0].ID)
}

func TestTrackEffectivenessAccumulates(t *testing.T) {
	store := newFakeStore()
	m := guardrails.NewManager(store)
	ctx := context.Background()

	require.NoError(t, m.TrackEffectiveness(ctx, 1, true, false, true, 0.9))
	require.NoError(t, m.TrackEffectiveness(ctx, 1, true, false, true, 0.9))

	triggered, prevented, fp, tp, err := store.EffectivenessTotals(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, triggered)
	assert.Equal(t, 2, prevented)
	assert.Equal(t, 0, fp)
	assert.Equal(t, 2, tp)
}

func TestFormatForContextJoinsRuleTexts(t *testing.T) {
	out := guardrails.FormatForContext([]model.DynamicGuardrail{{RuleText: "a"}, {RuleText: "b"}})
	assert.Equal(t, "a\nb", out)
}
