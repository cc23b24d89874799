package budget_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guardloop/guardloop/pkg/budget"
	"github.com/guardloop/guardloop/pkg/model"
)

func TestGetBudget(t *testing.T) {
	got := budget.GetBudget("claude-sonnet-4", model.ComplexityMedium)
	assert.Equal(t, 3600, got)
}

func TestAllocateSumsToTotal(t *testing.T) {
	for _, total := range []int{0, 1, 3600, 9999} {
		a := budget.Allocate(total)
		assert.Equal(t, total, a.Core+a.Agents+a.Specialized+a.Learned)
	}
}

func TestAllocateExampleFromSpec(t *testing.T) {
	a := budget.Allocate(3600)
	assert.Equal(t, budget.Allocation{Core: 1080, Agents: 1440, Specialized: 720, Learned: 360}, a)
}

func TestAdjustForModeStrict(t *testing.T) {
	assert.Equal(t, int(100*1.3), budget.AdjustForMode(100, model.ModeStrict))
	assert.Equal(t, 100, budget.AdjustForMode(100, model.ModeStandard))
	assert.Equal(t, 100, budget.AdjustForMode(100, model.Mode("bogus")))
}

func TestEstimateTokensFallbackBoundary(t *testing.T) {
	assert.Equal(t, 10, budget.EstimateTokensFallback(strRepeat("x", 40)))
}

func strRepeat(s string, n int) string {
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s[0])
	}
	return string(out)
}

func TestNormalizeModelAliases(t *testing.T) {
	assert.Equal(t, budget.ClaudeSonnet4, budget.NormalizeModel("Claude-Sonnet-4"))
	assert.Equal(t, budget.DefaultModel, budget.NormalizeModel("unknown-thing"))
}
