package chain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guardloop/guardloop/pkg/chain"
	"github.com/guardloop/guardloop/pkg/model"
)

func TestSelectChainStrictAlwaysContainsMandatoryReviewers(t *testing.T) {
	for _, tt := range []model.TaskType{model.TaskCode, model.TaskContent, model.TaskMixed, model.TaskUnknown} {
		agents := chain.SelectChain(tt, model.ModeStrict, "")
		assert.Contains(t, agents, "secops")
		assert.Contains(t, agents, "standards_oracle")
		assert.Contains(t, agents, "evaluator")
	}
}

func TestSelectChainUserSpecifiedOverrides(t *testing.T) {
	agents := chain.SelectChain(model.TaskCode, model.ModeStrict, "Coder")
	assert.Equal(t, []string{"coder"}, agents)
}

func TestSelectChainDedupesPreservingFirstOccurrence(t *testing.T) {
	agents := chain.SelectChain(model.TaskUnknown, model.ModeStandard, "")
	seen := make(map[string]bool)
	for _, a := range agents {
		assert.False(t, seen[a], "duplicate agent %s", a)
		seen[a] = true
	}
}

func TestComplexityBands(t *testing.T) {
	assert.Equal(t, model.ComplexityMedium, chain.Complexity(model.TaskUnknown))
}
