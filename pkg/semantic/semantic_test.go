package semantic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guardloop/guardloop/pkg/semantic"
)

func TestFindRelevantEmptyCandidatesReturnsEmpty(t *testing.T) {
	m := semantic.NewMatcher()
	assert.Empty(t, m.FindRelevant("anything", nil, 5, 0.1))
}

func TestFindRelevantRanksByMatchThenID(t *testing.T) {
	m := semantic.NewMatcher()
	rules := []semantic.Rule{
		{ID: "b", Text: "authentication database security"},
		{ID: "a", Text: "authentication database security"},
		{ID: "c", Text: "poem about flowers"},
	}
	m.Index(rules)
	out := m.FindRelevant("authentication database security endpoint", rules, 5, 0.1)
	if assert.GreaterOrEqual(t, len(out), 2) {
		assert.Equal(t, "a", out[0].RuleID)
		assert.Equal(t, "b", out[1].RuleID)
	}
}

func TestFindRelevantStableOrderingAcrossCalls(t *testing.T) {
	m := semantic.NewMatcher()
	rules := []semantic.Rule{{ID: "x", Text: "api endpoint"}, {ID: "y", Text: "api endpoint"}}
	first := m.FindRelevant("api endpoint design", rules, 5, 0.1)
	second := m.FindRelevant("api endpoint design", rules, 5, 0.1)
	assert.Equal(t, first, second)
}
