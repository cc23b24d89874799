package reviewer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guardloop/guardloop/pkg/parser"
	"github.com/guardloop/guardloop/pkg/reviewer"
)

func TestEvaluatorIsTerminal(t *testing.T) {
	d := reviewer.Roster["evaluator"].Evaluate(reviewer.AgentContext{})
	assert.Empty(t, d.NextAgent)
}

func TestRunChainHaltsOnNonApproved(t *testing.T) {
	ctx := reviewer.AgentContext{
		Parsed:     parser.ParsedResponse{}, // no code block -> architect and coder fail
		Violations: nil,
	}
	decisions := reviewer.RunChain([]string{"architect", "coder", "tester"}, ctx)
	assert.NotEmpty(t, decisions)
	assert.False(t, decisions[len(decisions)-1].Approved)
}

func TestCoderApprovesWithCodeAndErrorHandling(t *testing.T) {
	p := parser.Parse("```go\nfunc f() { defer func() { recover() }() }\n```\ntry/catch semantics via recover")
	ctx := reviewer.AgentContext{Parsed: p, RawOutput: "try/catch semantics via recover"}
	d := reviewer.Roster["coder"].Evaluate(ctx)
	assert.True(t, d.Approved)
	assert.Equal(t, "tester", d.NextAgent)
}

func TestConfidenceRange(t *testing.T) {
	d := reviewer.Roster["tester"].Evaluate(reviewer.AgentContext{Parsed: parser.ParsedResponse{}})
	assert.GreaterOrEqual(t, d.Confidence, 0.0)
	assert.LessOrEqual(t, d.Confidence, 1.0)
}
