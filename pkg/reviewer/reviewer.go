// Package reviewer implements the Agent Reviewers (spec §4.11): a fixed
// roster of ~13 pure heuristic functions over a parsed response, each a
// closed Reviewer with a data-driven check list, never performing I/O.
package reviewer

import (
	"fmt"
	"strings"

	"github.com/guardloop/guardloop/pkg/faildetect"
	"github.com/guardloop/guardloop/pkg/model"
	"github.com/guardloop/guardloop/pkg/parser"
)

// AgentContext bundles everything a reviewer needs to evaluate a response.
type AgentContext struct {
	Prompt     string
	Mode       model.Mode
	Parsed     parser.ParsedResponse
	Violations []model.Violation
	Failures   []faildetect.Detected
	RawOutput  string
	Tool       string
}

// AgentDecision is a reviewer's verdict.
type AgentDecision struct {
	Approved    bool
	Reason      string
	Suggestions []string
	NextAgent   string
	Confidence  float64
}

// Reviewer is the closed capability every agent implements.
type Reviewer interface {
	Name() string
	Evaluate(ctx AgentContext) AgentDecision
}

// check is one heuristic keyword/structural assertion; Triggers reports an
// issue (true = problem found).
type check struct {
	description string
	triggers    func(AgentContext) bool
}

// heuristicReviewer runs a data-driven list of checks and derives its
// decision/confidence from the issue ratio (spec §4.11):
//   confidence = 1 - (issues/checks)*0.3 when approved
//   confidence = 0.5 + (issues/checks)*0.3 when not approved
type heuristicReviewer struct {
	name       string
	checks     []check
	nextAgent  string
	terminal   bool
}

func (r heuristicReviewer) Name() string { return r.name }

func (r heuristicReviewer) Evaluate(ctx AgentContext) AgentDecision {
	var issues int
	var suggestions []string
	for _, c := range r.checks {
		if c.triggers(ctx) {
			issues++
			suggestions = append(suggestions, c.description)
		}
	}
	n := len(r.checks)
	if n == 0 {
		n = 1
	}
	ratio := float64(issues) / float64(n)

	approved := issues == 0
	var confidence float64
	var reason string
	if approved {
		confidence = 1 - ratio*0.3
		reason = fmt.Sprintf("%s: no issues found", r.name)
	} else {
		confidence = 0.5 + ratio*0.3
		reason = fmt.Sprintf("%s: %d issue(s) found", r.name, issues)
	}

	next := ""
	if approved && !r.terminal {
		next = r.nextAgent
	}

	return AgentDecision{Approved: approved, Reason: reason, Suggestions: suggestions, NextAgent: next, Confidence: confidence}
}

func hasCodeBlock(ctx AgentContext) bool { return len(ctx.Parsed.CodeBlocks) > 0 }

func missingLexeme(words ...string) func(AgentContext) bool {
	return func(ctx AgentContext) bool {
		lower := strings.ToLower(ctx.RawOutput)
		for _, w := range words {
			if strings.Contains(lower, w) {
				return false
			}
		}
		return true
	}
}

func hasCriticalFailure(ctx AgentContext) bool {
	for _, f := range ctx.Failures {
		if f.Severity == model.SeverityCritical {
			return true
		}
	}
	return false
}

func hasAnyViolation(ctx AgentContext) bool { return len(ctx.Violations) > 0 }

// Roster is the fixed set of ~13 reviewers, configuration-driven as data.
var Roster = map[string]Reviewer{
	"architect": heuristicReviewer{name: "architect", nextAgent: "coder", checks: []check{
		{"no code block present to review architecture", func(ctx AgentContext) bool { return !hasCodeBlock(ctx) }},
		{"response lacks any structural keyword (layer/module/service)", missingLexeme("layer", "module", "service", "component")},
	}},
	"business_analyst": heuristicReviewer{name: "business_analyst", nextAgent: "documentation", checks: []check{
		{"no explanation paragraphs describing business value", func(ctx AgentContext) bool { return len(ctx.Parsed.Explanations) == 0 }},
	}},
	"coder": heuristicReviewer{name: "coder", nextAgent: "tester", checks: []check{
		{"no code block produced", func(ctx AgentContext) bool { return !hasCodeBlock(ctx) }},
		{"missing error handling lexeme", func(ctx AgentContext) bool { return !ctx.Parsed.Metadata.HasErrorHandling }},
	}},
	"dba": heuristicReviewer{name: "dba", nextAgent: "secops", checks: []check{
		{"no database lexeme present", missingLexeme("database", "sql", "query", "schema")},
	}},
	"debug_hunter": heuristicReviewer{name: "debug_hunter", nextAgent: "tester", checks: []check{
		{"a critical failure pattern was detected", hasCriticalFailure},
	}},
	"documentation": heuristicReviewer{name: "documentation", nextAgent: "evaluator", checks: []check{
		{"no explanation text accompanies the output", func(ctx AgentContext) bool { return len(ctx.Parsed.Explanations) == 0 }},
	}},
	"evaluator": heuristicReviewer{name: "evaluator", terminal: true, checks: []check{
		{"unresolved violations remain", hasAnyViolation},
		{"a critical failure pattern was detected", hasCriticalFailure},
	}},
	"secops": heuristicReviewer{name: "secops", nextAgent: "standards_oracle", checks: []check{
		{"missing security lexeme", func(ctx AgentContext) bool { return !ctx.Parsed.Metadata.HasSecurity }},
		{"a critical failure pattern was detected", hasCriticalFailure},
	}},
	"sre": heuristicReviewer{name: "sre", nextAgent: "standards_oracle", checks: []check{
		{"no observability lexeme (logging/metrics/monitoring)", missingLexeme("logging", "metrics", "monitoring", "logger")},
	}},
	"standards_oracle": heuristicReviewer{name: "standards_oracle", nextAgent: "evaluator", checks: []check{
		{"unresolved violations remain", hasAnyViolation},
	}},
	"tester": heuristicReviewer{name: "tester", nextAgent: "evaluator", checks: []check{
		{"missing test lexeme", func(ctx AgentContext) bool { return !ctx.Parsed.Metadata.HasTests }},
		{"no test coverage figure reported", func(ctx AgentContext) bool { return ctx.Parsed.TestCoverage == nil }},
	}},
	"ux_designer": heuristicReviewer{name: "ux_designer", nextAgent: "documentation", checks: []check{
		{"a UX/UI violation was raised", func(ctx AgentContext) bool {
			for _, v := range ctx.Violations {
				if v.GuardrailType == model.GuardrailUXUI {
					return true
				}
			}
			return false
		}},
	}},
	"orchestrator": heuristicReviewer{name: "orchestrator", checks: []check{
		{"no reviewers ran", func(ctx AgentContext) bool { return false }},
	}},
}

// RunChain executes reviewers in order; a non-approved decision halts the
// chain (spec §4.11). Returns one decision per reviewer actually run.
func RunChain(agents []string, ctx AgentContext) []AgentDecision {
	var decisions []AgentDecision
	for _, name := range agents {
		r, ok := Roster[name]
		if !ok {
			continue
		}
		d := r.Evaluate(ctx)
		decisions = append(decisions, d)
		if !d.Approved {
			break
		}
	}
	return decisions
}
