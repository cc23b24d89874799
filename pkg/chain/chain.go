// Package chain implements the Agent Chain Optimiser (spec §4.10): picks an
// ordered reviewer chain for a task type and enforcement mode, injecting
// mandatory reviewers under strict mode.
package chain

import (
	"strings"

	"github.com/guardloop/guardloop/pkg/model"
)

var defaultChain = []string{"architect", "coder", "tester"}

var taskChains = map[model.TaskType][]string{
	model.TaskCode:    {"architect", "coder", "tester", "documentation"},
	model.TaskContent: {"business_analyst", "documentation"},
	model.TaskMixed:   {"architect", "coder", "tester", "ux_designer"},
	model.TaskUnknown: defaultChain,
}

// SelectChain implements spec §4.10. If userSpecified is non-empty, the
// chain is just that single (normalised) agent. Otherwise the task-type
// table is consulted, defaulting to the medium chain for unknown types. In
// strict mode, secops is injected before the first coder/tester occurrence,
// then standards_oracle and evaluator are appended if absent. The result is
// deduplicated preserving first occurrence.
func SelectChain(taskType model.TaskType, mode model.Mode, userSpecified string) []string {
	if n := normalize(userSpecified); n != "" {
		return []string{n}
	}

	base, ok := taskChains[taskType]
	if !ok {
		base = defaultChain
	}
	agents := append([]string(nil), base...)

	if mode == model.ModeStrict {
		agents = injectStrict(agents)
	}

	return dedupe(agents)
}

func injectStrict(agents []string) []string {
	if !contains(agents, "secops") {
		idx := firstIndexAny(agents, "coder", "tester")
		if idx == -1 {
			idx = len(agents)
		}
		agents = insertAt(agents, idx, "secops")
	}
	if !contains(agents, "standards_oracle") {
		agents = append(agents, "standards_oracle")
	}
	if !contains(agents, "evaluator") {
		agents = append(agents, "evaluator")
	}
	return agents
}

func normalize(agent string) string {
	return strings.ToLower(strings.TrimSpace(agent))
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func firstIndexAny(s []string, targets ...string) int {
	for i, x := range s {
		for _, t := range targets {
			if x == t {
				return i
			}
		}
	}
	return -1
}

func insertAt(s []string, idx int, v string) []string {
	out := make([]string, 0, len(s)+1)
	out = append(out, s[:idx]...)
	out = append(out, v)
	out = append(out, s[idx:]...)
	return out
}

func dedupe(s []string) []string {
	seen := make(map[string]bool, len(s))
	out := make([]string, 0, len(s))
	for _, x := range s {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	return out
}

// Complexity derives the discrete complexity label from chain length
// (spec §4.10): ≤2 simple; 3–5 medium; 6–8 complex; ≥9 critical. These
// explicit spec bands take precedence over the source implementation's
// differing numeric bands.
func Complexity(taskType model.TaskType) model.Complexity {
	n := len(SelectChain(taskType, model.ModeStandard, ""))
	switch {
	case n <= 2:
		return model.ComplexitySimple
	case n <= 5:
		return model.ComplexityMedium
	case n <= 8:
		return model.ComplexityComplex
	default:
		return model.ComplexityCritical
	}
}
