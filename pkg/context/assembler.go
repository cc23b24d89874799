// Package context implements the Context Assembler (spec §4.5): a TTL-cached
// composer of the final augmented prompt sent to the wrapped tool.
package context

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/guardloop/guardloop/internal/log"
	"github.com/guardloop/guardloop/pkg/budget"
	"github.com/guardloop/guardloop/pkg/classifier"
	"github.com/guardloop/guardloop/pkg/model"
	"github.com/guardloop/guardloop/pkg/selector"
	"go.uber.org/zap"
)

const (
	staticBudget       = 5000
	warnThresholdToken = 50000
	defaultTTL         = 300 * time.Second
)

// GuardrailProvider supplies active dynamic guardrails for injection
// (implemented by pkg/guardrails.Manager); kept as an interface here to
// avoid a storage/adaptive-manager import cycle.
type GuardrailProvider interface {
	ActiveForContext(taskType model.TaskType, prompt string, maxRules int) []string
}

type cacheKey struct {
	agent    string
	mode     model.Mode
	taskType model.TaskType
}

type cacheEntry struct {
	body    string
	expires time.Time
}

// Assembler composes augmented prompts from the guardrail catalogue, active
// dynamic guardrails, and agent instruction files, behind a single-writer
// TTL cache.
type Assembler struct {
	mu         sync.Mutex
	cache      map[cacheKey]cacheEntry
	ttl        time.Duration
	catalogue  *selector.Catalogue
	guardrails GuardrailProvider
	agentsPath string
}

// NewAssembler constructs an Assembler and pre-warms high-frequency keys
// (always/security/testing baselines; auth/api/database specialisations at
// standard mode) to eliminate cold-start latency (spec §4.5).
func NewAssembler(catalogue *selector.Catalogue, guardrails GuardrailProvider, agentsPath string) *Assembler {
	a := &Assembler{
		cache:      make(map[cacheKey]cacheEntry),
		ttl:        defaultTTL,
		catalogue:  catalogue,
		guardrails: guardrails,
		agentsPath: agentsPath,
	}
	a.prewarm()
	return a
}

func (a *Assembler) prewarm() {
	keys := []cacheKey{
		{agent: "", mode: model.ModeStandard, taskType: model.TaskCode},
		{agent: "", mode: model.ModeStandard, taskType: model.TaskUnknown},
	}
	for _, k := range keys {
		body := a.staticBody(k.taskType, "", k.mode)
		a.put(k, body)
	}
}

// BuildContext implements spec §4.5's seven-step assembly. For creative/
// content tasks it short-circuits to the bare prompt (no policy injection).
// The second return value names the dynamic guardrails actually injected,
// for callers that need to report them (e.g. AIResult.GuardrailsApplied).
func (a *Assembler) BuildContext(prompt, agent string, mode model.Mode, taskType *model.TaskType) (string, []string) {
	var tt model.TaskType
	if taskType != nil {
		tt = *taskType
	} else {
		tt = classifier.Classify(prompt).TaskType
	}

	if tt == model.TaskCreative || tt == model.TaskContent {
		return prompt, nil
	}

	key := cacheKey{agent: agent, mode: mode, taskType: tt}
	staticBody, fromCache := a.get(key)
	if !fromCache {
		staticBody = a.staticBody(tt, agent, mode)
		a.put(key, staticBody)
	}

	var dynamicRules []string
	if a.guardrails != nil {
		dynamicRules = a.guardrails.ActiveForContext(tt, prompt, 5)
	}

	instructions := a.agentInstructions(agent, mode)

	envelope := a.renderEnvelope(staticBody, dynamicRules, mode, instructions, prompt)

	if budget.EstimateTokens(envelope) > warnThresholdToken {
		log.Warn("augmented prompt exceeds estimated token warning threshold",
			zap.Int("estimated_tokens", budget.EstimateTokens(envelope)))
	}
	return envelope, dynamicRules
}

func (a *Assembler) staticBody(tt model.TaskType, agent string, mode model.Mode) string {
	tokenBudget := staticBudget
	files := a.catalogue.Select(tt, "", mode, tokenBudget)

	var parts []string
	for _, f := range files {
		if f.Content == "" {
			log.Warn("missing guardrail policy file body", zap.String("id", f.ID), zap.String("path", f.Path))
			continue
		}
		parts = append(parts, f.Content)
	}
	return strings.Join(parts, "\n---\n")
}

func (a *Assembler) agentInstructions(agent string, mode model.Mode) string {
	if agent == "" {
		return ""
	}
	variant := "summary.md"
	if mode == model.ModeStrict {
		variant = "checklist.md"
	}
	path := filepath.Join(a.agentsPath, agent, variant)
	content, err := os.ReadFile(path)
	if err != nil {
		log.Warn("missing agent instruction file", zap.String("path", path), zap.Error(err))
		return ""
	}
	return string(content)
}

func (a *Assembler) renderEnvelope(staticBody string, dynamicRules []string, mode model.Mode, instructions, prompt string) string {
	var b strings.Builder
	b.WriteString("<guardrails>\n")
	b.WriteString(staticBody)
	if len(dynamicRules) > 0 {
		b.WriteString("\n---\n")
		b.WriteString(strings.Join(dynamicRules, "\n"))
	}
	b.WriteString(fmt.Sprintf("\n<mode>%s</mode>\n", mode))
	b.WriteString(modeInstructions(mode))
	b.WriteString("</guardrails>\n")
	if instructions != "" {
		b.WriteString("<system_instructions>\n")
		b.WriteString(instructions)
		b.WriteString("\n</system_instructions>\n")
	}
	b.WriteString("<user_request>\n")
	b.WriteString(prompt)
	b.WriteString("\n</user_request>")
	return b.String()
}

func modeInstructions(mode model.Mode) string {
	if mode == model.ModeStrict {
		return "<mode_instructions>Block on any critical violation or failure.</mode_instructions>\n"
	}
	return "<mode_instructions>Advisory only; log and proceed.</mode_instructions>\n"
}

func (a *Assembler) get(key cacheKey) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.cache[key]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expires) {
		delete(a.cache, key)
		return "", false
	}
	return entry.body, true
}

func (a *Assembler) put(key cacheKey, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[key] = cacheEntry{body: body, expires: time.Now().Add(a.ttl)}
}

// Invalidate drops every cached entry. A pkg/selector.WatchCatalogue
// callback can call it; cmd/guardloopd starts no watcher, so there cached
// entries expire only by TTL.
func (a *Assembler) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = make(map[cacheKey]cacheEntry)
}
