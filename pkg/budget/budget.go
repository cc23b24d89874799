// Package budget implements the Budget Manager (spec §4.2): per-model token
// budgets scaled by task complexity and enforcement mode, plus a token
// estimator backed by tiktoken-go with a chars/4 fallback.
package budget

import (
	"strings"
	"sync"

	"github.com/guardloop/guardloop/pkg/model"
	"github.com/pkoukk/tiktoken-go"
)

// Model is the closed set of normalised model identifiers.
type Model string

const (
	ClaudeOpus4   Model = "claude-opus-4"
	ClaudeSonnet4 Model = "claude-sonnet-4"
	ClaudeHaiku   Model = "claude-haiku"
	GPT4          Model = "gpt-4"
	GPT4Turbo     Model = "gpt-4-turbo"
	GPT35Turbo    Model = "gpt-3.5-turbo"
	GeminiPro     Model = "gemini-pro"
	GeminiUltra   Model = "gemini-ultra"
	DefaultModel  Model = "default"
)

var modelBudget = map[Model]int{
	ClaudeOpus4: 8000, ClaudeSonnet4: 6000, ClaudeHaiku: 4000,
	GPT4: 6000, GPT4Turbo: 7000, GPT35Turbo: 3000,
	GeminiPro: 5000, GeminiUltra: 7000, DefaultModel: 4000,
}

// aliases maps casing/alias variants onto the closed Model set.
var aliases = map[string]Model{
	"claude-opus-4": ClaudeOpus4, "opus": ClaudeOpus4, "claude-opus": ClaudeOpus4,
	"claude-sonnet-4": ClaudeSonnet4, "sonnet": ClaudeSonnet4, "claude-sonnet": ClaudeSonnet4, "claude": ClaudeSonnet4,
	"claude-haiku": ClaudeHaiku, "haiku": ClaudeHaiku,
	"gpt-4": GPT4, "gpt4": GPT4,
	"gpt-4-turbo": GPT4Turbo, "gpt4-turbo": GPT4Turbo, "gpt-4turbo": GPT4Turbo,
	"gpt-3.5-turbo": GPT35Turbo, "gpt3.5": GPT35Turbo, "gpt-3.5": GPT35Turbo,
	"gemini-pro": GeminiPro, "gemini": GeminiPro,
	"gemini-ultra": GeminiUltra,
}

// NormalizeModel performs the fuzzy lookup from spec §4.2.
func NormalizeModel(raw string) Model {
	key := strings.ToLower(strings.TrimSpace(raw))
	if m, ok := aliases[key]; ok {
		return m
	}
	return DefaultModel
}

var complexityMultiplier = map[model.Complexity]float64{
	model.ComplexitySimple: 0.3, model.ComplexityMedium: 0.6,
	model.ComplexityComplex: 0.9, model.ComplexityCritical: 1.0,
}

// GetBudget computes ⌊base(model)·multiplier(complexity)⌋.
func GetBudget(rawModel string, complexity model.Complexity) int {
	base := modelBudget[NormalizeModel(rawModel)]
	mult, ok := complexityMultiplier[complexity]
	if !ok {
		mult = 0.6
	}
	return int(float64(base) * mult)
}

// Allocation is the per-request budget split (spec §4.2).
type Allocation struct {
	Core        int
	Agents      int
	Specialized int
	Learned     int
}

var allocationRatios = struct{ core, agents, specialized, learned float64 }{0.30, 0.40, 0.20, 0.10}

// Allocate splits total tokens across the four buckets; rounding remainder
// is added to Core so the sum always equals total exactly.
func Allocate(total int) Allocation {
	core := int(float64(total) * allocationRatios.core)
	agents := int(float64(total) * allocationRatios.agents)
	specialized := int(float64(total) * allocationRatios.specialized)
	learned := int(float64(total) * allocationRatios.learned)

	remainder := total - (core + agents + specialized + learned)
	core += remainder

	return Allocation{Core: core, Agents: agents, Specialized: specialized, Learned: learned}
}

// AdjustForMode scales tokens by 1.3 in strict mode; standard and unknown
// modes are identity.
func AdjustForMode(tokens int, mode model.Mode) int {
	if mode == model.ModeStrict {
		return int(float64(tokens) * 1.3)
	}
	return tokens
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	return enc
}

// EstimateTokens counts tokens with tiktoken's cl100k_base encoding when
// available, falling back to the spec's chars/4 heuristic (spec §4.2, used
// also by the Conversation Manager in §4.14) when the encoder failed to
// load.
func EstimateTokens(text string) int {
	if e := encoding(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return EstimateTokensFallback(text)
}

// EstimateTokensFallback is the spec's deterministic chars/4 heuristic,
// pinned for property tests that need the exact "4·N chars → N tokens"
// boundary behaviour regardless of whether tiktoken's encoder is loaded.
func EstimateTokensFallback(text string) int {
	return len(text) / 4
}
