// Package classifier implements the Task Classifier (spec §4.1): a pure,
// side-effect-free function that labels a prompt as code/content/creative/
// mixed/unknown and decides whether guardrail injection is required.
package classifier

import (
	"regexp"
	"strings"

	"github.com/guardloop/guardloop/pkg/model"
)

var codeKeywords = weighted{
	"authentication": 1.0, "implement": 0.8, "api": 0.9, "endpoint": 0.9,
	"async": 0.7, "function": 0.8, "class": 0.7, "database": 0.8, "backend": 0.8,
	"frontend": 0.7, "react": 0.8, "golang": 0.8, "python": 0.7, "typescript": 0.7,
	"algorithm": 0.8, "refactor": 0.8, "debug": 0.7, "compile": 0.7, "deploy": 0.6,
	"middleware": 0.8, "framework": 0.6, "microservice": 0.8, "rest": 0.6, "grpc": 0.8,
}

var contentKeywords = weighted{
	"article": 0.9, "documentation": 0.8, "paragraph": 0.8, "blog": 0.9,
	"summary": 0.6, "readme": 0.7, "essay": 0.9, "report": 0.7, "newsletter": 0.8,
}

var creativeKeywords = weighted{
	"design": 0.7, "infographic": 0.9, "mockup": 0.9, "logo": 0.9, "illustration": 0.9,
	"poem": 0.9, "story": 0.8, "artwork": 0.9, "wireframe": 0.8, "storyboard": 0.8,
}

var codePatternRegexes = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*(func|def|function|class|interface)\s+\w+`),
	regexp.MustCompile(`(?m)^\s*(import|from|require|using)\s+\S+`),
	regexp.MustCompile(`(?m)\b(if|else|for|while|switch|return)\b\s*[(:{]`),
	regexp.MustCompile(`[{};]\s*$`),
	regexp.MustCompile(`=>|::|->`),
}

var codeExtensions = regexp.MustCompile(`\.(go|py|js|ts|tsx|jsx|java|rb|rs|cpp|c|cs|php|kt|swift)\b`)
var contentExtensions = regexp.MustCompile(`\.(md|txt|docx?|rst)\b`)
var creativeExtensions = regexp.MustCompile(`\.(psd|ai|fig|sketch|svg)\b`)

var creativeMarker = regexp.MustCompile(`(?i)\b(poem|illustration|mockup|infographic|logo design|storyboard)\b`)

type weighted map[string]float64

// score returns the average weight of matched keys found as whole-word
// matches in text, 0 if none matched.
func (w weighted) score(tokens map[string]bool) float64 {
	var sum float64
	var n int
	for kw, weight := range w {
		if tokens[kw] {
			sum += weight
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func tokenize(prompt string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(prompt)) {
		w = strings.Trim(w, ".,!?;:()[]{}\"'")
		if w != "" {
			out[w] = true
		}
	}
	return out
}

// Result is the classifier's verdict for one prompt.
type Result struct {
	TaskType           model.TaskType
	Confidence         float64
	RequiresGuardrails bool
	Features           map[string]float64
	Reasoning          string
}

// Classify implements spec §4.1: five weighted scores combined into three
// composite scores, decided by first-match-wins thresholds.
func Classify(prompt string) Result {
	tokens := tokenize(prompt)
	lower := strings.ToLower(prompt)

	codeKW := codeKeywords.score(tokens)
	contentKW := contentKeywords.score(tokens)
	creativeKW := creativeKeywords.score(tokens)

	var patternHits int
	for _, re := range codePatternRegexes {
		if re.MatchString(prompt) {
			patternHits++
		}
	}
	codePatterns := float64(patternHits) / float64(len(codePatternRegexes))

	var fileExt float64
	switch {
	case codeExtensions.MatchString(lower):
		fileExt = 1
	case contentExtensions.MatchString(lower):
		fileExt = 0.5
	case creativeExtensions.MatchString(lower):
		fileExt = -0.5
	}

	code := 0.5*codeKW + 0.3*codePatterns + 0.2*max0(fileExt)
	creative := 0.8 * creativeKW
	if fileExt == -0.5 {
		creative += 0.2
	}
	content := 0.7 * contentKW

	features := map[string]float64{
		"code_keywords": codeKW, "content_keywords": contentKW, "creative_keywords": creativeKW,
		"code_patterns": codePatterns, "file_extensions": fileExt,
		"code": code, "creative": creative, "content": content,
	}

	switch {
	case code >= 0.6:
		return Result{TaskType: model.TaskCode, Confidence: code, RequiresGuardrails: true, Features: features,
			Reasoning: "code score above threshold"}
	case creative >= 0.7:
		return Result{TaskType: model.TaskCreative, Confidence: creative, RequiresGuardrails: false, Features: features,
			Reasoning: "creative score above threshold"}
	case content >= 0.6:
		return Result{TaskType: model.TaskContent, Confidence: content, RequiresGuardrails: false, Features: features,
			Reasoning: "content score above threshold"}
	case code > 0.3 && (creative > 0.3 || content > 0.3):
		return Result{TaskType: model.TaskMixed, Confidence: max(code, max(creative, content)), RequiresGuardrails: true,
			Features: features, Reasoning: "mixed signals across code and content/creative"}
	default:
		return Result{TaskType: model.TaskUnknown, Confidence: 0, RequiresGuardrails: true, Features: features,
			Reasoning: "no score crossed a threshold; safe default"}
	}
}

// IsCreativeMarker reports whether the prompt contains a creative override
// marker, used by the Smart Guardrail Selector (spec §4.3 step 5).
func IsCreativeMarker(prompt string) bool {
	return creativeMarker.MatchString(prompt)
}

func max0(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
