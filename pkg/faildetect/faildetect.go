// Package faildetect implements the Failure Detector (spec §4.9): a closed
// set of ~20 categorised regex patterns for known LLM failure signatures,
// each match annotated with severity, a context window, and a remediation
// suggestion, deduplicated by (category, context prefix).
package faildetect

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/guardloop/guardloop/pkg/model"
)

// Detected is one deduplicated failure-pattern match.
type Detected struct {
	Category    string
	Pattern     string
	Severity    model.Severity
	Context     string
	Suggestion  string
}

type rule struct {
	category   string
	re         *regexp.Regexp
	severity   model.Severity
	suggestion string
}

var rules = []rule{
	{"JWT/Auth", regexp.MustCompile(`(?i)jwt\.decode\([^)]*verify\s*=\s*false`), model.SeverityCritical, "never disable JWT signature verification"},
	{"JWT/Auth", regexp.MustCompile(`(?i)algorithm\s*[:=]\s*["']none["']`), model.SeverityCritical, "reject the 'none' JWT algorithm"},
	{".NET DI", regexp.MustCompile(`(?i)services\.AddSingleton[^;]*DbContext`), model.SeverityHigh, "register DbContext as scoped, not singleton"},
	{"File Overwrite", regexp.MustCompile(`\){5,}`), model.SeverityHigh, "output shows corruption sigils; regenerate the response"},
	{"Security", regexp.MustCompile(`(?i)\beval\(|\bexec\(|os\.system\(`), model.SeverityCritical, "avoid eval/exec/shell invocation of untrusted input"},
	{"Security", regexp.MustCompile(`(?i)password\s*=\s*["'][^"']+["']`), model.SeverityHigh, "do not hardcode credentials"},
	{"Looping", regexp.MustCompile(`(?i)stack overflow|infinite (recursion|loop)|maximum recursion depth`), model.SeverityCritical, "add a base case or loop bound"},
	{"Database", regexp.MustCompile(`(?i)select \*.*from.*where.*\+\s*["']|string\s+concat.*sql`), model.SeverityHigh, "use parameterised queries"},
	{"Memory", regexp.MustCompile(`(?i)memory leak|out of memory|OOM\b`), model.SeverityHigh, "release resources / check for unbounded growth"},
	{"Race Condition", regexp.MustCompile(`(?i)race condition|data race|concurrent modification`), model.SeverityHigh, "add synchronisation around shared state"},
	{"Deployment", regexp.MustCompile(`(?i)works on my machine|hardcoded (localhost|127\.0\.0\.1)`), model.SeverityMedium, "parameterise environment-specific values"},
	{"Null Reference", regexp.MustCompile(`(?i)null(pointer)? (reference|exception)|nil pointer dereference`), model.SeverityHigh, "add a nil/null guard"},
	{"Type Error", regexp.MustCompile(`(?i)typeerror|type mismatch|cannot convert`), model.SeverityMedium, "validate types at the boundary"},
	{"Dependency", regexp.MustCompile(`(?i)version conflict|incompatible dependency|peer dependency`), model.SeverityMedium, "pin compatible dependency versions"},
	{"Timeout", regexp.MustCompile(`(?i)request timed out|deadline exceeded|context canceled`), model.SeverityMedium, "review timeout budgets and retries"},
	{"Hallucinated API", regexp.MustCompile(`(?i)no such (method|attribute|function)|module has no attribute`), model.SeverityHigh, "verify the API exists before use"},
	{"Incomplete Output", regexp.MustCompile(`(?i)\btodo\b.*implement|not yet implemented|left as an exercise`), model.SeverityMedium, "complete the implementation"},
	{"Config Drift", regexp.MustCompile(`(?i)missing environment variable|undefined configuration key`), model.SeverityMedium, "document and validate required config"},
	{"Injection", regexp.MustCompile(`(?i)command injection|sql injection|path traversal`), model.SeverityCritical, "sanitise and validate all external input"},
	{"Resource Leak", regexp.MustCompile(`(?i)file (descriptor|handle) leak|connection (pool )?exhausted|unclosed (file|connection)`), model.SeverityHigh, "ensure resources are closed/released"},
}

var severityRank = map[model.Severity]int{
	model.SeverityCritical: 4, model.SeverityHigh: 3, model.SeverityMedium: 2, model.SeverityLow: 1,
}

// Scan applies every rule to text, extracts a ~20-50 word context window
// around each match, deduplicates by (category, context[:100]), and returns
// results ordered by severity descending. tool is informational only.
func Scan(text, tool string) []Detected {
	seen := make(map[string]bool)
	var out []Detected

	for _, r := range rules {
		locs := r.re.FindAllStringIndex(text, -1)
		for _, loc := range locs {
			ctx := contextWindow(text, loc[0], loc[1])
			key := r.category + "|" + truncate(ctx, 100)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Detected{
				Category:   r.category,
				Pattern:    text[loc[0]:loc[1]],
				Severity:   r.severity,
				Context:    ctx,
				Suggestion: r.suggestion,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return severityRank[out[i].Severity] > severityRank[out[j].Severity]
	})
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// contextWindow extracts roughly 20-50 words of surrounding context.
func contextWindow(text string, start, end int) string {
	words := strings.Fields(text)
	// locate the word index containing start by walking the cumulative offset
	var offset int
	matchWordIdx := -1
	for i, w := range words {
		wStart := strings.Index(text[offset:], w) + offset
		wEnd := wStart + len(w)
		offset = wEnd
		if wStart <= start && end <= wEnd+1 || (matchWordIdx == -1 && wStart >= start) {
			matchWordIdx = i
			break
		}
	}
	if matchWordIdx == -1 {
		matchWordIdx = 0
	}
	lo := matchWordIdx - 20
	if lo < 0 {
		lo = 0
	}
	hi := matchWordIdx + 20
	if hi > len(words) {
		hi = len(words)
	}
	return strings.Join(words[lo:hi], " ")
}

// Hash produces the deterministic 256-bit signature hash used by the
// Pattern Analyser (spec §4.12): hex-encoded SHA-256 of "category|pattern".
func Hash(category, pattern string) string {
	sum := sha256.Sum256([]byte(category + "|" + pattern))
	return hex.EncodeToString(sum[:])
}
