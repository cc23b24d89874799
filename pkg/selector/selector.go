// Package selector implements the Smart Guardrail Selector (spec §4.3): a
// fixed catalogue of policy files, scored and greedily chosen under a token
// budget for a given task type, prompt and mode.
package selector

import (
	"sort"
	"strings"

	"github.com/guardloop/guardloop/pkg/classifier"
	"github.com/guardloop/guardloop/pkg/model"
)

// Category is the closed set of policy-file categories.
type Category string

const (
	CategoryCore        Category = "core"
	CategorySpecialized Category = "specialized"
)

// Priority 1 = mandatory always-file; 2 = other core; 3 = specialized.
type File struct {
	ID            string
	Category      Category
	Keywords      map[string]bool
	TokenEstimate int
	Priority      int
	// Path is the file's on-disk location, empty for baked-in defaults.
	Path string
	// Content is the file's real markdown body, read once at catalogue load
	// time so the Context Assembler never has to re-read or fabricate it.
	Content string
}

const alwaysFileID = "core/always"

// Catalogue is the fixed, data-driven set of policy files known to the
// selector. It is populated at construction from the on-disk index built by
// LoadCatalogue (spec §9: "markdown policy files as data... model as an
// opaque blob plus an index record").
type Catalogue struct {
	files      []File
	byID       map[string]File
	taskToFile map[model.TaskType][]string
}

// NewCatalogue builds a catalogue from an explicit file list, useful for
// tests and for in-memory defaults; production wiring uses LoadCatalogue.
func NewCatalogue(files []File, taskMap map[model.TaskType][]string) *Catalogue {
	byID := make(map[string]File, len(files))
	for _, f := range files {
		byID[f.ID] = f
	}
	return &Catalogue{files: files, byID: byID, taskToFile: taskMap}
}

// DefaultCatalogue returns the baked-in default policy index, mirroring the
// shipped markdown set named in spec §4.5 (always, security baseline,
// testing baseline, auth/api/database specialisations).
func DefaultCatalogue() *Catalogue {
	files := []File{
		{ID: alwaysFileID, Category: CategoryCore, Priority: 1, TokenEstimate: 400,
			Keywords: kw("standards", "quality", "always"), Content: defaultAlwaysBody},
		{ID: "core/security", Category: CategoryCore, Priority: 2, TokenEstimate: 900,
			Keywords: kw("security", "auth", "authentication", "rbac", "mfa"), Content: defaultSecurityBody},
		{ID: "core/testing", Category: CategoryCore, Priority: 2, TokenEstimate: 700,
			Keywords: kw("test", "testing", "coverage", "unit", "e2e"), Content: defaultTestingBody},
		{ID: "specialized/auth", Category: CategorySpecialized, Priority: 3, TokenEstimate: 600,
			Keywords: kw("authentication", "oauth", "jwt", "session", "login"), Content: defaultAuthBody},
		{ID: "specialized/api", Category: CategorySpecialized, Priority: 3, TokenEstimate: 600,
			Keywords: kw("api", "endpoint", "rest", "grpc", "contract"), Content: defaultAPIBody},
		{ID: "specialized/database", Category: CategorySpecialized, Priority: 3, TokenEstimate: 700,
			Keywords: kw("database", "sql", "schema", "migration", "query"), Content: defaultDatabaseBody},
	}
	taskMap := map[model.TaskType][]string{
		model.TaskCode:  {"core/security", "core/testing", "specialized/api"},
		model.TaskMixed: {"core/security"},
	}
	return NewCatalogue(files, taskMap)
}

// Baked-in bodies used when no guardrails directory is configured on disk
// (selector.LoadCatalogue falls back to DefaultCatalogue in that case).
const (
	defaultAlwaysBody = "# Always\n\n" +
		"- Prefer small, focused diffs over sweeping rewrites.\n" +
		"- Never fabricate file paths, APIs, or test results.\n" +
		"- State assumptions explicitly when the prompt is ambiguous.\n"
	defaultSecurityBody = "# Security Baseline\n\n" +
		"- Never hardcode credentials, tokens, or secrets.\n" +
		"- Validate and sanitize all external input before use.\n" +
		"- Use parameterized queries; never build SQL by string concatenation.\n" +
		"- Authentication and authorization checks must precede the action they guard.\n"
	defaultTestingBody = "# Testing Baseline\n\n" +
		"- New behavior ships with tests that exercise it.\n" +
		"- Prefer table-driven tests over repeated near-identical cases.\n" +
		"- Do not assert on implementation details that aren't part of the contract.\n"
	defaultAuthBody = "# Authentication\n\n" +
		"- Sessions and tokens must have an explicit expiry.\n" +
		"- Store only hashed credentials, never plaintext.\n" +
		"- OAuth/JWT validation must check signature, issuer, and expiry.\n"
	defaultAPIBody = "# API Contracts\n\n" +
		"- Every endpoint validates its input shape before acting on it.\n" +
		"- Breaking changes to a published contract require a version bump.\n" +
		"- Error responses carry a stable machine-readable code.\n"
	defaultDatabaseBody = "# Database\n\n" +
		"- Schema changes ship as reversible migrations.\n" +
		"- Queries touching user data go through the access layer, not raw SQL in handlers.\n" +
		"- Long-running migrations run outside the request path.\n"
)

func kw(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Select implements spec §4.3's six-step procedure, returning files sorted
// by priority.
func (c *Catalogue) Select(taskType model.TaskType, prompt string, mode model.Mode, tokenBudget int) []File {
	chosen := map[string]bool{alwaysFileID: true}
	used := c.byID[alwaysFileID].TokenEstimate

	// Step 2: task-mapped files.
	for _, id := range c.taskToFile[taskType] {
		f, ok := c.byID[id]
		if !ok || chosen[id] {
			continue
		}
		if used+f.TokenEstimate <= tokenBudget {
			chosen[id] = true
			used += f.TokenEstimate
		}
	}

	// Step 3: keyword-score remaining files, greedy add within budget.
	tokens := promptTokens(prompt)
	var remaining []File
	for _, f := range c.files {
		if !chosen[f.ID] {
			remaining = append(remaining, f)
		}
	}
	sort.SliceStable(remaining, func(i, j int) bool {
		si, sj := matchCount(remaining[i], tokens), matchCount(remaining[j], tokens)
		if si != sj {
			return si > sj
		}
		return remaining[i].TokenEstimate < remaining[j].TokenEstimate
	})
	for _, f := range remaining {
		if used+f.TokenEstimate <= tokenBudget {
			chosen[f.ID] = true
			used += f.TokenEstimate
		}
	}

	// Step 4: strict mode adds remaining core files within budget.
	if mode == model.ModeStrict {
		for _, f := range c.files {
			if f.Category == CategoryCore && !chosen[f.ID] && used+f.TokenEstimate <= tokenBudget {
				chosen[f.ID] = true
				used += f.TokenEstimate
			}
		}
	}

	// Step 5: creative override resets selection to the mandatory file only.
	if classifier.IsCreativeMarker(prompt) {
		chosen = map[string]bool{alwaysFileID: true}
	}

	out := make([]File, 0, len(chosen))
	for id := range chosen {
		out = append(out, c.byID[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func promptTokens(prompt string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(prompt)) {
		out[strings.Trim(w, ".,!?;:()[]{}\"'")] = true
	}
	return out
}

func matchCount(f File, tokens map[string]bool) int {
	n := 0
	for kw := range f.Keywords {
		if tokens[kw] {
			n++
		}
	}
	return n
}
