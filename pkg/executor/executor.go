// Package executor implements the File Executor (spec §4.15): extraction of
// file operations from a tool's raw output, safety scoring, and guarded
// writes to disk.
package executor

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// OperationType is the closed set of file operations extracted from output.
type OperationType string

const (
	OpCreate OperationType = "create"
)

// FileOperation is one candidate write extracted from a tool's response.
type FileOperation struct {
	Type    OperationType
	Path    string
	Content string
}

// ValidationResult is the verdict of validate(op).
type ValidationResult struct {
	Safe         bool
	Score        float64
	Warnings     []string
	Reject       bool
	AutoSave     bool
	NeedsConfirm bool
}

// ExecuteResult is the outcome of a single execute(op, confirm).
type ExecuteResult struct {
	OK      bool
	Skipped bool
	Err     error
	Diff    string
}

// Summary is the result of execute_all.
type Summary struct {
	Total        int
	Succeeded    int
	Failed       int
	Skipped      int
	Errors       []string
	CreatedFiles []string
}

var (
	fencedWithPathRe = regexp.MustCompile("(?ms)^```([a-zA-Z0-9_+-]+):([^\\n`]+)\\n(.*?)\\n```")
	fileBlockRe = regexp.MustCompile(`(?m)^File:\s*(\S+)\s*$`)
	saveToRe    = regexp.MustCompile(`(?m)^Save to:\s*(\S+)\s*$`)

	systemPathPrefixes = []string{"/etc", "/bin", "/sbin", "/usr/bin", "/usr/sbin", "/boot", `C:\Windows`, `C:\Program Files`}
	dangerousPatterns  = []*regexp.Regexp{
		regexp.MustCompile(`\.\./`),
		regexp.MustCompile(`\bsudo\b`),
		regexp.MustCompile(`rm\s+-rf`),
		regexp.MustCompile(`\beval\s*\(`),
		regexp.MustCompile(`\bexec\s*\(`),
		regexp.MustCompile(`\.(exe|sh|bat|cmd|ps1)\s*$`),
	}
	safeExtensions = map[string]bool{
		".py": true, ".js": true, ".ts": true, ".go": true, ".rs": true,
		".cpp": true, ".c": true, ".h": true, ".hpp": true, ".java": true,
		".md": true, ".json": true, ".yaml": true, ".yml": true, ".sql": true,
		".toml": true, ".txt": true, ".html": true, ".css": true, ".sh": false,
	}
	secretRe = regexp.MustCompile(`(?i)(api[_-]?key|secret|password|token)\s*[:=]\s*['"][^'"\s]{8,}['"]`)
)

// ExtractOperations scans raw LLM output for the three recognised shapes:
// fenced-with-path, File:/Content: blocks, and an unlabelled fence followed
// by "Save to: <path>".
func ExtractOperations(output string) []FileOperation {
	var ops []FileOperation

	for _, m := range fencedWithPathRe.FindAllStringSubmatch(output, -1) {
		ops = append(ops, FileOperation{Type: OpCreate, Path: strings.TrimSpace(m[2]), Content: m[3]})
	}

	ops = append(ops, extractFileBlocks(output)...)
	ops = append(ops, extractSaveToBlocks(output)...)

	return ops
}

func extractFileBlocks(output string) []FileOperation {
	var ops []FileOperation
	locs := fileBlockRe.FindAllStringSubmatchIndex(output, -1)
	for i, loc := range locs {
		path := output[loc[2]:loc[3]]
		bodyStart := loc[1]
		bodyEnd := len(output)
		if i+1 < len(locs) {
			bodyEnd = locs[i+1][0]
		}
		body := output[bodyStart:bodyEnd]
		body = strings.TrimPrefix(strings.TrimLeft(body, "\n"), "Content:")
		body = strings.TrimSpace(body)
		ops = append(ops, FileOperation{Type: OpCreate, Path: strings.TrimSpace(path), Content: body})
	}
	return ops
}

func extractSaveToBlocks(output string) []FileOperation {
	var ops []FileOperation
	var lastFenceBody string
	haveFence := false
	var cur strings.Builder
	inFence := false

	lines := strings.Split(output, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if !inFence {
				inFence = true
				cur.Reset()
				continue
			}
			inFence = false
			lastFenceBody = cur.String()
			haveFence = true
			continue
		}
		if inFence {
			cur.WriteString(line)
			cur.WriteString("\n")
			continue
		}
		if m := saveToRe.FindStringSubmatch(line); m != nil && haveFence {
			ops = append(ops, FileOperation{Type: OpCreate, Path: strings.TrimSpace(m[1]), Content: strings.TrimSpace(lastFenceBody)})
			haveFence = false
		}
	}
	return ops
}

// Validate implements the spec's hazard-deduction safety score.
func Validate(op FileOperation, projectRoot string) ValidationResult {
	score := 1.0
	var warnings []string
	reject := false

	abs := op.Path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(projectRoot, op.Path)
	}
	cleanRoot := filepath.Clean(projectRoot)
	cleanAbs := filepath.Clean(abs)
	if !strings.HasPrefix(cleanAbs, cleanRoot+string(filepath.Separator)) && cleanAbs != cleanRoot {
		score -= 0.5
		reject = true
		warnings = append(warnings, "path escapes project root")
	}

	for _, prefix := range systemPathPrefixes {
		if strings.HasPrefix(op.Path, prefix) || strings.HasPrefix(cleanAbs, prefix) {
			reject = true
			warnings = append(warnings, "system path prefix")
			break
		}
	}

	for _, re := range dangerousPatterns {
		if re.MatchString(op.Path) || re.MatchString(op.Content) {
			score -= 0.3
			warnings = append(warnings, "dangerous pattern detected")
			break
		}
	}

	ext := strings.ToLower(filepath.Ext(op.Path))
	if safe, known := safeExtensions[ext]; !known || !safe {
		score -= 0.2
		warnings = append(warnings, fmt.Sprintf("uncommon file extension %q", ext))
	}

	if secretRe.MatchString(op.Content) {
		score -= 0.2
		warnings = append(warnings, "possible hardcoded secret")
	}

	// Round away float drift from the deductions (1.0-0.3-0.2 is not exactly 0.5).
	score = math.Round(score*100) / 100
	safe := !reject && score >= 0.5
	autoSave := safe && score >= 0.8 && len(warnings) == 0
	needsConfirm := safe && score >= 0.5 && score < 0.7

	return ValidationResult{
		Safe:         safe,
		Score:        score,
		Warnings:     warnings,
		Reject:       reject,
		AutoSave:     autoSave,
		NeedsConfirm: needsConfirm,
	}
}

// Execute writes op to disk after validation, creating parent directories.
// When validation requires confirmation and confirm is false, the write is
// skipped rather than rejected.
func Execute(op FileOperation, projectRoot string, confirm bool) ExecuteResult {
	v := Validate(op, projectRoot)
	if !v.Safe {
		return ExecuteResult{OK: false, Err: fmt.Errorf("unsafe operation: %s", strings.Join(v.Warnings, "; "))}
	}
	if v.NeedsConfirm && !confirm {
		return ExecuteResult{Skipped: true, Err: fmt.Errorf("User confirmation required")}
	}

	abs := op.Path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(projectRoot, op.Path)
	}

	var diff string
	if existing, err := os.ReadFile(abs); err == nil {
		diff = diffSummary(string(existing), op.Content)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return ExecuteResult{OK: false, Err: fmt.Errorf("create parent directories: %w", err)}
	}
	if err := os.WriteFile(abs, []byte(op.Content), 0o644); err != nil {
		return ExecuteResult{OK: false, Err: fmt.Errorf("write file: %w", err)}
	}

	return ExecuteResult{OK: true, Diff: diff}
}

// diffSummary renders a unified-ish diff for overwrite warnings.
func diffSummary(before, after string) string {
	if before == after {
		return ""
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			b.WriteString("+ " + strings.ReplaceAll(d.Text, "\n", "\n+ ") + "\n")
		case diffmatchpatch.DiffDelete:
			b.WriteString("- " + strings.ReplaceAll(d.Text, "\n", "\n- ") + "\n")
		}
	}
	return b.String()
}

// ExecuteAll runs Execute over every operation, confirming all-or-nothing.
func ExecuteAll(ops []FileOperation, projectRoot string, confirmAll bool) Summary {
	s := Summary{Total: len(ops)}
	for _, op := range ops {
		r := Execute(op, projectRoot, confirmAll)
		switch {
		case r.OK:
			s.Succeeded++
			s.CreatedFiles = append(s.CreatedFiles, op.Path)
		case r.Skipped:
			s.Skipped++
		default:
			s.Failed++
			if r.Err != nil {
				s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", op.Path, r.Err))
			}
		}
	}
	return s
}
