// Package parser implements the Response Parser (spec §4.7): a total
// function over raw tool output that extracts code blocks, file paths,
// commands, explanations, test coverage and metadata flags. It never fails;
// ambiguous input produces empty collections.
package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// CodeBlock is one triple-backtick fenced block.
type CodeBlock struct {
	Language string
	Code     string
	FilePath string // inline path comment on the first line, if any
}

// ParsedResponse is the parser's total output.
type ParsedResponse struct {
	CodeBlocks    []CodeBlock
	FilePaths     []string
	Commands      []string
	Explanations  []string
	TestCoverage  *float64
	Metadata      Metadata
}

// Metadata flags lexeme presence used by downstream validation.
type Metadata struct {
	HasSecurity     bool
	HasTests        bool
	HasErrorHandling bool
}

var fenceRe = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\\n(.*?)```")
var inlineFilePathRe = regexp.MustCompile(`^\s*(?://|#|--)\s*(?:file:)?\s*([^\s]+\.[A-Za-z0-9]+)\s*$`)

var filePathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|[\s\x60'"])(/[\w.\-/]+\.[A-Za-z0-9]{1,8})(?:[\s\x60'":,]|$)`),            // absolute posix
	regexp.MustCompile(`(?:^|[\s\x60'"])([A-Za-z]:\\[\w.\-\\]+\.[A-Za-z0-9]{1,8})(?:[\s\x60'":,]|$)`), // absolute windows
	regexp.MustCompile(`(?:^|[\s\x60'"])(\.{1,2}/[\w.\-/]+\.[A-Za-z0-9]{1,8})(?:[\s\x60'":,]|$)`),     // relative dotted
	regexp.MustCompile(`(?i)File:\s*([^\s]+\.[A-Za-z0-9]+)`),
	regexp.MustCompile(`(?i)in file\s+([^\s]+\.[A-Za-z0-9]+)`),
}

var recognisedExtensions = map[string]bool{
	"go": true, "py": true, "js": true, "ts": true, "tsx": true, "jsx": true, "java": true,
	"rb": true, "rs": true, "cpp": true, "c": true, "cs": true, "php": true, "sql": true,
	"md": true, "txt": true, "json": true, "yaml": true, "yml": true, "html": true, "css": true,
}

var commandPromptRe = regexp.MustCompile(`(?m)^\s*[$>]\s+(.+)$`)
var commandPkgRe = regexp.MustCompile(`(?m)^\s*(npm|pip|dotnet|cargo|go)\s+.+$`)
var commandExplicitRe = regexp.MustCompile(`(?im)^\s*(?:Run|Execute):\s*(.+)$`)

var coverageRe = regexp.MustCompile(`(?i)(\d{1,3}(?:\.\d+)?)\s*%[^.\n]{0,40}\b(coverage|tested)\b|\b(coverage|tested)\b[^\d.\n]{0,40}(\d{1,3}(?:\.\d+)?)\s*%`)

var securityLexemes = regexp.MustCompile(`(?i)\b(security|auth(entication|orization)?|csrf|xss|sanitiz)\w*\b`)
var testLexemes = regexp.MustCompile(`(?i)\b(test|unittest|pytest|jest|spec)\w*\b`)
var errorHandlingLexemes = regexp.MustCompile(`(?i)\b(try|catch|except|error handling|recover)\w*\b`)

var commandLikeRe = regexp.MustCompile(`^\s*[$>]|^\s*(npm|pip|dotnet|cargo|go)\s`)

// Parse extracts structure from raw tool output. It never panics or returns
// an error; unrecognised shapes simply yield empty slices.
func Parse(raw string) ParsedResponse {
	var resp ParsedResponse

	fenceMatches := fenceRe.FindAllStringSubmatch(raw, -1)
	nonCode := fenceRe.ReplaceAllString(raw, "\n")

	for _, m := range fenceMatches {
		lang := strings.ToLower(strings.TrimSpace(m[1]))
		if lang == "" {
			lang = "text"
		}
		body := m[2]
		block := CodeBlock{Language: lang, Code: body}

		lines := strings.SplitN(body, "\n", 2)
		if len(lines) > 0 {
			if fp := inlineFilePathRe.FindStringSubmatch(lines[0]); fp != nil {
				block.FilePath = fp[1]
			}
		}
		resp.CodeBlocks = append(resp.CodeBlocks, block)
	}

	resp.FilePaths = extractFilePaths(raw)
	resp.Commands = extractCommands(nonCode)
	resp.Explanations = extractExplanations(nonCode)
	resp.TestCoverage = extractCoverage(raw)
	resp.Metadata = Metadata{
		HasSecurity:      securityLexemes.MatchString(raw),
		HasTests:         testLexemes.MatchString(raw),
		HasErrorHandling: errorHandlingLexemes.MatchString(raw),
	}
	return resp
}

func extractFilePaths(raw string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, re := range filePathPatterns {
		for _, m := range re.FindAllStringSubmatch(raw, -1) {
			path := m[1]
			if !strings.Contains(path, ".") {
				continue
			}
			ext := strings.ToLower(strings.TrimLeft(extOf(path), "."))
			isAbsolute := strings.HasPrefix(path, "/") || len(path) > 1 && path[1] == ':'
			if strings.Contains(path, " ") && !isAbsolute {
				continue
			}
			if !recognisedExtensions[ext] {
				continue
			}
			if !seen[path] {
				seen[path] = true
				out = append(out, path)
			}
		}
	}
	return out
}

func extOf(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return ""
	}
	return path[idx:]
}

func extractCommands(text string) []string {
	var out []string
	for _, m := range commandPromptRe.FindAllStringSubmatch(text, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	for _, m := range commandPkgRe.FindAllString(text, -1) {
		out = append(out, strings.TrimSpace(m))
	}
	for _, m := range commandExplicitRe.FindAllStringSubmatch(text, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

func extractExplanations(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		p := strings.TrimSpace(para)
		if len(p) < 20 {
			continue
		}
		if commandLikeRe.MatchString(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func extractCoverage(raw string) *float64 {
	m := coverageRe.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	numStr := m[1]
	if numStr == "" {
		numStr = m[4]
	}
	val, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return nil
	}
	if val < 0 || val > 100 {
		return nil
	}
	return &val
}
