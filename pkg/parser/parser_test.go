package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guardloop/guardloop/pkg/parser"
)

func TestParseNeverPanics(t *testing.T) {
	inputs := []string{"", "```", "just text", "```python\nprint(1)\n```", "\x00\x01garbage"}
	for _, in := range inputs {
		assert.NotPanics(t, func() { parser.Parse(in) })
	}
}

func TestParseCodeBlockAndCoverage(t *testing.T) {
	raw := "Here is the code:\n```python\ndef f():\n    return 1\n```\nTest coverage: 100%\n"
	p := parser.Parse(raw)
	assert.Len(t, p.CodeBlocks, 1)
	assert.Equal(t, "python", p.CodeBlocks[0].Language)
	if assert.NotNil(t, p.TestCoverage) {
		assert.Equal(t, 100.0, *p.TestCoverage)
	}
}

func TestParseDefaultsLanguageToText(t *testing.T) {
	p := parser.Parse("```\nhello\n```")
	assert.Len(t, p.CodeBlocks, 1)
	assert.Equal(t, "text", p.CodeBlocks[0].Language)
}

func TestParseSameInputIsEqual(t *testing.T) {
	raw := "```go\nfunc main() {}\n```\nRun: go test ./...\n"
	assert.Equal(t, parser.Parse(raw), parser.Parse(raw))
}

func TestParseCoverageOutOfRangeRejected(t *testing.T) {
	p := parser.Parse("coverage: 150%")
	assert.Nil(t, p.TestCoverage)
}

func TestParseCommands(t *testing.T) {
	p := parser.Parse("$ npm install\nRun: go build ./...\n")
	assert.Contains(t, p.Commands, "npm install")
	assert.Contains(t, p.Commands, "go build ./...")
}
