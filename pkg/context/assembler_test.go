package context_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guardloop/guardloop/pkg/context"
	"github.com/guardloop/guardloop/pkg/model"
	"github.com/guardloop/guardloop/pkg/selector"
)

func TestBuildContextCreativeShortCircuits(t *testing.T) {
	a := context.NewAssembler(selector.DefaultCatalogue(), nil, "/nonexistent")
	tt := model.TaskCreative
	out, rules := a.BuildContext("write a poem about coding", "", model.ModeStandard, &tt)
	assert.Equal(t, "write a poem about coding", out)
	assert.Empty(t, rules)
}

func TestBuildContextEnvelopeShapeForCode(t *testing.T) {
	a := context.NewAssembler(selector.DefaultCatalogue(), nil, "/nonexistent")
	tt := model.TaskCode
	out, _ := a.BuildContext("implement user authentication", "", model.ModeStandard, &tt)
	assert.True(t, strings.Contains(out, "<guardrails>"))
	assert.True(t, strings.Contains(out, "<user_request>\nimplement user authentication\n</user_request>"))
}

func TestBuildContextIsByteIdenticalBeforeTTLExpiry(t *testing.T) {
	a := context.NewAssembler(selector.DefaultCatalogue(), nil, "/nonexistent")
	tt := model.TaskCode
	first, _ := a.BuildContext("implement user authentication", "", model.ModeStandard, &tt)
	second, _ := a.BuildContext("implement user authentication", "", model.ModeStandard, &tt)
	assert.Equal(t, first, second)
}
