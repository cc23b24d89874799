package conversation_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guardloop/guardloop/pkg/conversation"
	"github.com/guardloop/guardloop/pkg/model"
)

func TestStartConversationGeneratesID(t *testing.T) {
	m := conversation.NewManager(nil)
	id := m.StartConversation("")
	assert.NotEmpty(t, id)
}

func TestStartConversationHonoursGivenID(t *testing.T) {
	m := conversation.NewManager(nil)
	id := m.StartConversation("fixed-id")
	assert.Equal(t, "fixed-id", id)
}

func TestBuildContextRendersHistoryAndCurrentPrompt(t *testing.T) {
	m := conversation.NewManager(nil)
	ctx := context.Background()
	id := m.StartConversation("c1")
	_ = m.AddMessage(ctx, id, model.RoleUser, "first question", -1)
	_ = m.AddMessage(ctx, id, model.RoleAssistant, "first answer", -1)

	out := m.BuildContext(ctx, id, "second question")
	assert.True(t, strings.Contains(out, "# Conversation History"))
	assert.True(t, strings.Contains(out, "User: first question"))
	assert.True(t, strings.Contains(out, "Assistant: first answer"))
	assert.True(t, strings.Contains(out, "# Current Request\nUser: second question"))
}

func TestBuildContextExcludesSystemMessages(t *testing.T) {
	m := conversation.NewManager(nil)
	ctx := context.Background()
	id := m.StartConversation("c2")
	_ = m.AddMessage(ctx, id, model.RoleSystem, "you are a careful assistant", -1)
	_ = m.AddMessage(ctx, id, model.RoleUser, "hello", -1)

	out := m.BuildContext(ctx, id, "continue")
	assert.False(t, strings.Contains(out, "careful assistant"))
}

func TestBuildContextPrunesBeyondMaxTurns(t *testing.T) {
	m := conversation.NewManager(nil)
	ctx := context.Background()
	id := m.StartConversation("c3")
	for i := 0; i < 25; i++ {
		_ = m.AddMessage(ctx, id, model.RoleUser, "turn", -1)
	}
	turns, _ := m.Summary(id)
	assert.Equal(t, 25, turns)

	out := m.BuildContext(ctx, id, "final")
	assert.Equal(t, 20, strings.Count(out, "User: turn"))
}

func TestBuildContextPrunesBeyondTokenBudget(t *testing.T) {
	m := conversation.NewManager(nil)
	ctx := context.Background()
	id := m.StartConversation("c4")
	for i := 0; i < 5; i++ {
		_ = m.AddMessage(ctx, id, model.RoleUser, "x", 5000)
	}
	out := m.BuildContext(ctx, id, "final")
	assert.LessOrEqual(t, strings.Count(out, "User: x"), 1)
}

func TestClearRemovesInMemoryState(t *testing.T) {
	m := conversation.NewManager(nil)
	ctx := context.Background()
	id := m.StartConversation("c5")
	_ = m.AddMessage(ctx, id, model.RoleUser, "hi", -1)
	m.Clear(id)
	turns, tokens := m.Summary(id)
	assert.Equal(t, 0, turns)
	assert.Equal(t, 0, tokens)
}
