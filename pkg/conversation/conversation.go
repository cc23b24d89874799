// Package conversation implements the Conversation Manager (spec §4.14):
// multi-turn history held in memory per conversation id, persisted per
// message, and pruned by turn count and token budget when building context.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guardloop/guardloop/pkg/budget"
	"github.com/guardloop/guardloop/pkg/model"
)

const (
	maxTurns         = 20
	maxContextTokens = 8000
)

// Store is the persistence surface the manager hydrates from and writes
// through; implemented by pkg/storage/sqlite.Store.
type Store interface {
	AppendConversationTurn(ctx context.Context, h *model.ConversationHistory) error
	LoadConversation(ctx context.Context, conversationID string) ([]model.ConversationHistory, error)
}

// Manager holds in-memory conversation state, keyed by conversation id.
type Manager struct {
	mu     sync.Mutex
	convos map[string][]model.ConversationHistory
	store  Store
}

// NewManager constructs a Manager backed by store (nil for a pure in-memory
// manager, useful in tests).
func NewManager(store Store) *Manager {
	return &Manager{convos: make(map[string][]model.ConversationHistory), store: store}
}

// StartConversation returns id if given, else mints a new uuid.
func (m *Manager) StartConversation(id string) string {
	if id == "" {
		id = uuid.New().String()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convos[id]; !ok {
		m.convos[id] = nil
	}
	return id
}

// hydrate loads persisted turns the first time a conversation id is seen.
func (m *Manager) hydrate(ctx context.Context, id string) {
	if m.store == nil {
		return
	}
	m.mu.Lock()
	_, seen := m.convos[id]
	m.mu.Unlock()
	if seen && len(m.convos[id]) > 0 {
		return
	}
	rows, err := m.store.LoadConversation(ctx, id)
	if err != nil || len(rows) == 0 {
		return
	}
	m.mu.Lock()
	m.convos[id] = rows
	m.mu.Unlock()
}

// AddMessage appends a turn, persisting it if a store is configured.
// Estimated via chars/4 when tokens is not supplied (tokens < 0).
func (m *Manager) AddMessage(ctx context.Context, id string, role model.ConversationRole, content string, tokens int) error {
	m.hydrate(ctx, id)

	if tokens < 0 {
		tokens = budget.EstimateTokensFallback(content)
	}

	m.mu.Lock()
	turn := len(m.convos[id])
	m.mu.Unlock()

	h := model.ConversationHistory{
		ConversationID: id,
		TurnNumber:     turn,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
		TokensUsed:     tokens,
	}

	if m.store != nil {
		if err := m.store.AppendConversationTurn(ctx, &h); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.convos[id] = append(m.convos[id], h)
	m.mu.Unlock()
	return nil
}

// BuildContext renders history plus the current prompt, pruning the oldest
// messages until len <= maxTurns and sum(tokens) <= maxContextTokens.
// System-role messages are excluded from the rendered, LLM-facing context.
func (m *Manager) BuildContext(ctx context.Context, id, currentPrompt string) string {
	m.hydrate(ctx, id)

	m.mu.Lock()
	history := append([]model.ConversationHistory(nil), m.convos[id]...)
	m.mu.Unlock()

	pruned := prune(history)

	var b strings.Builder
	b.WriteString("# Conversation History\n")
	for _, h := range pruned {
		if h.Role == model.RoleSystem {
			continue
		}
		label := "User"
		if h.Role == model.RoleAssistant {
			label = "Assistant"
		}
		b.WriteString(fmt.Sprintf("%s: %s\n", label, h.Content))
	}
	b.WriteString("# Current Request\n")
	b.WriteString(fmt.Sprintf("User: %s", currentPrompt))
	return b.String()
}

func prune(history []model.ConversationHistory) []model.ConversationHistory {
	pruned := history
	for len(pruned) > maxTurns || sumTokens(pruned) > maxContextTokens {
		if len(pruned) == 0 {
			break
		}
		pruned = pruned[1:]
	}
	return pruned
}

func sumTokens(history []model.ConversationHistory) int {
	var sum int
	for _, h := range history {
		sum += h.TokensUsed
	}
	return sum
}

// Clear drops in-memory state for a conversation (persisted rows remain).
func (m *Manager) Clear(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convos, id)
}

// Summary returns the turn count and total tokens used for a conversation.
func (m *Manager) Summary(id string) (turns int, tokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.convos[id]
	return len(h), sumTokens(h)
}
