package daemon_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardloop/guardloop/internal/config"
	"github.com/guardloop/guardloop/pkg/adapter"
	guardcontext "github.com/guardloop/guardloop/pkg/context"
	"github.com/guardloop/guardloop/pkg/conversation"
	"github.com/guardloop/guardloop/pkg/daemon"
	"github.com/guardloop/guardloop/pkg/faildetect"
	"github.com/guardloop/guardloop/pkg/model"
	"github.com/guardloop/guardloop/pkg/selector"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions []*model.Session
}

func (f *fakeStore) SaveSession(ctx context.Context, sess *model.Session, violations []model.Violation,
	failures []model.FailureMode, activities []model.AgentActivity, contexts []model.ContextTracking,
	classification *model.TaskClassification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, sess)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func newOrchestrator(store *fakeStore, mode model.Mode, projectRoot string, autoSave bool) *daemon.Orchestrator {
	cfg := &config.Config{
		Mode:  config.Mode(mode),
		Tools: map[string]config.ToolConfig{"echo": {CLIPath: "/bin/echo", Enabled: true, Timeout: 5}},
	}
	cfg.Features.V2AutoSaveFiles = autoSave

	adapters := map[string]*adapter.Adapter{
		"echo": adapter.NewAdapter("echo", "/bin/echo", nil, 5*time.Second),
	}
	assembler := guardcontext.NewAssembler(selector.DefaultCatalogue(), nil, "/nonexistent")
	convos := conversation.NewManager(nil)
	return daemon.NewOrchestrator(cfg, store, adapters, assembler, convos)
}

func TestProcessApprovesInStandardMode(t *testing.T) {
	store := &fakeStore{}
	o := newOrchestrator(store, model.ModeStandard, "", false)

	res, err := o.Process(context.Background(), daemon.AIRequest{
		Tool: "echo", Prompt: "write a quick hello world function", Mode: model.ModeStandard,
	})
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.NotEmpty(t, res.SessionID)
	assert.NotNil(t, res.TaskClassification)
}

func TestProcessRejectsUnknownTool(t *testing.T) {
	store := &fakeStore{}
	o := newOrchestrator(store, model.ModeStandard, "", false)

	_, err := o.Process(context.Background(), daemon.AIRequest{Tool: "nope", Prompt: "hi"})
	require.Error(t, err)
	var cfgErr *daemon.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestProcessPersistsAsynchronously(t *testing.T) {
	store := &fakeStore{}
	o := newOrchestrator(store, model.ModeStandard, "", false)

	_, err := o.Process(context.Background(), daemon.AIRequest{Tool: "echo", Prompt: "implement an api endpoint"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestProcessConversationPrependsHistory(t *testing.T) {
	store := &fakeStore{}
	o := newOrchestrator(store, model.ModeStandard, "", false)

	res, err := o.Process(context.Background(), daemon.AIRequest{
		Tool: "echo", Prompt: "first turn", ConversationID: "conv-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)

	res2, err := o.Process(context.Background(), daemon.AIRequest{
		Tool: "echo", Prompt: "second turn", ConversationID: "conv-1",
	})
	require.NoError(t, err)
	assert.Contains(t, res2.RawOutput, "second turn")
}

func TestEnforceStandardAlwaysApproves(t *testing.T) {
	violations := []model.Violation{{Severity: model.SeverityCritical}}
	failures := []faildetect.Detected{{Severity: model.SeverityCritical}}
	assert.True(t, daemon.Enforce(model.ModeStandard, violations, failures))
}

func TestEnforceStrictDeniesOnCriticalViolation(t *testing.T) {
	violations := []model.Violation{{Severity: model.SeverityCritical}}
	assert.False(t, daemon.Enforce(model.ModeStrict, violations, nil))
}

func TestEnforceStrictDeniesOnCriticalFailure(t *testing.T) {
	failures := []faildetect.Detected{{Severity: model.SeverityCritical}}
	assert.False(t, daemon.Enforce(model.ModeStrict, nil, failures))
}

func TestEnforceStrictApprovesWithoutCriticalIssues(t *testing.T) {
	violations := []model.Violation{{Severity: model.SeverityHigh}}
	assert.True(t, daemon.Enforce(model.ModeStrict, violations, nil))
}
