// Package daemon implements the Daemon Orchestrator (spec §4.17) and
// Enforcement (spec §4.18): the single process(AIRequest) entry point that
// sequences classification, context assembly, tool invocation, parsing,
// validation, review, enforcement, file execution and persistence.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guardloop/guardloop/internal/config"
	"github.com/guardloop/guardloop/internal/log"
	"github.com/guardloop/guardloop/pkg/adapter"
	"github.com/guardloop/guardloop/pkg/chain"
	guardcontext "github.com/guardloop/guardloop/pkg/context"
	"github.com/guardloop/guardloop/pkg/classifier"
	"github.com/guardloop/guardloop/pkg/conversation"
	"github.com/guardloop/guardloop/pkg/executor"
	"github.com/guardloop/guardloop/pkg/faildetect"
	"github.com/guardloop/guardloop/pkg/model"
	"github.com/guardloop/guardloop/pkg/parser"
	"github.com/guardloop/guardloop/pkg/reviewer"
	"github.com/guardloop/guardloop/pkg/validator"
	"go.uber.org/zap"
)

// ConfigError reports a misconfigured or disabled tool.
type ConfigError struct{ Tool string }

func (e *ConfigError) Error() string { return fmt.Sprintf("tool %q is disabled or not configured", e.Tool) }

// AdapterError reports a subprocess that failed to start or exited non-zero
// after retries.
type AdapterError struct {
	Tool    string
	Message string
}

func (e *AdapterError) Error() string { return fmt.Sprintf("tool %q: %s", e.Tool, e.Message) }

// AIRequest is one governed request for a wrapped code-generation tool.
type AIRequest struct {
	Tool           string
	Prompt         string
	Agent          string
	Mode           model.Mode
	SessionID      string
	ConversationID string
	ProjectRoot    string
	StreamCB       adapter.StreamFunc
}

// AIResult is the orchestrator's synchronous response.
type AIResult struct {
	RawOutput          string
	Parsed             parser.ParsedResponse
	Violations         []model.Violation
	Failures           []faildetect.Detected
	Approved           bool
	ExecutionMS        int64
	SessionID          string
	TaskClassification *classifier.Result
	FileOperations     *executor.Summary
	GuardrailsApplied  []string
}

// Store is the persistence surface the orchestrator writes through,
// fire-and-forget, after returning its synchronous result.
type Store interface {
	SaveSession(ctx context.Context, sess *model.Session, violations []model.Violation,
		failures []model.FailureMode, activities []model.AgentActivity, contexts []model.ContextTracking,
		classification *model.TaskClassification) error
}

// Orchestrator wires the pipeline's components together per a loaded
// Config. It is the module's sole public entry point (spec §6).
type Orchestrator struct {
	cfg       *config.Config
	store     Store
	adapters  map[string]*adapter.Adapter
	assembler *guardcontext.Assembler
	convos    *conversation.Manager
}

// NewOrchestrator constructs an Orchestrator. adapters is keyed by tool
// name, matching cfg.Tools.
func NewOrchestrator(cfg *config.Config, store Store, adapters map[string]*adapter.Adapter, assembler *guardcontext.Assembler, convos *conversation.Manager) *Orchestrator {
	return &Orchestrator{cfg: cfg, store: store, adapters: adapters, assembler: assembler, convos: convos}
}

// Process runs req through the pipeline sequence of spec §4.17 and returns
// the synchronous result; persistence happens asynchronously afterward.
func (o *Orchestrator) Process(ctx context.Context, req AIRequest) (AIResult, error) {
	start := time.Now()
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	toolCfg, ok := o.cfg.Tools[req.Tool]
	if !ok || !toolCfg.Enabled {
		return AIResult{}, &ConfigError{Tool: req.Tool}
	}
	ad, ok := o.adapters[req.Tool]
	if !ok {
		return AIResult{}, &ConfigError{Tool: req.Tool}
	}

	classification := classifier.Classify(req.Prompt)

	prompt := req.Prompt
	if req.ConversationID != "" {
		prompt = o.convos.BuildContext(ctx, req.ConversationID, req.Prompt)
	}

	augmented, guardrailsApplied := o.assembler.BuildContext(prompt, req.Agent, req.Mode, &classification.TaskType)

	timeout := time.Duration(toolCfg.Timeout) * time.Second
	resp := ad.Execute(ctx, augmented, timeout, req.StreamCB)
	if resp.ExitCode != 0 {
		return AIResult{}, &AdapterError{Tool: req.Tool, Message: resp.Error}
	}

	parsed := parser.Parse(resp.RawOutput)
	violations := validator.Validate(parsed, resp.RawOutput)
	failures := faildetect.Scan(resp.RawOutput, req.Tool)

	agents := chain.SelectChain(classification.TaskType, req.Mode, req.Agent)
	decisions := reviewer.RunChain(agents, reviewer.AgentContext{
		Prompt: req.Prompt, Mode: req.Mode, Parsed: parsed, Violations: violations,
		Failures: failures, RawOutput: resp.RawOutput, Tool: req.Tool,
	})
	activities := activitiesFromDecisions(sessionID, agents, decisions)

	approved := Enforce(req.Mode, violations, failures)

	var fileOps *executor.Summary
	if req.ProjectRoot != "" && o.cfg.Features.V2AutoSaveFiles {
		ops := executor.ExtractOperations(resp.RawOutput)
		summary := executor.ExecuteAll(ops, req.ProjectRoot, false)
		fileOps = &summary
	}

	if req.ConversationID != "" {
		if err := o.convos.AddMessage(ctx, req.ConversationID, model.RoleUser, req.Prompt, -1); err != nil {
			log.Warn("failed to append user turn", zap.Error(err))
		}
		if err := o.convos.AddMessage(ctx, req.ConversationID, model.RoleAssistant, resp.RawOutput, -1); err != nil {
			log.Warn("failed to append assistant turn", zap.Error(err))
		}
	}

	execMS := time.Since(start).Milliseconds()

	result := AIResult{
		RawOutput:          resp.RawOutput,
		Parsed:             parsed,
		Violations:         withSessionID(violations, sessionID),
		Failures:           failures,
		Approved:           approved,
		ExecutionMS:        execMS,
		SessionID:          sessionID,
		TaskClassification: &classification,
		FileOperations:     fileOps,
		GuardrailsApplied:  guardrailsApplied,
	}

	go o.persist(sessionID, req, classification, resp.RawOutput, augmented, result, activities, execMS)

	return result, nil
}

func withSessionID(violations []model.Violation, sessionID string) []model.Violation {
	out := make([]model.Violation, len(violations))
	for i, v := range violations {
		v.SessionID = sessionID
		out[i] = v
	}
	return out
}

func activitiesFromDecisions(sessionID string, agents []string, decisions []reviewer.AgentDecision) []model.AgentActivity {
	activities := make([]model.AgentActivity, 0, len(decisions))
	for i, d := range decisions {
		agent := "unknown"
		if i < len(agents) {
			agent = agents[i]
		}
		activities = append(activities, model.AgentActivity{
			SessionID: sessionID,
			Agent:     agent,
			Action:    "review",
			Success:   d.Approved,
			Error:     d.Reason,
		})
	}
	return activities
}

// persist writes the session and its child rows fire-and-forget; failures
// are logged, never surfaced to the caller (spec §7 PersistenceError).
func (o *Orchestrator) persist(sessionID string, req AIRequest, classification classifier.Result, rawOutput, augmented string, result AIResult, activities []model.AgentActivity, execMS int64) {
	if o.store == nil {
		return
	}
	sess := &model.Session{
		ID:              sessionID,
		CreatedAt:       time.Now(),
		Tool:            req.Tool,
		Agent:           req.Agent,
		Mode:            req.Mode,
		Prompt:          req.Prompt,
		AugmentedPrompt: augmented,
		RawOutput:       rawOutput,
		ViolationCount:  len(result.Violations),
		Approved:        result.Approved,
		ExecutionMS:     execMS,
	}

	failures := make([]model.FailureMode, 0, len(result.Failures))
	for _, f := range result.Failures {
		failures = append(failures, model.FailureMode{
			SessionID: sessionID, Tool: req.Tool, Category: f.Category, Pattern: f.Pattern,
			Severity: f.Severity, Context: f.Context, Resolution: f.Suggestion,
		})
	}

	taskClass := &model.TaskClassification{
		SessionID:          sessionID,
		TaskType:           classification.TaskType,
		Confidence:         classification.Confidence,
		RequiresGuardrails: classification.RequiresGuardrails,
	}

	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.SaveSession(persistCtx, sess, result.Violations, failures, activities, nil, taskClass); err != nil {
		log.WithSession(sessionID).Error("failed to persist session", zap.Error(err))
	}
}

// Enforce implements spec §4.18: a pure decision over (mode, violations,
// failures). standard always approves; strict denies iff any violation or
// failure carries critical severity.
func Enforce(mode model.Mode, violations []model.Violation, failures []faildetect.Detected) bool {
	if mode != model.ModeStrict {
		return true
	}
	for _, v := range violations {
		if v.Severity == model.SeverityCritical {
			return false
		}
	}
	for _, f := range failures {
		if f.Severity == model.SeverityCritical {
			return false
		}
	}
	return true
}
