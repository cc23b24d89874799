// Command guardloopd is GuardLoop's local governance daemon: it loads a
// typed configuration, wires the pipeline components, and either serves
// background workers until a signal arrives or runs a single request
// one-shot for scripting and editor integrations. It is not a network
// service; all I/O is local (subprocess, filesystem, embedded database).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/guardloop/guardloop/internal/config"
	"github.com/guardloop/guardloop/internal/log"
	"github.com/guardloop/guardloop/internal/telemetry"
	"github.com/guardloop/guardloop/pkg/adapter"
	guardcontext "github.com/guardloop/guardloop/pkg/context"
	"github.com/guardloop/guardloop/pkg/conversation"
	"github.com/guardloop/guardloop/pkg/daemon"
	"github.com/guardloop/guardloop/pkg/guardrails"
	"github.com/guardloop/guardloop/pkg/model"
	"github.com/guardloop/guardloop/pkg/selector"
	"github.com/guardloop/guardloop/pkg/storage/sqlite"
	"github.com/guardloop/guardloop/pkg/worker"
)

var (
	cfgFile string
	mode    string
)

var rootCmd = &cobra.Command{
	Use:   "guardloopd",
	Short: "GuardLoop governance daemon",
	Long:  "guardloopd wraps code-generation CLIs with policy injection, response validation, and learned guardrails.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "guardloop.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&mode, "mode", "", "override the configured enforcement mode (standard|strict)")
	rootCmd.AddCommand(serveCmd, processCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type components struct {
	cfg     *config.Config
	store   *sqlite.Store
	orch    *daemon.Orchestrator
	workers *worker.Manager
}

func bootstrap(ctx context.Context) (*components, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if mode != "" {
		cfg.Mode = config.Mode(model.NormalizeMode(mode))
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log.SetLogger(logger)

	tracer := telemetry.NewNoOpTracer()
	enc := sqlite.EncryptionOptions{Enabled: cfg.Database.EncryptAtRest, Key: cfg.Database.EncryptionKey}
	store, err := sqlite.Open(ctx, cfg.Database.Path, tracer, enc)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	catalogue, err := selector.LoadCatalogue(cfg.Guardrails.BasePath)
	if err != nil {
		log.Warn("falling back to default catalogue", zap.Error(err))
		catalogue = selector.DefaultCatalogue()
	}

	guardrailMgr := guardrails.NewManager(store)
	assembler := guardcontext.NewAssembler(catalogue, guardrailMgr, cfg.Guardrails.AgentsPath)
	convos := conversation.NewManager(store)

	adapters := make(map[string]*adapter.Adapter, len(cfg.Tools))
	for name, tc := range cfg.Tools {
		timeout := time.Duration(tc.Timeout) * time.Second
		adapters[name] = adapter.NewAdapter(name, tc.CLIPath, nil, timeout)
	}

	orch := daemon.NewOrchestrator(cfg, store, adapters, assembler, convos)

	var workers *worker.Manager
	if cfg.Features.BackgroundAnalysis {
		workers = worker.NewManager(store, store, exportPath(cfg), []string{cfg.Logging.File})
	}

	return &components{cfg: cfg, store: store, orch: orch, workers: workers}, nil
}

func exportPath(cfg *config.Config) string {
	if cfg.Database.Path == "" {
		return "AI_Failure_Modes.md"
	}
	return filepath.Join(filepath.Dir(cfg.Database.Path), "AI_Failure_Modes.md")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start background workers and block until a termination signal",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		c, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer c.store.Close()

		if c.workers != nil {
			if err := c.workers.Start(); err != nil {
				return fmt.Errorf("start workers: %w", err)
			}
			defer c.workers.Stop()
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		log.Info("guardloopd serving", zap.String("mode", string(c.cfg.Mode)))
		<-sig
		log.Info("guardloopd shutting down")
		return nil
	},
}

var processArgs struct {
	tool           string
	prompt         string
	agent          string
	sessionID      string
	conversationID string
	projectRoot    string
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run a single request through the pipeline and print the result as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer c.store.Close()

		req := daemon.AIRequest{
			Tool:           processArgs.tool,
			Prompt:         processArgs.prompt,
			Agent:          processArgs.agent,
			Mode:           model.Mode(c.cfg.Mode),
			SessionID:      processArgs.sessionID,
			ConversationID: processArgs.conversationID,
			ProjectRoot:    processArgs.projectRoot,
		}

		result, err := c.orch.Process(ctx, req)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	processCmd.Flags().StringVar(&processArgs.tool, "tool", "", "configured tool name to invoke")
	processCmd.Flags().StringVar(&processArgs.prompt, "prompt", "", "prompt to send to the tool")
	processCmd.Flags().StringVar(&processArgs.agent, "agent", "", "user-specified reviewer agent override")
	processCmd.Flags().StringVar(&processArgs.sessionID, "session-id", "", "session id (generated if empty)")
	processCmd.Flags().StringVar(&processArgs.conversationID, "conversation-id", "", "conversation id for multi-turn history")
	processCmd.Flags().StringVar(&processArgs.projectRoot, "project-root", "", "project root for auto-saved file operations")
	processCmd.MarkFlagRequired("tool")
	processCmd.MarkFlagRequired("prompt")
}
