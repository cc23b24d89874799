// Package config defines GuardLoop's typed configuration surface (spec §6)
// and loads it with viper, validating the raw document against a JSON Schema
// before binding so malformed tools/features blocks fail fast at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/xeipuuv/gojsonschema"
)

// Mode is the enforcement posture.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeStrict   Mode = "strict"
)

// ToolConfig describes one wrapped CLI tool.
type ToolConfig struct {
	CLIPath string `mapstructure:"cli_path"`
	Enabled bool   `mapstructure:"enabled"`
	Timeout int    `mapstructure:"timeout"` // seconds
}

// GuardrailsConfig locates the policy-file catalogue on disk.
type GuardrailsConfig struct {
	BasePath   string   `mapstructure:"base_path"`
	AgentsPath string   `mapstructure:"agents_path"`
	Files      []string `mapstructure:"files"`
}

// DatabaseConfig locates the persistence file and its backup policy.
type DatabaseConfig struct {
	Path             string `mapstructure:"path"`
	BackupEnabled    bool   `mapstructure:"backup_enabled"`
	BackupIntervalHr int    `mapstructure:"backup_interval_hours"`

	// EncryptAtRest opts into SQLCipher encryption (internal/sqlitedriver's
	// cgo build). Requires EncryptionKey or the GUARDLOOP_DB_KEY env var;
	// on the pure-Go build, where EncryptionSupported is false, the store
	// refuses to open when it is set.
	EncryptAtRest bool   `mapstructure:"encrypt_at_rest"`
	EncryptionKey string `mapstructure:"encryption_key"`
}

// LoggingConfig controls the zap sink (internal/log).
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	BackupCount int    `mapstructure:"backup_count"`
}

// FeaturesConfig toggles optional subsystems.
type FeaturesConfig struct {
	BackgroundAnalysis     bool `mapstructure:"background_analysis"`
	V2AdaptiveLearning     bool `mapstructure:"v2_adaptive_learning"`
	V2TaskClassification   bool `mapstructure:"v2_task_classification"`
	V2AutoSaveFiles        bool `mapstructure:"v2_auto_save_files"`
	V2ConversationHistory  bool `mapstructure:"v2_conversation_history"`
	V2DynamicGuardrails    bool `mapstructure:"v2_dynamic_guardrails"`
	AnalysisWorker         bool `mapstructure:"analysis_worker"`
	MetricsWorker          bool `mapstructure:"metrics_worker"`
	MarkdownExport         bool `mapstructure:"markdown_export"`
	CleanupWorker          bool `mapstructure:"cleanup_worker"`
}

// TeamConfig controls optional guardrail-sharing across a team.
type TeamConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	SyncRepo          string `mapstructure:"sync_repo"`
	SyncIntervalHours int    `mapstructure:"sync_interval_hours"`
	Branch            string `mapstructure:"branch"`
}

// Config is the full typed configuration surface consumed by the core.
// Unknown keys in the source document are preserved in Extra.
type Config struct {
	Mode         Mode                  `mapstructure:"mode"`
	DefaultAgent string                `mapstructure:"default_agent"`
	Tools        map[string]ToolConfig `mapstructure:"tools"`
	Guardrails   GuardrailsConfig      `mapstructure:"guardrails"`
	Database     DatabaseConfig        `mapstructure:"database"`
	Logging      LoggingConfig         `mapstructure:"logging"`
	Features     FeaturesConfig        `mapstructure:"features"`
	Team         TeamConfig            `mapstructure:"team"`

	Extra map[string]any `mapstructure:",remain"`
}

// configSchema recognises the top-level keys from spec §6; it intentionally
// allows additionalProperties so unknown keys are preserved, not rejected.
const configSchema = `{
  "type": "object",
  "properties": {
    "mode": {"type": "string", "enum": ["standard", "strict"]},
    "default_agent": {"type": "string"},
    "tools": {"type": "object"},
    "guardrails": {"type": "object"},
    "database": {"type": "object"},
    "logging": {"type": "object"},
    "features": {"type": "object"},
    "team": {"type": "object"}
  },
  "additionalProperties": true
}`

// Load reads a YAML configuration file at path, validates it against the
// recognised-key schema, expands "~" paths, and binds it to a Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := validateSchema(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Mode = Mode(normalizeMode(string(cfg.Mode)))
	cfg.Database.Path = expandHome(cfg.Database.Path)
	cfg.Guardrails.BasePath = expandHome(cfg.Guardrails.BasePath)
	cfg.Guardrails.AgentsPath = expandHome(cfg.Guardrails.AgentsPath)
	cfg.Logging.File = expandHome(cfg.Logging.File)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "standard")
	v.SetDefault("default_agent", "auto")
	v.SetDefault("database.path", "~/.guardloop/guardloop.db")
	v.SetDefault("guardrails.base_path", "~/.guardloop/guardrails")
	v.SetDefault("logging.level", "info")
	v.SetDefault("features.background_analysis", true)
	v.SetDefault("features.analysis_worker", true)
	v.SetDefault("features.metrics_worker", true)
	v.SetDefault("features.markdown_export", true)
	v.SetDefault("features.cleanup_worker", true)
}

func validateSchema(settings map[string]any) error {
	schemaLoader := gojsonschema.NewStringLoader(configSchema)
	docLoader := gojsonschema.NewGoLoader(settings)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("run schema validation: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema violations: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func normalizeMode(m string) string {
	if Mode(m) == ModeStrict {
		return string(ModeStrict)
	}
	return string(ModeStandard)
}

// expandHome expands a leading "~" to the user's home directory.
func expandHome(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
