// Package sqlite implements the GuardLoop persistence layer (spec §4.19) on
// top of the database/sql driver internal/sqlitedriver registers — pure-Go
// by default, or SQLCipher when built with cgo and EncryptionOptions.Enabled.
// One embedded relational database holds all entities from pkg/model with
// cascaded deletes on Session and indexes on every foreign key and temporal
// column.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/guardloop/guardloop/internal/sqlitedriver"
	"github.com/guardloop/guardloop/internal/telemetry"
	"github.com/guardloop/guardloop/pkg/model"
)

// dbKeyEnvVar is the fallback source for the encryption key when
// EncryptionOptions.Key is left blank (e.g. injected via deployment secrets
// rather than the YAML config file).
const dbKeyEnvVar = "GUARDLOOP_DB_KEY"

// EncryptionOptions opts Open into SQLCipher's encrypted-at-rest mode.
// Zero value (Enabled: false) opens the database unencrypted.
type EncryptionOptions struct {
	Enabled bool
	Key     string
}

// Store is the connection factory and repository for all GuardLoop entities.
type Store struct {
	db     *sql.DB
	path   string
	tracer telemetry.Tracer
}

// Open opens (creating if necessary) the SQLite file at path and applies
// pending migrations. enc opts into SQLCipher encryption at rest; on a
// binary built without cgo, enc.Enabled makes Open return an error.
func Open(ctx context.Context, path string, tracer telemetry.Tracer, enc EncryptionOptions) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY storms

	if enc.Enabled {
		if !sqlitedriver.EncryptionSupported {
			db.Close()
			return nil, fmt.Errorf("encrypt_at_rest requested but this binary was built without cgo (no SQLCipher support)")
		}
		key := enc.Key
		if key == "" {
			key = os.Getenv(dbKeyEnvVar)
		}
		if key == "" {
			db.Close()
			return nil, fmt.Errorf("encrypt_at_rest requested but no encryption key set (config encryption_key or %s)", dbKeyEnvVar)
		}
		// Must run before any other statement on this connection.
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA key = '%s'", key)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set sqlcipher encryption key: %w", err)
		}
	}

	migrator, err := NewMigrator(db, tracer)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := migrator.MigrateUp(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path, tracer: tracer}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying connection for callers that need raw access
// (e.g. the pattern analyser's windowed scans).
func (s *Store) DB() *sql.DB { return s.db }

// Stats is the get_stats() aggregate from spec §4.19.
type Stats struct {
	SessionCount    int64
	ViolationCount  int64
	FailureCount    int64
	GuardrailCount  int64
	DatabaseBytes   int64
}

// GetStats aggregates row counts and on-disk size.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&st.SessionCount); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM violations").Scan(&st.ViolationCount); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM failure_modes").Scan(&st.FailureCount); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dynamic_guardrails").Scan(&st.GuardrailCount); err != nil {
		return st, err
	}
	if fi, err := os.Stat(s.path); err == nil {
		st.DatabaseBytes = fi.Size()
	}
	return st, nil
}

// Vacuum reclaims free pages, used by the cleanup worker.
func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// SaveSession inserts a session and all of its child rows within one
// transaction, matching the "writes are batched per request" resource model.
func (s *Store) SaveSession(ctx context.Context, sess *model.Session, violations []model.Violation,
	failures []model.FailureMode, activities []model.AgentActivity, contexts []model.ContextTracking,
	classification *model.TaskClassification) error {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, tool, agent, mode, prompt, augmented_prompt, raw_output,
			parsed_output, violation_count, approved, execution_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.CreatedAt.Unix(), sess.Tool, sess.Agent, string(sess.Mode), sess.Prompt,
		sess.AugmentedPrompt, sess.RawOutput, sess.ParsedOutput, sess.ViolationCount, sess.Approved,
		sess.ExecutionMS)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for _, v := range violations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO violations (session_id, guardrail_type, rule_id, severity, description, suggestion, file_path, line)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, string(v.GuardrailType), v.RuleID, string(v.Severity), v.Description, v.Suggestion, v.FilePath, v.Line); err != nil {
			return fmt.Errorf("insert violation: %w", err)
		}
	}
	for _, f := range failures {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO failure_modes (session_id, tool, category, pattern, severity, context, resolution, resolved)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, f.Tool, f.Category, f.Pattern, string(f.Severity), f.Context, f.Resolution, f.Resolved); err != nil {
			return fmt.Errorf("insert failure mode: %w", err)
		}
	}
	for _, a := range activities {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agent_activities (session_id, agent, action, success, execution_ms, error, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, a.Agent, a.Action, a.Success, a.ExecutionMS, a.Error, a.Metadata); err != nil {
			return fmt.Errorf("insert agent activity: %w", err)
		}
	}
	for _, c := range contexts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO context_trackings (session_id, context_type, payload, tokens_used)
			VALUES (?, ?, ?, ?)`,
			sess.ID, string(c.ContextType), c.Payload, c.TokensUsed); err != nil {
			return fmt.Errorf("insert context tracking: %w", err)
		}
	}
	if classification != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_classifications (session_id, task_type, confidence, requires_guardrails, features)
			VALUES (?, ?, ?, ?, ?)`,
			sess.ID, string(classification.TaskType), classification.Confidence, classification.RequiresGuardrails,
			classification.Features); err != nil {
			return fmt.Errorf("insert task classification: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteSessionsOlderThan deletes sessions (and, via cascade, their child
// rows) with created_at older than the cutoff. Returns the number deleted.
func (s *Store) DeleteSessionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete old sessions: %w", err)
	}
	return res.RowsAffected()
}

// RecentFailures returns up to limit failure modes across all sessions,
// most recent first, for the markdown exporter.
func (s *Store) RecentFailures(ctx context.Context, limit int) ([]model.FailureMode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.session_id, f.tool, f.category, f.pattern, f.severity, f.context, f.resolution, f.resolved
		FROM failure_modes f JOIN sessions s ON s.id = f.session_id
		ORDER BY s.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent failures: %w", err)
	}
	defer rows.Close()

	var out []model.FailureMode
	for rows.Next() {
		var f model.FailureMode
		var severity string
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Tool, &f.Category, &f.Pattern, &severity, &f.Context, &f.Resolution, &f.Resolved); err != nil {
			return nil, err
		}
		f.Severity = model.Severity(severity)
		out = append(out, f)
	}
	return out, rows.Err()
}

// FailuresSince returns failure modes recorded since the given time, for the
// pattern analyser and the analysis worker's trend detection.
func (s *Store) FailuresSince(ctx context.Context, since time.Time) ([]model.FailureMode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.session_id, f.tool, f.category, f.pattern, f.severity, f.context, f.resolution, f.resolved
		FROM failure_modes f JOIN sessions s ON s.id = f.session_id
		WHERE s.created_at >= ?`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("query failures since: %w", err)
	}
	defer rows.Close()

	var out []model.FailureMode
	for rows.Next() {
		var f model.FailureMode
		var severity string
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Tool, &f.Category, &f.Pattern, &severity, &f.Context, &f.Resolution, &f.Resolved); err != nil {
			return nil, err
		}
		f.Severity = model.Severity(severity)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ViolationsSince returns violations recorded since the given time.
func (s *Store) ViolationsSince(ctx context.Context, since time.Time) ([]model.Violation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.session_id, v.guardrail_type, v.rule_id, v.severity, v.description, v.suggestion, v.file_path, v.line
		FROM violations v JOIN sessions s ON s.id = v.session_id
		WHERE s.created_at >= ?`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("query violations since: %w", err)
	}
	defer rows.Close()

	var out []model.Violation
	for rows.Next() {
		var v model.Violation
		var gt, sev string
		if err := rows.Scan(&v.ID, &v.SessionID, &gt, &v.RuleID, &sev, &v.Description, &v.Suggestion, &v.FilePath, &v.Line); err != nil {
			return nil, err
		}
		v.GuardrailType, v.Severity = model.GuardrailType(gt), model.Severity(sev)
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpsertLearnedPattern inserts a new pattern or updates frequency/last_seen/
// confidence/exemplars for an existing hash (spec §4.12).
func (s *Store) UpsertLearnedPattern(ctx context.Context, p *model.LearnedPattern) error {
	examplesJSON, err := json.Marshal(p.Examples)
	if err != nil {
		return fmt.Errorf("marshal examples: %w", err)
	}
	metaJSON := p.Metadata
	if metaJSON == "" {
		metaJSON = "{}"
	}

	var existingID int64
	var existingFreq int
	var existingFirstSeen, existingLastSeen int64
	err = s.db.QueryRowContext(ctx, "SELECT id, frequency, first_seen, last_seen FROM learned_patterns WHERE hash = ?", p.Hash).
		Scan(&existingID, &existingFreq, &existingFirstSeen, &existingLastSeen)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO learned_patterns (hash, category, signature, description, frequency, severity,
				first_seen, last_seen, confidence, examples, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Hash, p.Category, p.Signature, p.Description, p.Frequency, string(p.Severity),
			p.FirstSeen.Unix(), p.LastSeen.Unix(), p.Confidence, string(examplesJSON), metaJSON)
		if err != nil {
			return fmt.Errorf("insert learned pattern: %w", err)
		}
	case err != nil:
		return fmt.Errorf("lookup learned pattern: %w", err)
	default:
		// frequency and last_seen are monotonically non-decreasing.
		newFreq := p.Frequency
		if newFreq < existingFreq {
			newFreq = existingFreq
		}
		newLastSeen := p.LastSeen.Unix()
		if newLastSeen < existingLastSeen {
			newLastSeen = existingLastSeen
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE learned_patterns SET frequency = ?, last_seen = ?, confidence = ?, examples = ?, severity = ?
			WHERE id = ?`,
			newFreq, newLastSeen, p.Confidence, string(examplesJSON), string(p.Severity), existingID)
		if err != nil {
			return fmt.Errorf("update learned pattern: %w", err)
		}
	}
	return nil
}

// ListLearnedPatterns returns all learned patterns.
func (s *Store) ListLearnedPatterns(ctx context.Context) ([]model.LearnedPattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hash, category, signature, description, frequency, severity, first_seen, last_seen,
			confidence, examples, metadata FROM learned_patterns`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LearnedPattern
	for rows.Next() {
		var p model.LearnedPattern
		var sev string
		var firstSeen, lastSeen int64
		var examplesJSON string
		if err := rows.Scan(&p.ID, &p.Hash, &p.Category, &p.Signature, &p.Description, &p.Frequency, &sev,
			&firstSeen, &lastSeen, &p.Confidence, &examplesJSON, &p.Metadata); err != nil {
			return nil, err
		}
		p.Severity = model.Severity(sev)
		p.FirstSeen = time.Unix(firstSeen, 0)
		p.LastSeen = time.Unix(lastSeen, 0)
		_ = json.Unmarshal([]byte(examplesJSON), &p.Examples)
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertDynamicGuardrail creates a new guardrail row in StatusTrial.
func (s *Store) InsertDynamicGuardrail(ctx context.Context, g *model.DynamicGuardrail) (int64, error) {
	taskTypesJSON, _ := json.Marshal(g.TaskTypes)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO dynamic_guardrails (pattern_id, rule_text, category, confidence, status, enforcement_mode,
			task_types, created_at, creator, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.PatternID, g.RuleText, g.Category, g.Confidence, string(g.Status), string(g.EnforcementMode),
		string(taskTypesJSON), g.CreatedAt.Unix(), g.Creator, nonEmpty(g.Metadata))
	if err != nil {
		return 0, fmt.Errorf("insert dynamic guardrail: %w", err)
	}
	return res.LastInsertId()
}

// UpdateGuardrailLifecycle applies a lifecycle transition.
func (s *Store) UpdateGuardrailLifecycle(ctx context.Context, id int64, status model.GuardrailStatus,
	enforcement model.EnforcementMode, deactivatedAt *int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE dynamic_guardrails SET status = ?, enforcement_mode = ?, deactivated_at = ? WHERE id = ?",
		string(status), string(enforcement), deactivatedAt, id)
	return err
}

// GetDynamicGuardrail fetches a single guardrail by id.
func (s *Store) GetDynamicGuardrail(ctx context.Context, id int64) (*model.DynamicGuardrail, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pattern_id, rule_text, category, confidence, status, enforcement_mode, task_types,
			created_at, activated_at, deactivated_at, creator, metadata
		FROM dynamic_guardrails WHERE id = ?`, id)
	return scanGuardrail(row)
}

// ListActiveGuardrails returns guardrails in validated/enforced status with
// deactivated_at IS NULL.
func (s *Store) ListActiveGuardrails(ctx context.Context) ([]model.DynamicGuardrail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pattern_id, rule_text, category, confidence, status, enforcement_mode, task_types,
			created_at, activated_at, deactivated_at, creator, metadata
		FROM dynamic_guardrails WHERE status IN ('validated', 'enforced') AND deactivated_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DynamicGuardrail
	for rows.Next() {
		g, err := scanGuardrailRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGuardrail(row rowScanner) (*model.DynamicGuardrail, error) {
	return scanGuardrailRows(row)
}

func scanGuardrailRows(row rowScanner) (*model.DynamicGuardrail, error) {
	var g model.DynamicGuardrail
	var status, enforcement, taskTypesJSON string
	var createdAt int64
	var activatedAt, deactivatedAt sql.NullInt64
	if err := row.Scan(&g.ID, &g.PatternID, &g.RuleText, &g.Category, &g.Confidence, &status, &enforcement,
		&taskTypesJSON, &createdAt, &activatedAt, &deactivatedAt, &g.Creator, &g.Metadata); err != nil {
		return nil, err
	}
	g.Status = model.GuardrailStatus(status)
	g.EnforcementMode = model.EnforcementMode(enforcement)
	g.CreatedAt = time.Unix(createdAt, 0)
	_ = json.Unmarshal([]byte(taskTypesJSON), &g.TaskTypes)
	if activatedAt.Valid {
		t := time.Unix(activatedAt.Int64, 0)
		g.ActivatedAt = &t
	}
	if deactivatedAt.Valid {
		t := time.Unix(deactivatedAt.Int64, 0)
		g.DeactivatedAt = &t
	}
	return &g, nil
}

// UpsertRuleEffectiveness atomically increments a daily rollup row.
func (s *Store) UpsertRuleEffectiveness(ctx context.Context, ruleID int64, date string, prevented, fp, tp bool, confidence float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_effectivenesses (rule_id, date, times_triggered, prevented_failures, true_positives, false_positives, avg_confidence)
		VALUES (?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT (rule_id, date) DO UPDATE SET
			times_triggered = times_triggered + 1,
			prevented_failures = prevented_failures + excluded.prevented_failures,
			true_positives = true_positives + excluded.true_positives,
			false_positives = false_positives + excluded.false_positives,
			avg_confidence = (avg_confidence * (times_triggered) + excluded.avg_confidence) / (times_triggered + 1)`,
		ruleID, date, boolToInt(prevented), boolToInt(tp), boolToInt(fp), confidence)
	return err
}

// EffectivenessTotals sums the rollups for a guardrail across all days.
func (s *Store) EffectivenessTotals(ctx context.Context, ruleID int64) (triggered, prevented, fp, tp int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(times_triggered),0), COALESCE(SUM(prevented_failures),0),
			COALESCE(SUM(false_positives),0), COALESCE(SUM(true_positives),0)
		FROM rule_effectivenesses WHERE rule_id = ?`, ruleID)
	err = row.Scan(&triggered, &prevented, &fp, &tp)
	return
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonEmpty(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

// AppendConversationTurn inserts the next dense turn number for a
// conversation and persists it.
func (s *Store) AppendConversationTurn(ctx context.Context, h *model.ConversationHistory) error {
	var nextTurn int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(turn_number), -1) + 1 FROM conversation_histories WHERE conversation_id = ?",
		h.ConversationID).Scan(&nextTurn)
	if err != nil {
		return fmt.Errorf("compute next turn: %w", err)
	}
	h.TurnNumber = nextTurn

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_histories (conversation_id, turn_number, role, content, created_at, tokens_used, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.ConversationID, h.TurnNumber, string(h.Role), h.Content, h.CreatedAt.Unix(), h.TokensUsed, nonEmpty(h.Metadata))
	return err
}

// LoadConversation returns all turns for a conversation in turn order.
func (s *Store) LoadConversation(ctx context.Context, conversationID string) ([]model.ConversationHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, turn_number, role, content, created_at, tokens_used, metadata
		FROM conversation_histories WHERE conversation_id = ? ORDER BY turn_number ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ConversationHistory
	for rows.Next() {
		var h model.ConversationHistory
		var role string
		var createdAt int64
		if err := rows.Scan(&h.ID, &h.ConversationID, &h.TurnNumber, &role, &h.Content, &createdAt, &h.TokensUsed, &h.Metadata); err != nil {
			return nil, err
		}
		h.Role = model.ConversationRole(role)
		h.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, h)
	}
	return out, rows.Err()
}
