// Package audit implements the append-only audit trail for pipeline runs.
//
// Every workflow execution, agent invocation, decision point and state
// transition is recorded in SQLite. Rows are never updated after the fact,
// with one exception: an execution row gains its completion fields when the
// run finishes.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Log is the append-only audit trail backed by SQLite.
type Log struct {
	db *sql.DB
}

// Execution is one recorded workflow run.
type Execution struct {
	ExecutionID       string  `json:"execution_id"`
	ThreadID          string  `json:"thread_id"`
	InputFile         string  `json:"input_file"`
	StartedAt         string  `json:"started_at"`
	CompletedAt       *string `json:"completed_at,omitempty"`
	Status            string  `json:"status"`
	FinalStep         string  `json:"final_step"`
	TotalRequirements int     `json:"total_requirements"`
	NovelRequirements int     `json:"novel_requirements"`
	StoriesGenerated  int     `json:"stories_generated"`
	IssuesCreated     int     `json:"issues_created"`
	ErrorCount        int     `json:"error_count"`
}

// Invocation is one recorded LLM agent call.
type Invocation struct {
	ID           int64          `json:"id"`
	ExecutionID  string         `json:"execution_id"`
	AgentType    string         `json:"agent_type"`
	StepName     string         `json:"step_name"`
	Model        string         `json:"model"`
	DurationMS   int64          `json:"duration_ms"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    string         `json:"created_at"`
}

// InvocationRecord is the write-side shape for one agent call.
type InvocationRecord struct {
	AgentType    string
	StepName     string
	Model        string
	Duration     time.Duration
	InputTokens  int
	OutputTokens int
	Input        map[string]any
	Output       map[string]any
	Err          error
}

// Decision is one recorded branch taken during a run.
type Decision struct {
	ID           int64          `json:"id"`
	ExecutionID  string         `json:"execution_id"`
	DecisionType string         `json:"decision_type"`
	Decision     string         `json:"decision"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    string         `json:"created_at"`
}

// Transition is one recorded step boundary.
type Transition struct {
	ID           int64          `json:"id"`
	ExecutionID  string         `json:"execution_id"`
	FromStep     string         `json:"from_step"`
	ToStep       string         `json:"to_step"`
	StateSummary map[string]any `json:"state_summary,omitempty"`
	CreatedAt    string         `json:"created_at"`
}

// ExecutionAudit is the full trail for one execution.
type ExecutionAudit struct {
	Execution   Execution    `json:"execution"`
	Invocations []Invocation `json:"invocations"`
	Decisions   []Decision   `json:"decisions"`
	Transitions []Transition `json:"transitions"`
}

// TokenUsage aggregates token counts across invocations. ByAgent breaks the
// same totals down per agent type.
type TokenUsage struct {
	InputTokens  int                   `json:"input_tokens"`
	OutputTokens int                   `json:"output_tokens"`
	TotalTokens  int                   `json:"total_tokens"`
	Invocations  int                   `json:"invocations"`
	ByAgent      map[string]TokenUsage `json:"by_agent,omitempty"`
}

// CompletionSummary carries the final counters for an execution.
type CompletionSummary struct {
	Status            string
	FinalStep         string
	TotalRequirements int
	NovelRequirements int
	StoriesGenerated  int
	IssuesCreated     int
	ErrorCount        int
}

// Open creates the audit log at path, creating the parent directory and
// schema as needed.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("audit: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("audit: pragma %q: %w", p, err)
		}
	}

	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		return nil, fmt.Errorf("audit: migration: %w", err)
	}
	return l, nil
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	return l.db.Close()
}

func (l *Log) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS workflow_executions (
			execution_id       TEXT PRIMARY KEY,
			thread_id          TEXT NOT NULL,
			input_file         TEXT NOT NULL,
			started_at         TEXT NOT NULL DEFAULT (datetime('now')),
			completed_at       TEXT,
			status             TEXT NOT NULL DEFAULT 'running',
			final_step         TEXT NOT NULL DEFAULT '',
			total_requirements INTEGER NOT NULL DEFAULT 0,
			novel_requirements INTEGER NOT NULL DEFAULT 0,
			stories_generated  INTEGER NOT NULL DEFAULT 0,
			issues_created     INTEGER NOT NULL DEFAULT 0,
			error_count        INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS agent_invocations (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id  TEXT    NOT NULL,
			agent_type    TEXT    NOT NULL,
			step_name     TEXT    NOT NULL DEFAULT '',
			model         TEXT    NOT NULL,
			duration_ms   INTEGER NOT NULL DEFAULT 0,
			input_tokens  INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			input_data    TEXT,
			output_data   TEXT,
			success       INTEGER NOT NULL DEFAULT 1,
			error         TEXT,
			created_at    TEXT    NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (execution_id) REFERENCES workflow_executions(execution_id)
		);

		CREATE TABLE IF NOT EXISTS decision_points (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id  TEXT NOT NULL,
			decision_type TEXT NOT NULL,
			decision      TEXT NOT NULL,
			details       TEXT,
			created_at    TEXT NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (execution_id) REFERENCES workflow_executions(execution_id)
		);

		CREATE TABLE IF NOT EXISTS state_transitions (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id  TEXT NOT NULL,
			from_step     TEXT NOT NULL,
			to_step       TEXT NOT NULL,
			state_summary TEXT,
			created_at    TEXT NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (execution_id) REFERENCES workflow_executions(execution_id)
		);

		CREATE INDEX IF NOT EXISTS idx_invocations_exec ON agent_invocations(execution_id);
		CREATE INDEX IF NOT EXISTS idx_invocations_agent ON agent_invocations(agent_type);
		CREATE INDEX IF NOT EXISTS idx_decisions_exec ON decision_points(execution_id);
		CREATE INDEX IF NOT EXISTS idx_transitions_exec ON state_transitions(execution_id);
		CREATE INDEX IF NOT EXISTS idx_executions_started ON workflow_executions(started_at DESC);
	`
	_, err := l.db.Exec(schema)
	return err
}

// StartExecution records the beginning of a workflow run.
func (l *Log) StartExecution(ctx context.Context, executionID, threadID, inputFile string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO workflow_executions (execution_id, thread_id, input_file, status)
		 VALUES (?, ?, ?, 'running')`,
		executionID, threadID, inputFile,
	)
	if err != nil {
		return fmt.Errorf("audit: start execution: %w", err)
	}
	return nil
}

// CompleteExecution fills in the completion fields of an execution row.
// This is the only mutation the log performs on existing rows.
func (l *Log) CompleteExecution(ctx context.Context, executionID string, summary CompletionSummary) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE workflow_executions
		 SET completed_at = datetime('now'),
		     status = ?,
		     final_step = ?,
		     total_requirements = ?,
		     novel_requirements = ?,
		     stories_generated = ?,
		     issues_created = ?,
		     error_count = ?
		 WHERE execution_id = ?`,
		summary.Status, summary.FinalStep, summary.TotalRequirements, summary.NovelRequirements,
		summary.StoriesGenerated, summary.IssuesCreated, summary.ErrorCount,
		executionID,
	)
	if err != nil {
		return fmt.Errorf("audit: complete execution: %w", err)
	}
	return nil
}

// LogAgentInvocation records one LLM call with timing, token counts and
// serialized input/output summaries.
func (l *Log) LogAgentInvocation(ctx context.Context, executionID string, rec InvocationRecord) error {
	success := 1
	errText := sql.NullString{}
	if rec.Err != nil {
		success = 0
		errText = sql.NullString{String: rec.Err.Error(), Valid: true}
	}

	inputJSON, err := marshalOptional(rec.Input)
	if err != nil {
		return fmt.Errorf("audit: encode invocation input: %w", err)
	}
	outputJSON, err := marshalOptional(rec.Output)
	if err != nil {
		return fmt.Errorf("audit: encode invocation output: %w", err)
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO agent_invocations (execution_id, agent_type, step_name, model, duration_ms, input_tokens, output_tokens, input_data, output_data, success, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		executionID, rec.AgentType, rec.StepName, rec.Model, rec.Duration.Milliseconds(),
		rec.InputTokens, rec.OutputTokens, inputJSON, outputJSON, success, errText,
	)
	if err != nil {
		return fmt.Errorf("audit: log invocation: %w", err)
	}
	return nil
}

// LogDecision records a branch taken during the run, with optional details.
func (l *Log) LogDecision(ctx context.Context, executionID, decisionType, decision string, details map[string]any) error {
	detailsJSON, err := marshalOptional(details)
	if err != nil {
		return fmt.Errorf("audit: encode decision details: %w", err)
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO decision_points (execution_id, decision_type, decision, details)
		 VALUES (?, ?, ?, ?)`,
		executionID, decisionType, decision, detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("audit: log decision: %w", err)
	}
	return nil
}

// LogStateTransition records a step boundary with a compact state summary.
func (l *Log) LogStateTransition(ctx context.Context, executionID, fromStep, toStep string, summary map[string]any) error {
	summaryJSON, err := marshalOptional(summary)
	if err != nil {
		return fmt.Errorf("audit: encode state summary: %w", err)
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO state_transitions (execution_id, from_step, to_step, state_summary)
		 VALUES (?, ?, ?, ?)`,
		executionID, fromStep, toStep, summaryJSON,
	)
	if err != nil {
		return fmt.Errorf("audit: log transition: %w", err)
	}
	return nil
}

// GetExecutionAudit returns the full trail for one execution, each section
// in insertion order.
func (l *Log) GetExecutionAudit(ctx context.Context, executionID string) (*ExecutionAudit, error) {
	var exec Execution
	err := l.db.QueryRowContext(ctx,
		`SELECT execution_id, thread_id, input_file, started_at, completed_at, status, final_step,
		        total_requirements, novel_requirements, stories_generated, issues_created, error_count
		 FROM workflow_executions WHERE execution_id = ?`, executionID,
	).Scan(&exec.ExecutionID, &exec.ThreadID, &exec.InputFile, &exec.StartedAt, &exec.CompletedAt,
		&exec.Status, &exec.FinalStep, &exec.TotalRequirements, &exec.NovelRequirements,
		&exec.StoriesGenerated, &exec.IssuesCreated, &exec.ErrorCount)
	if err != nil {
		return nil, fmt.Errorf("audit: execution %s: %w", executionID, err)
	}

	trail := &ExecutionAudit{Execution: exec}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, execution_id, agent_type, step_name, model, duration_ms, input_tokens, output_tokens,
		        COALESCE(input_data, ''), COALESCE(output_data, ''), success, COALESCE(error, ''), created_at
		 FROM agent_invocations WHERE execution_id = ? ORDER BY id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("audit: invocations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var inv Invocation
		var success int
		var inputJSON, outputJSON string
		if err := rows.Scan(&inv.ID, &inv.ExecutionID, &inv.AgentType, &inv.StepName, &inv.Model,
			&inv.DurationMS, &inv.InputTokens, &inv.OutputTokens, &inputJSON, &outputJSON,
			&success, &inv.Error, &inv.CreatedAt); err != nil {
			return nil, err
		}
		inv.Input = unmarshalOptional(inputJSON)
		inv.Output = unmarshalOptional(outputJSON)
		inv.Success = success == 1
		trail.Invocations = append(trail.Invocations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	decRows, err := l.db.QueryContext(ctx,
		`SELECT id, execution_id, decision_type, decision, COALESCE(details, ''), created_at
		 FROM decision_points WHERE execution_id = ? ORDER BY id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("audit: decisions: %w", err)
	}
	defer decRows.Close()
	for decRows.Next() {
		var dec Decision
		var detailsJSON string
		if err := decRows.Scan(&dec.ID, &dec.ExecutionID, &dec.DecisionType, &dec.Decision, &detailsJSON, &dec.CreatedAt); err != nil {
			return nil, err
		}
		dec.Details = unmarshalOptional(detailsJSON)
		trail.Decisions = append(trail.Decisions, dec)
	}
	if err := decRows.Err(); err != nil {
		return nil, err
	}

	transRows, err := l.db.QueryContext(ctx,
		`SELECT id, execution_id, from_step, to_step, COALESCE(state_summary, ''), created_at
		 FROM state_transitions WHERE execution_id = ? ORDER BY id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("audit: transitions: %w", err)
	}
	defer transRows.Close()
	for transRows.Next() {
		var tr Transition
		var summaryJSON string
		if err := transRows.Scan(&tr.ID, &tr.ExecutionID, &tr.FromStep, &tr.ToStep, &summaryJSON, &tr.CreatedAt); err != nil {
			return nil, err
		}
		tr.StateSummary = unmarshalOptional(summaryJSON)
		trail.Transitions = append(trail.Transitions, tr)
	}
	if err := transRows.Err(); err != nil {
		return nil, err
	}

	return trail, nil
}

// GetTokenUsage aggregates token counts grouped by agent type, optionally
// filtered by execution and/or agent type. Empty filter strings mean no
// filter.
func (l *Log) GetTokenUsage(ctx context.Context, executionID, agentType string) (TokenUsage, error) {
	query := `SELECT agent_type, COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COUNT(*)
	          FROM agent_invocations WHERE 1=1`
	args := []any{}

	if executionID != "" {
		query += " AND execution_id = ?"
		args = append(args, executionID)
	}
	if agentType != "" {
		query += " AND agent_type = ?"
		args = append(args, agentType)
	}
	query += " GROUP BY agent_type"

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return TokenUsage{}, fmt.Errorf("audit: token usage: %w", err)
	}
	defer rows.Close()

	usage := TokenUsage{ByAgent: map[string]TokenUsage{}}
	for rows.Next() {
		var agent string
		var row TokenUsage
		if err := rows.Scan(&agent, &row.InputTokens, &row.OutputTokens, &row.Invocations); err != nil {
			return TokenUsage{}, err
		}
		row.TotalTokens = row.InputTokens + row.OutputTokens
		usage.ByAgent[agent] = row
		usage.InputTokens += row.InputTokens
		usage.OutputTokens += row.OutputTokens
		usage.Invocations += row.Invocations
	}
	if err := rows.Err(); err != nil {
		return TokenUsage{}, fmt.Errorf("audit: token usage: %w", err)
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	return usage, nil
}

// ListRecentExecutions returns executions newest first.
func (l *Log) ListRecentExecutions(ctx context.Context, limit, offset int) ([]Execution, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT execution_id, thread_id, input_file, started_at, completed_at, status, final_step,
		        total_requirements, novel_requirements, stories_generated, issues_created, error_count
		 FROM workflow_executions ORDER BY started_at DESC, execution_id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("audit: list executions: %w", err)
	}
	defer rows.Close()

	var execs []Execution
	for rows.Next() {
		var exec Execution
		if err := rows.Scan(&exec.ExecutionID, &exec.ThreadID, &exec.InputFile, &exec.StartedAt,
			&exec.CompletedAt, &exec.Status, &exec.FinalStep, &exec.TotalRequirements,
			&exec.NovelRequirements, &exec.StoriesGenerated, &exec.IssuesCreated, &exec.ErrorCount); err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func marshalOptional(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalOptional(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
