package calllog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aschepis/backscratcher/llmcore/llm"
	"github.com/aschepis/backscratcher/llmcore/migrations"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

const callsTable = "calls"

var callColumns = []string{
	"id", "client", "provider", "operation", "model", "prompt", "status",
	"content", "error_code", "error_message", "finish_reason", "is_complete",
	"prompt_tokens", "output_tokens", "total_tokens", "latency_ms", "started_at", "created_at",
}

// Store persists call outcomes.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a Store over an already migrated database.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "callLog").Logger(),
	}
}

// Open opens (creating if needed) the SQLite database at path, applies
// migrations and returns a Store over it. The caller closes the returned db.
func Open(path string, logger zerolog.Logger) (*Store, *sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := migrations.RunMigrations(db, logger); err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return NewStore(db, logger), db, nil
}

// Record saves an entry and returns its generated ID.
func (s *Store) Record(ctx context.Context, e Entry) (string, error) {
	promptJSON, err := e.Prompt.ToJSON()
	if err != nil {
		return "", fmt.Errorf("marshal prompt: %w", err)
	}

	id := uuid.NewString()
	now := time.Now()
	query := sq.Insert(callsTable).
		Columns(callColumns...).
		Values(
			id, e.Client, e.Provider, string(e.Operation), e.Model, string(promptJSON), string(e.Status),
			e.Content, e.ErrorCode, e.ErrorMessage, e.FinishReason, e.IsComplete,
			e.PromptTokens, e.OutputTokens, e.TotalTokens, e.Latency.Milliseconds(), e.StartedAt.UnixMilli(), now.UnixMilli(),
		)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return "", fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return "", fmt.Errorf("insert call: %w", err)
	}

	s.logger.Debug().
		Str("id", id).
		Str("client", e.Client).
		Str("status", string(e.Status)).
		Msg("Recorded call")
	return id, nil
}

// Filter narrows List results.
type Filter struct {
	Client string
	Status Status
	Limit  uint64 // 0 means no limit
}

// List returns entries matching filter, most recent first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := sq.Select(callColumns...).
		From(callsTable).
		OrderBy("started_at DESC", "created_at DESC")
	if filter.Client != "" {
		query = query.Where(sq.Eq{"client": filter.Client})
	}
	if filter.Status != "" {
		query = query.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err is checked below

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                                 Entry
		operation, promptJSON, status     string
		promptTokens, outputTokens, total sql.NullInt64
		latencyMs, startedAt, createdAt   int64
	)
	err := rows.Scan(
		&e.ID, &e.Client, &e.Provider, &operation, &e.Model, &promptJSON, &status,
		&e.Content, &e.ErrorCode, &e.ErrorMessage, &e.FinishReason, &e.IsComplete,
		&promptTokens, &outputTokens, &total, &latencyMs, &startedAt, &createdAt,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("scan call: %w", err)
	}
	if err := json.Unmarshal([]byte(promptJSON), &e.Prompt); err != nil {
		return Entry{}, fmt.Errorf("unmarshal prompt of call %s: %w", e.ID, err)
	}

	e.Operation = llm.Capability(operation)
	e.Status = Status(status)
	e.PromptTokens = nullableInt(promptTokens)
	e.OutputTokens = nullableInt(outputTokens)
	e.TotalTokens = nullableInt(total)
	e.Latency = time.Duration(latencyMs) * time.Millisecond
	e.StartedAt = time.UnixMilli(startedAt)
	e.CreatedAt = time.UnixMilli(createdAt)
	return e, nil
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
