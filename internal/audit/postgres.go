package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/migrations"
)

// PGStore persists events to Postgres. Batches go through the COPY
// protocol; reads come back in publish (sequence) order.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGStore connects, verifies the connection and applies pending
// migrations.
func NewPGStore(ctx context.Context, databaseURL string, logger *slog.Logger) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("audit: parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("audit: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}

	s := &PGStore{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// migrate applies embedded SQL files in name order, tracking applied
// versions in schema_migrations.
func (s *PGStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("audit: create schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("audit: load applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("audit: scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("audit: read applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("audit: list migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") || applied[name] {
			continue
		}
		content, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("audit: read migration %s: %w", name, err)
		}
		s.logger.Info("audit: running migration", "file", name)
		if _, err := s.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("audit: execute migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name,
		); err != nil {
			return fmt.Errorf("audit: record migration %s: %w", name, err)
		}
	}
	return nil
}

// Append inserts a batch using COPY. Payloads are stored as JSONB.
func (s *PGStore) Append(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	columns := []string{"id", "trace_id", "event_type", "key", "sequence_num", "occurred_at", "ui_hint", "payload"}
	rows := make([][]any, len(events))
	for i, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("audit: marshal payload for %s: %w", ev.Type, err)
		}
		rows[i] = []any{
			ev.ID,
			ev.TraceID,
			string(ev.Type),
			ev.Key,
			ev.SequenceNum,
			ev.OccurredAt,
			ev.UIHint,
			payload,
		}
	}

	copyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := s.pool.CopyFrom(copyCtx,
		pgx.Identifier{"healing_events"}, columns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("audit: copy events: %w", err)
	}
	return nil
}

// EventsByTrace returns a trace's events in publish order. Payloads
// come back as decoded JSON, not the original typed structs.
func (s *PGStore) EventsByTrace(ctx context.Context, traceID string, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, trace_id, event_type, key, sequence_num, occurred_at, ui_hint, payload
		FROM healing_events
		WHERE trace_id = $1
		ORDER BY sequence_num ASC
		LIMIT $2
	`, traceID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var ev model.Event
		var typ string
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.TraceID, &typ, &ev.Key, &ev.SequenceNum, &ev.OccurredAt, &ev.UIHint, &payload); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		ev.Type = model.EventType(typ)
		if len(payload) > 0 {
			var decoded any
			if err := json.Unmarshal(payload, &decoded); err != nil {
				return nil, fmt.Errorf("audit: decode payload: %w", err)
			}
			ev.Payload = decoded
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PGStore) Close() {
	s.pool.Close()
}
