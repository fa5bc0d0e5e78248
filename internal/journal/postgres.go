package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/docflow/model"
)

// Schema creates the transition_events table used by PgJournal.
const Schema = `
CREATE TABLE IF NOT EXISTS transition_events (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	action      TEXT NOT NULL,
	role        TEXT NOT NULL,
	actor_id    TEXT NOT NULL DEFAULT '',
	from_state  TEXT NOT NULL,
	to_state    TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transition_events_document_idx
	ON transition_events (document_id, created_at);
`

// PgJournal is a PostgreSQL-backed Journal using pgx/v5.
type PgJournal struct {
	pool *pgxpool.Pool
}

// NewPgJournal creates a new PostgreSQL journal.
func NewPgJournal(pool *pgxpool.Pool) *PgJournal {
	return &PgJournal{pool: pool}
}

// Connect opens a pool for dsn and ensures the schema exists.
func Connect(ctx context.Context, dsn string) (*PgJournal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open postgres pool: %w", err)
	}
	j := NewPgJournal(pool)
	if err := j.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return j, nil
}

// EnsureSchema creates the events table if it does not exist.
func (j *PgJournal) EnsureSchema(ctx context.Context) error {
	if _, err := j.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("journal: create schema: %w", err)
	}
	return nil
}

// Append inserts an event.
func (j *PgJournal) Append(ctx context.Context, event model.TransitionEvent) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO transition_events (
			id, document_id, action, role, actor_id,
			from_state, to_state, outcome, error, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.ID, event.DocumentID, string(event.Action), string(event.Role), event.ActorID,
		string(event.From), string(event.To), event.Outcome, event.Error,
		event.Duration.Milliseconds(), event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert transition event: %w", err)
	}
	return nil
}

// List returns the most recent events of a document, oldest first.
func (j *PgJournal) List(ctx context.Context, documentID string, limit int) ([]model.TransitionEvent, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT id, document_id, action, role, actor_id,
		       from_state, to_state, outcome, error, duration_ms, created_at
		FROM (
			SELECT * FROM transition_events
			WHERE document_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`,
		documentID, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query transition events: %w", err)
	}
	return pgx.CollectRows(rows, scanEvent)
}

func scanEvent(row pgx.CollectableRow) (model.TransitionEvent, error) {
	var (
		ev                     model.TransitionEvent
		action, role, from, to string
		durationMs             int64
	)
	if err := row.Scan(
		&ev.ID, &ev.DocumentID, &action, &role, &ev.ActorID,
		&from, &to, &ev.Outcome, &ev.Error, &durationMs, &ev.Timestamp,
	); err != nil {
		return model.TransitionEvent{}, fmt.Errorf("scan transition event: %w", err)
	}
	ev.Action = model.ActionID(action)
	ev.Role = model.Role(role)
	ev.From = model.WorkflowState(from)
	ev.To = model.WorkflowState(to)
	ev.Duration = time.Duration(durationMs) * time.Millisecond
	return ev, nil
}

// HealthCheck pings the database.
func (j *PgJournal) HealthCheck(ctx context.Context) error {
	return j.pool.Ping(ctx)
}

// Close releases the pool.
func (j *PgJournal) Close() {
	j.pool.Close()
}
