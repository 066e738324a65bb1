package agreement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when no conversation row exists for the id.
	ErrNotFound = errors.New("agreement: conversation not found")
	// ErrRevisionConflict signals that another writer moved the revision
	// between read and write.
	ErrRevisionConflict = errors.New("agreement: revision conflict")
)

// Store persists handshake records.
type Store interface {
	Get(ctx context.Context, conversationID string) (Record, error)
	CompareAndSwap(ctx context.Context, conversationID string, expectedRevision int64, next Handshake, events []PendingEvent) (Record, error)
	ListEvents(ctx context.Context, conversationID string) ([]Event, error)
}

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository stores handshake flags on the conversations table.
type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

const selectHandshakeSQL = `
SELECT id::text, participant_a, participant_b, job_accepted_by, job_finished_by, revision, updated_at
FROM conversations
WHERE id = $1
`

func (r *Repository) Get(ctx context.Context, conversationID string) (Record, error) {
	var rec Record
	err := r.db.QueryRow(ctx, selectHandshakeSQL, conversationID).Scan(
		&rec.ConversationID,
		&rec.Participants[0],
		&rec.Participants[1],
		&rec.AcceptedBy,
		&rec.FinishedBy,
		&rec.Revision,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, mapLookupErr(err, "get")
	}
	if err := rec.Validate(); err != nil {
		return Record{}, fmt.Errorf("agreement: corrupt conversation %s: %w", conversationID, err)
	}
	return rec, nil
}

// CompareAndSwap writes next only if the stored revision still equals
// expectedRevision. The derived flags and the audit events are written in
// the same transaction.
func (r *Repository) CompareAndSwap(ctx context.Context, conversationID string, expectedRevision int64, next Handshake, events []PendingEvent) (Record, error) {
	if err := next.Validate(); err != nil {
		return Record{}, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const updateSQL = `
UPDATE conversations
SET job_accepted_by = $3,
    job_finished_by = $4,
    both_accepted = $5,
    job_completed = $6,
    revision = revision + 1,
    updated_at = now()
WHERE id = $1 AND revision = $2
RETURNING revision, updated_at
`
	rec := Record{ConversationID: conversationID, Handshake: next}
	err = tx.QueryRow(ctx, updateSQL,
		conversationID,
		expectedRevision,
		nonNil(next.AcceptedBy),
		nonNil(next.FinishedBy),
		next.BothAccepted(),
		next.Completed(),
	).Scan(&rec.Revision, &rec.UpdatedAt)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("agreement: update handshake: %w", err)
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, conversationID).Scan(&exists); err != nil {
			return Record{}, fmt.Errorf("agreement: check conversation: %w", err)
		}
		if !exists {
			return Record{}, ErrNotFound
		}
		return Record{}, ErrRevisionConflict
	}

	for _, ev := range events {
		if err := insertEvent(ctx, tx, conversationID, rec.Revision, ev); err != nil {
			return Record{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("agreement: commit tx: %w", err)
	}
	return rec, nil
}

func (r *Repository) ListEvents(ctx context.Context, conversationID string) ([]Event, error) {
	const q = `
SELECT id, conversation_id::text, type, actor_id, revision, payload, created_at
FROM conversation_events
WHERE conversation_id = $1
ORDER BY id
`
	rows, err := r.db.Query(ctx, q, conversationID)
	if err != nil {
		return nil, mapLookupErr(err, "list events")
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.ConversationID, &ev.Type, &ev.ActorID, &ev.Revision, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("agreement: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agreement: iterate events: %w", err)
	}
	return events, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, conversationID string, revision int64, ev PendingEvent) error {
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("agreement: marshal event payload: %w", err)
	}
	const q = `
INSERT INTO conversation_events (conversation_id, type, actor_id, revision, payload)
VALUES ($1, $2, $3, $4, $5::jsonb)
`
	if _, err := tx.Exec(ctx, q, conversationID, ev.Type, ev.ActorID, revision, body); err != nil {
		return fmt.Errorf("agreement: insert event: %w", err)
	}
	return nil
}

func mapLookupErr(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	// 22P02: the id is not a valid uuid, which cannot match any row.
	if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
		return ErrNotFound
	}
	return fmt.Errorf("agreement: %s: %w", op, err)
}

func nonNil(set []string) []string {
	if set == nil {
		return []string{}
	}
	return set
}
