package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when the conversation does not exist.
	ErrNotFound = errors.New("chat: conversation not found")
)

// Store persists conversations and their message feeds.
type Store interface {
	Create(ctx context.Context, conv Conversation) (Conversation, bool, error)
	Get(ctx context.Context, id string) (Conversation, error)
	ListForActor(ctx context.Context, actor string) ([]Conversation, error)
	AppendMessage(ctx context.Context, msg Message) (Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
}

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Repository struct {
	db     DB
	logger *slog.Logger
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db, logger: slog.Default()}
}

func (r *Repository) WithLogger(logger *slog.Logger) *Repository {
	if logger != nil {
		r.logger = logger
	}
	return r
}

const conversationColumns = `
id::text, participant_a, participant_b, last_message, last_message_at,
job_accepted_by, job_finished_by, revision, created_at, updated_at`

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(
		&c.ID,
		&c.Participants[0],
		&c.Participants[1],
		&c.LastMessage,
		&c.LastMessageAt,
		&c.AcceptedBy,
		&c.FinishedBy,
		&c.Revision,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

// Create inserts conv unless a row with the same id exists. It returns the
// stored conversation and whether this call created it.
func (r *Repository) Create(ctx context.Context, conv Conversation) (Conversation, bool, error) {
	const q = `
INSERT INTO conversations (id, participant_a, participant_b, last_message, last_message_at, created_at, updated_at)
VALUES ($1, $2, $3, '', $4, $4, $4)
ON CONFLICT DO NOTHING
`
	tag, err := r.db.Exec(ctx, q, conv.ID, conv.Participants[0], conv.Participants[1], conv.CreatedAt)
	if err != nil {
		return Conversation{}, false, fmt.Errorf("chat: insert conversation: %w", err)
	}

	stored, err := r.Get(ctx, conv.ID)
	if err != nil {
		return Conversation{}, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Conversation, error) {
	c, err := scanConversation(r.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if err != nil {
		return Conversation{}, mapLookupErr(err, "get conversation")
	}
	if err := c.Validate(); err != nil {
		return Conversation{}, fmt.Errorf("chat: corrupt conversation %s: %w", id, err)
	}
	return c, nil
}

// ListForActor returns the actor's conversations, most recent activity
// first. Rows that fail validation are logged and skipped.
func (r *Repository) ListForActor(ctx context.Context, actor string) ([]Conversation, error) {
	q := `SELECT ` + conversationColumns + `
FROM conversations
WHERE participant_a = $1 OR participant_b = $1
ORDER BY last_message_at DESC, id`
	rows, err := r.db.Query(ctx, q, actor)
	if err != nil {
		return nil, fmt.Errorf("chat: list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("chat: scan conversation: %w", err)
		}
		if err := c.Validate(); err != nil {
			r.logger.WarnContext(ctx, "skipping invalid conversation row", "conversation_id", c.ID, "error", err)
			continue
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: iterate conversations: %w", err)
	}
	return out, nil
}

// AppendMessage stores msg and moves the conversation summary forward in one
// transaction. The summary only moves when msg is not older than the
// current last message, so it always mirrors the tail of the feed.
func (r *Repository) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("chat: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
INSERT INTO messages (id, conversation_id, sender_id, body, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING seq
`
	if err := tx.QueryRow(ctx, insertSQL, msg.ID, msg.ConversationID, msg.Sender, msg.Text, msg.CreatedAt).Scan(&msg.Seq); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("chat: insert message: %w", err)
	}

	const summarySQL = `
UPDATE conversations
SET last_message = $2,
    last_message_at = $3,
    updated_at = now()
WHERE id = $1 AND last_message_at <= $3
`
	if _, err := tx.Exec(ctx, summarySQL, msg.ConversationID, msg.Text, msg.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("chat: update summary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("chat: commit tx: %w", err)
	}
	return msg, nil
}

// ListMessages returns the feed in ascending (created_at, seq) order.
func (r *Repository) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	const q = `
SELECT id::text, seq, conversation_id::text, sender_id, body, created_at
FROM messages
WHERE conversation_id = $1
ORDER BY created_at, seq
`
	rows, err := r.db.Query(ctx, q, conversationID)
	if err != nil {
		return nil, mapLookupErr(err, "list messages")
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Seq, &m.ConversationID, &m.Sender, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("chat: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: iterate messages: %w", err)
	}
	return out, nil
}

func mapLookupErr(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
		return ErrNotFound
	}
	return fmt.Errorf("chat: %s: %w", op, err)
}
