package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrAlreadyReviewed = errors.New("review: already reviewed")
	ErrNotFound        = errors.New("review: not found")
	// ErrConversationNotFound is returned when the review references a
	// conversation that does not exist.
	ErrConversationNotFound = errors.New("review: conversation not found")
)

// Store persists reviews.
type Store interface {
	Insert(ctx context.Context, r Review) (Review, error)
	Exists(ctx context.Context, conversationID, reviewer string) (bool, error)
	Get(ctx context.Context, conversationID, reviewer string) (Review, error)
	ListForReviewee(ctx context.Context, reviewee string, limit int) ([]Review, error)
	Summary(ctx context.Context, reviewee string) (Summary, error)
}

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// Insert stores r unless the reviewer already reviewed the conversation. The
// existing review is never overwritten.
func (r *Repository) Insert(ctx context.Context, rv Review) (Review, error) {
	const q = `
INSERT INTO reviews (conversation_id, reviewer_id, reviewee_id, rating, feedback)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (conversation_id, reviewer_id) DO NOTHING
RETURNING created_at
`
	err := r.db.QueryRow(ctx, q, rv.ConversationID, rv.Reviewer, rv.Reviewee, rv.Rating, rv.Feedback).Scan(&rv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Review{}, ErrAlreadyReviewed
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Review{}, ErrConversationNotFound
		}
		return Review{}, fmt.Errorf("review: insert: %w", err)
	}
	return rv, nil
}

func (r *Repository) Exists(ctx context.Context, conversationID, reviewer string) (bool, error) {
	var exists bool
	const q = `SELECT EXISTS (SELECT 1 FROM reviews WHERE conversation_id = $1 AND reviewer_id = $2)`
	if err := r.db.QueryRow(ctx, q, conversationID, reviewer).Scan(&exists); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			return false, nil
		}
		return false, fmt.Errorf("review: exists: %w", err)
	}
	return exists, nil
}

func (r *Repository) Get(ctx context.Context, conversationID, reviewer string) (Review, error) {
	const q = `
SELECT conversation_id::text, reviewer_id, reviewee_id, rating, feedback, created_at
FROM reviews
WHERE conversation_id = $1 AND reviewer_id = $2
`
	var rv Review
	err := r.db.QueryRow(ctx, q, conversationID, reviewer).Scan(
		&rv.ConversationID, &rv.Reviewer, &rv.Reviewee, &rv.Rating, &rv.Feedback, &rv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Review{}, ErrNotFound
		}
		return Review{}, fmt.Errorf("review: get: %w", err)
	}
	return rv, nil
}

func (r *Repository) ListForReviewee(ctx context.Context, reviewee string, limit int) ([]Review, error) {
	const q = `
SELECT conversation_id::text, reviewer_id, reviewee_id, rating, feedback, created_at
FROM reviews
WHERE reviewee_id = $1
ORDER BY created_at DESC, conversation_id
LIMIT $2
`
	rows, err := r.db.Query(ctx, q, reviewee, limit)
	if err != nil {
		return nil, fmt.Errorf("review: list: %w", err)
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		var rv Review
		if err := rows.Scan(&rv.ConversationID, &rv.Reviewer, &rv.Reviewee, &rv.Rating, &rv.Feedback, &rv.CreatedAt); err != nil {
			return nil, fmt.Errorf("review: scan: %w", err)
		}
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("review: iterate: %w", err)
	}
	return out, nil
}

func (r *Repository) Summary(ctx context.Context, reviewee string) (Summary, error) {
	const q = `SELECT COALESCE(AVG(rating), 0)::float8, COUNT(*) FROM reviews WHERE reviewee_id = $1`
	s := Summary{Reviewee: reviewee}
	if err := r.db.QueryRow(ctx, q, reviewee).Scan(&s.Average, &s.Count); err != nil {
		return Summary{}, fmt.Errorf("review: summary: %w", err)
	}
	return s, nil
}
