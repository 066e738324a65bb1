package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested profile does not exist.
var ErrNotFound = errors.New("profile: not found")

// Repository provides read access to public profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const profileSelect = `
	SELECT u.email, u.display_name, u.role, u.description, u.location, u.verified, u.job_image_urls,
	       COALESCE(r.avg_rating, 0)::float8, COALESCE(r.review_count, 0)::int, u.created_at
	FROM users u
	LEFT JOIN (
		SELECT reviewee_id, AVG(rating) AS avg_rating, COUNT(*) AS review_count
		FROM reviews
		GROUP BY reviewee_id
	) r ON r.reviewee_id = u.email
`

// GetByEmail fetches a profile by the account email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (Profile, error) {
	p, err := scanProfile(r.pool.QueryRow(ctx, profileSelect+` WHERE u.email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("profile: query by email: %w", err)
	}
	return p, nil
}

// ListTradesmen fetches up to limit tradesman profiles, best rated first.
func (r *Repository) ListTradesmen(ctx context.Context, limit int) ([]Profile, error) {
	query := profileSelect + `
	WHERE u.role = 'tradesman'
	ORDER BY COALESCE(r.avg_rating, 0) DESC, u.display_name ASC
	LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("profile: list tradesmen: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, limit)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("profile: scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile: iterate profiles: %w", err)
	}
	return profiles, nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(
		&p.Email,
		&p.DisplayName,
		&p.Role,
		&p.Description,
		&p.Location,
		&p.Verified,
		&p.JobImageURLs,
		&p.AverageRating,
		&p.ReviewCount,
		&p.CreatedAt,
	)
	return p, err
}
