package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("listing: not found")

type Repository interface {
	Create(ctx context.Context, post Post) (Post, error)
	Get(ctx context.Context, id string) (Post, error)
	List(ctx context.Context, filters Filters) ([]Post, int, error)
	// Remove deletes the post after authorize accepts the locked row.
	Remove(ctx context.Context, id string, authorize func(Post) error) (Post, error)

	// Save and Unsave are idempotent.
	Save(ctx context.Context, userEmail, id string) error
	Unsave(ctx context.Context, userEmail, id string) error
	ListSaved(ctx context.Context, userEmail string) ([]Post, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const postColumns = `id::text, kind, title, description, price, location, latitude, longitude,
       job_type, image_url, posted_by, posted_by_name, created_at`

func (r *PGRepository) Create(ctx context.Context, post Post) (Post, error) {
	query := `
        INSERT INTO listings (id, kind, title, description, price, location, latitude, longitude,
            job_type, image_url, posted_by, posted_by_name)
        VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING ` + postColumns

	lat, lng := coordinates(post.Coordinates)
	row := r.pool.QueryRow(ctx, query,
		post.ID,
		post.Kind,
		post.Title,
		post.Description,
		post.Price,
		post.Location,
		lat,
		lng,
		post.JobType,
		post.ImageURL,
		post.PostedBy,
		post.PostedByName,
	)
	created, err := scanPost(row)
	if err != nil {
		return Post{}, fmt.Errorf("listing: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Post, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM listings WHERE id = $1`, id)
	post, err := scanPost(row)
	if err != nil {
		return Post{}, mapLookupErr("get", err)
	}
	return post, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Post, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.Kind != "" {
		where = append(where, fmt.Sprintf("kind=$%d", len(args)+1))
		args = append(args, filters.Kind)
	}
	if filters.PostedBy != "" {
		where = append(where, fmt.Sprintf("posted_by=$%d", len(args)+1))
		args = append(args, filters.PostedBy)
	}
	if filters.JobType != "" {
		where = append(where, fmt.Sprintf("job_type=$%d", len(args)+1))
		args = append(args, filters.JobType)
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	orderBy := "created_at DESC, id"
	orderArgs := []any{}
	switch filters.Sort {
	case SortPriceAsc:
		orderBy = "price ASC, created_at DESC, id"
	case SortPriceDesc:
		orderBy = "price DESC, created_at DESC, id"
	case SortDistance:
		if filters.Near != nil {
			// Equirectangular approximation; only the ordering matters.
			lat := len(args) + 1
			lng := len(args) + 2
			orderBy = fmt.Sprintf(`power(latitude - $%d, 2) + power((longitude - $%d) * cos(radians($%d)), 2) ASC NULLS LAST, created_at DESC, id`, lat, lng, lat)
			orderArgs = []any{filters.Near.Latitude, filters.Near.Longitude}
		}
	}

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`SELECT %s FROM listings%s ORDER BY %s LIMIT %d OFFSET %d`, postColumns, whereClause, orderBy, limit, offset)
	rows, err := r.pool.Query(ctx, query, append(append([]any{}, args...), orderArgs...)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing: query list: %w", err)
	}
	defer rows.Close()

	list := []Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("listing: scan: %w", err)
		}
		list = append(list, post)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("listing: iterate: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM listings"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("listing: count list: %w", err)
	}

	return list, total, nil
}

func (r *PGRepository) Remove(ctx context.Context, id string, authorize func(Post) error) (Post, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Post{}, fmt.Errorf("listing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	post, err := scanPost(tx.QueryRow(ctx, `SELECT `+postColumns+` FROM listings WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Post{}, mapLookupErr("get for update", err)
	}
	if err := authorize(post); err != nil {
		return Post{}, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id); err != nil {
		return Post{}, fmt.Errorf("listing: delete: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Post{}, fmt.Errorf("listing: commit tx: %w", err)
	}
	return post, nil
}

func (r *PGRepository) Save(ctx context.Context, userEmail, id string) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO saved_listings (user_email, listing_id)
        VALUES ($1, $2)
        ON CONFLICT DO NOTHING`, userEmail, id)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23503: the listing was removed in the meantime.
		if errors.As(err, &pgErr) && (pgErr.Code == "23503" || pgErr.Code == "22P02") {
			return ErrNotFound
		}
		return fmt.Errorf("listing: save: %w", err)
	}
	return nil
}

func (r *PGRepository) Unsave(ctx context.Context, userEmail, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM saved_listings WHERE user_email = $1 AND listing_id::text = $2`, userEmail, id)
	if err != nil {
		return fmt.Errorf("listing: unsave: %w", err)
	}
	return nil
}

func (r *PGRepository) ListSaved(ctx context.Context, userEmail string) ([]Post, error) {
	query := `
        SELECT ` + prefixed("l.", postColumns) + `
        FROM saved_listings s
        JOIN listings l ON l.id = s.listing_id
        WHERE s.user_email = $1
        ORDER BY s.created_at DESC, l.id`

	rows, err := r.pool.Query(ctx, query, userEmail)
	if err != nil {
		return nil, fmt.Errorf("listing: list saved: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("listing: scan saved: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing: iterate saved: %w", err)
	}
	return posts, nil
}

// prefixed qualifies every column in a comma separated list.
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanPost(row pgx.Row) (Post, error) {
	var (
		post     Post
		lat, lng *float64
	)
	err := row.Scan(
		&post.ID,
		&post.Kind,
		&post.Title,
		&post.Description,
		&post.Price,
		&post.Location,
		&lat,
		&lng,
		&post.JobType,
		&post.ImageURL,
		&post.PostedBy,
		&post.PostedByName,
		&post.CreatedAt,
	)
	if err != nil {
		return Post{}, err
	}
	if lat != nil && lng != nil {
		post.Coordinates = &Point{Latitude: *lat, Longitude: *lng}
	}
	return post, nil
}

func coordinates(p *Point) (any, any) {
	if p == nil {
		return nil, nil
	}
	return p.Latitude, p.Longitude
}

func mapLookupErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
		return ErrNotFound
	}
	return fmt.Errorf("listing: %s: %w", op, err)
}
