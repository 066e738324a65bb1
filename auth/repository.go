package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	SetVerified(ctx context.Context, email string, verified bool) (User, error)
	UpdateProfile(ctx context.Context, email string, update ProfileUpdate) (User, error)
	// SetDocuments stores the document URLs and clears the verified flag.
	SetDocuments(ctx context.Context, email string, docs Documents) (User, error)
	// ListPendingVerifications returns unverified tradesmen with documents,
	// oldest submission first.
	ListPendingVerifications(ctx context.Context, limit int) ([]User, error)
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	Email        string
	DisplayName  string
	PasswordHash string
	Role         Role
	Description  *string
	Location     *string
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id::text, email, display_name, password_hash, role, description, location, verified,
	certificate_image_url, id_image_url, selfie_image_url, job_image_urls, created_at, updated_at`

// CreateUser inserts a new user with hashed password.
func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	insertSQL := `
		INSERT INTO users (email, display_name, password_hash, role, description, location)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, insertSQL,
		params.Email, params.DisplayName, params.PasswordHash, params.Role, params.Description, params.Location))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("auth: create user: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by email address.
func (r *PGRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by email: %w", err)
	}

	return user, nil
}

// GetUserByID retrieves a user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.Is(err, pgx.ErrNoRows) || (errors.As(err, &pgErr) && pgErr.Code == "22P02") {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by id: %w", err)
	}

	return user, nil
}

// ExistsByEmail reports whether an account is registered under email.
func (r *PGRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("auth: exists by email: %w", err)
	}
	return exists, nil
}

// SetVerified records the outcome of an identity document check.
func (r *PGRepository) SetVerified(ctx context.Context, email string, verified bool) (User, error) {
	updateSQL := `
		UPDATE users SET verified = $2, updated_at = now()
		WHERE email = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, updateSQL, email, verified))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: set verified: %w", err)
	}
	return user, nil
}

// UpdateProfile applies the non-nil fields of update.
func (r *PGRepository) UpdateProfile(ctx context.Context, email string, update ProfileUpdate) (User, error) {
	updateSQL := `
		UPDATE users SET
			display_name   = COALESCE($2, display_name),
			description    = COALESCE($3, description),
			location       = COALESCE($4, location),
			job_image_urls = COALESCE($5, job_image_urls),
			updated_at     = now()
		WHERE email = $1
		RETURNING ` + userColumns

	var jobImages any
	if update.JobImageURLs != nil {
		jobImages = append([]string{}, (*update.JobImageURLs)...)
	}
	user, err := scanUser(r.pool.QueryRow(ctx, updateSQL,
		email, update.DisplayName, update.Description, update.Location, jobImages))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: update profile: %w", err)
	}
	return user, nil
}

func (r *PGRepository) SetDocuments(ctx context.Context, email string, docs Documents) (User, error) {
	updateSQL := `
		UPDATE users SET
			certificate_image_url = $2,
			id_image_url          = $3,
			selfie_image_url      = $4,
			verified              = false,
			updated_at            = now()
		WHERE email = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, updateSQL,
		email, docs.CertificateImageURL, docs.IDImageURL, docs.SelfieImageURL))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: set documents: %w", err)
	}
	return user, nil
}

func (r *PGRepository) ListPendingVerifications(ctx context.Context, limit int) ([]User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE role = 'tradesman' AND NOT verified
		  AND certificate_image_url IS NOT NULL
		  AND id_image_url IS NOT NULL
		  AND selfie_image_url IS NOT NULL
		ORDER BY updated_at ASC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("auth: list pending verifications: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("auth: scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auth: iterate users: %w", err)
	}
	return users, nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.Role,
		&user.Description,
		&user.Location,
		&user.Verified,
		&user.CertificateImageURL,
		&user.IDImageURL,
		&user.SelfieImageURL,
		&user.JobImageURLs,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}
