package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// ErrNoDatabase means no DSN was given, Docker is unavailable and no local
// server accepted a connection.
var ErrNoDatabase = errors.New("infra: no postgres available")

const (
	stressDB       = "allfixer_stress"
	stressRole     = "allfixer_stress"
	stressPassword = "allfixer_stress"
)

// Postgres is the database a stress run talks to. Shared databases are owned
// by someone else, so runs against them migrate into a throwaway schema.
type Postgres struct {
	DSN    string
	Shared bool

	container *postgres.PostgresContainer
}

// Resolve picks a database in order: dsn, STRESS_TEST_PG_DSN, a Docker
// container, then a freshly provisioned database on a local server.
func Resolve(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
	}
	if dsn != "" {
		return &Postgres{DSN: dsn, Shared: true}, nil
	}
	if dockerRunning(ctx) {
		return startContainer(ctx)
	}
	return provisionLocal(ctx)
}

// Close stops the container, if this run started one.
func (p *Postgres) Close(ctx context.Context) error {
	if p == nil || p.container == nil {
		return nil
	}
	return p.container.Terminate(ctx)
}

func startContainer(ctx context.Context) (*Postgres, error) {
	c, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase(stressDB),
		postgres.WithUsername(stressRole),
		postgres.WithPassword(stressPassword),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("infra: start container: %w", err)
	}
	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("infra: container dsn: %w", err)
	}
	return &Postgres{DSN: dsn, container: c}, nil
}

func dockerRunning(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	cmd := exec.CommandContext(ctx, "docker", "info")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run() == nil
}

// provisionLocal recreates the stress database on 127.0.0.1:5432, owned by a
// dedicated login role.
func provisionLocal(ctx context.Context) (*Postgres, error) {
	admin, err := connectAdmin(ctx)
	if err != nil {
		return nil, err
	}
	defer admin.Close(ctx)

	role := pgx.Identifier{stressRole}.Sanitize()
	db := pgx.Identifier{stressDB}.Sanitize()
	steps := []string{
		fmt.Sprintf(`DO $$ BEGIN CREATE ROLE %s LOGIN PASSWORD '%s'; EXCEPTION WHEN duplicate_object THEN NULL; END $$`, role, stressPassword),
		fmt.Sprintf(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = '%s' AND pid <> pg_backend_pid()`, stressDB),
		"DROP DATABASE IF EXISTS " + db,
		fmt.Sprintf("CREATE DATABASE %s OWNER %s", db, role),
	}
	for _, sql := range steps {
		if _, err := admin.Exec(ctx, sql); err != nil {
			return nil, fmt.Errorf("infra: provision local database: %w", err)
		}
	}
	return &Postgres{
		DSN: fmt.Sprintf("postgres://%s:%s@127.0.0.1:5432/%s?sslmode=disable", stressRole, stressPassword, stressDB),
	}, nil
}

// connectAdmin tries the superuser logins a developer machine usually has.
func connectAdmin(ctx context.Context) (*pgx.Conn, error) {
	users := []string{"postgres"}
	if u := os.Getenv("USER"); u != "" && u != "postgres" {
		users = append(users, u)
	}
	var errs []error
	for _, user := range users {
		for _, secret := range []string{"", ":postgres"} {
			dsn := fmt.Sprintf("postgres://%s%s@127.0.0.1:5432/postgres?sslmode=disable", user, secret)
			cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			conn, err := pgx.Connect(cctx, dsn)
			cancel()
			if err == nil {
				return conn, nil
			}
			errs = append(errs, err)
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrNoDatabase, errors.Join(errs...))
}
