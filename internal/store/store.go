// Package store persists customers and upload bookkeeping in Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store persists customers and uploads in Postgres.
type Store struct {
	pool   *pgxpool.Pool
	schema string
}

// New wraps an existing pool. Tables live in schema.
func New(pool *pgxpool.Pool, schema string) (*Store, error) {
	schema, err := SanitizeSchema(schema)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, schema: schema}, nil
}

// Open connects to the database at connString and pings it.
func Open(ctx context.Context, connString, schema string) (*Store, error) {
	schema, err := SanitizeSchema(schema)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, schema: schema}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// SanitizeSchema accepts a bare SQL identifier. Schema names are interpolated
// into statements, so nothing else is allowed through.
func SanitizeSchema(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("db schema is required")
	}
	if !schemaName.MatchString(value) {
		return "", fmt.Errorf("invalid schema name: %s", value)
	}
	return value, nil
}

func (s *Store) table(name string) string {
	return s.schema + "." + name
}

// EnsureSchema creates the schema, tables and indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s.schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id uuid PRIMARY KEY,
				tenant_id text NOT NULL,
				name text NOT NULL,
				email text,
				phone text,
				company text,
				segment text,
				last_activity_date text,
				total_revenue double precision NOT NULL DEFAULT 0,
				support_tickets integer NOT NULL DEFAULT 0,
				churn_score double precision NOT NULL DEFAULT 0,
				risk_level text NOT NULL,
				risk_factors jsonb NOT NULL DEFAULT '[]',
				recommended_action text,
				metadata jsonb NOT NULL DEFAULT '{}',
				created_at timestamptz NOT NULL DEFAULT now(),
				updated_at timestamptz NOT NULL DEFAULT now()
			)`, s.table("customers")),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id uuid PRIMARY KEY,
				tenant_id text NOT NULL,
				file_name text NOT NULL,
				object_key text,
				status text NOT NULL,
				records_imported integer NOT NULL DEFAULT 0,
				records_failed integer NOT NULL DEFAULT 0,
				validation_results jsonb,
				error_message text,
				created_at timestamptz NOT NULL DEFAULT now(),
				completed_at timestamptz
			)`, s.table("file_uploads")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_customers_tenant_idx ON %s (tenant_id, churn_score DESC)`,
			s.schema, s.table("customers")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_file_uploads_tenant_idx ON %s (tenant_id, created_at DESC)`,
			s.schema, s.table("file_uploads")),
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
