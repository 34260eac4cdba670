package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory reads users and device push tokens from PostgreSQL.
//
// The pool is owned by the caller.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

var _ Directory = (*PostgresDirectory)(nil)

// Option configures PostgresDirectory behavior.
type Option func(*PostgresDirectory) error

// WithSchema sets the DB schema (default: "haven").
func WithSchema(schema string) Option {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("directory: empty schema")
		}
		if !pgIdentRE.MatchString(schema) {
			return errors.New("directory: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a Postgres-backed Directory.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...Option) (*PostgresDirectory, error) {
	d := &PostgresDirectory{pool: pool, schema: "haven"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, errors.New("directory: nil pool")
	}
	return d, nil
}

// SchemaSQL returns the DDL PostgresDirectory reads from.
func SchemaSQL(schema string) string {
	users := pgx.Identifier{schema, "users"}.Sanitize()
	tokens := pgx.Identifier{schema, "user_push_tokens"}.Sanitize()
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  id           TEXT PRIMARY KEY,
  display_name TEXT NOT NULL DEFAULT '',
  email        TEXT NULL,
  phone        TEXT NULL,
  notify_push  BOOLEAN NOT NULL DEFAULT true,
  notify_email BOOLEAN NOT NULL DEFAULT true,
  notify_sms   BOOLEAN NOT NULL DEFAULT false,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[2]s (
  user_id    TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
  token      TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (user_id, token)
);
`, users, tokens)
}

// EnsureSchema creates the directory tables if they do not exist.
func (d *PostgresDirectory) EnsureSchema(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{d.schema}.Sanitize()); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := d.pool.Exec(ctx, SchemaSQL(d.schema)); err != nil {
		return fmt.Errorf("apply directory schema: %w", err)
	}
	return nil
}

// Lookup loads one user and their push tokens.
func (d *PostgresDirectory) Lookup(ctx context.Context, userID string) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, ErrUserNotFound
	}

	p := Profile{UserID: userID}
	err := d.pool.QueryRow(ctx,
		`SELECT display_name, email, phone, notify_push, notify_email, notify_sms
		   FROM `+pgx.Identifier{d.schema, "users"}.Sanitize()+`
		  WHERE id = $1`,
		userID,
	).Scan(&p.DisplayName, &p.Email, &p.Phone, &p.Prefs.Push, &p.Prefs.Email, &p.Prefs.SMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrUserNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("lookup user: %w", err)
	}

	rows, err := d.pool.Query(ctx,
		`SELECT token
		   FROM `+pgx.Identifier{d.schema, "user_push_tokens"}.Sanitize()+`
		  WHERE user_id = $1
		  ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return Profile{}, fmt.Errorf("lookup push tokens: %w", err)
	}
	tokens, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Profile{}, fmt.Errorf("scan push tokens: %w", err)
	}
	p.PushTokens = tokens
	return p, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
