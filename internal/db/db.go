// Package db provides database utilities and connection handling for the payment service.
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"
)

// MemoryURL selects the in-memory repositories instead of PostgreSQL.
const MemoryURL = "memory://"

// Connection pool defaults.
const (
	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 30 * time.Minute
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// ErrInvalidURL is returned when the database URL cannot be parsed.
var ErrInvalidURL = errors.New("invalid database URL")

//go:embed schema.sql
var schema string

// Schema returns the embedded payment schema.
func Schema() string {
	return schema
}

// IsMemory reports whether rawURL selects the in-memory backend.
func IsMemory(rawURL string) bool {
	return strings.HasPrefix(rawURL, MemoryURL)
}

// WithServiceKey returns rawURL with its password replaced by serviceKey.
// An empty key leaves the URL unchanged.
func WithServiceKey(rawURL, serviceKey string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: expected postgres://user@host/db", ErrInvalidURL)
	}
	if serviceKey == "" {
		return rawURL, nil
	}

	user := "postgres"
	if u.User != nil && u.User.Username() != "" {
		user = u.User.Username()
	}
	u.User = url.UserPassword(user, serviceKey)
	return u.String(), nil
}

// Open connects to PostgreSQL, applies pool defaults and verifies the connection.
func Open(ctx context.Context, rawURL, serviceKey string) (*sql.DB, error) {
	dsn, err := WithServiceKey(rawURL, serviceKey)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(DefaultMaxOpenConns)
	conn.SetMaxIdleConns(DefaultMaxIdleConns)
	conn.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}
