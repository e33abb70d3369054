package tokenstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Credential is one mailbox identity's OAuth state. Email is the unique key.
type Credential struct {
	Email        string `json:"email"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Expired reports whether the access token has passed its expiry.
func (c Credential) Expired(now time.Time) bool {
	return now.Unix() >= c.ExpiresAt
}

// Store persists credentials keyed by mailbox address.
type Store struct {
	db *sql.DB
}

// Open creates or opens the credential database under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "tokens.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open token database: %w", err)
	}
	// A single connection serializes every read-modify-write sequence.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS user_tokens (
			email TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create user_tokens table: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LoadAll returns every known credential. An empty database yields an empty
// slice, not an error.
func (s *Store) LoadAll(ctx context.Context) ([]Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT email, access_token, refresh_token, expires_at FROM user_tokens ORDER BY email")
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.Email, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return creds, nil
}

// Get returns the credential for email, or nil if none is stored.
func (s *Store) Get(ctx context.Context, email string) (*Credential, error) {
	c := &Credential{}
	err := s.db.QueryRowContext(ctx,
		"SELECT email, access_token, refresh_token, expires_at FROM user_tokens WHERE email = ?",
		email,
	).Scan(&c.Email, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return c, nil
}

// Upsert inserts or replaces the credential for email, last write wins.
func (s *Store) Upsert(ctx context.Context, email, accessToken, refreshToken string, expiresAt int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_tokens (email, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, email, accessToken, refreshToken, expiresAt, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}
