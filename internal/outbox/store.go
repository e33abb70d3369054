package outbox

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ScheduledEmail is one outbound email waiting for (or past) delivery.
// From is the owning identity: only a dispatch cycle holding that identity's
// credential may send it.
type ScheduledEmail struct {
	ID            int64     `json:"id"`
	To            string    `json:"to"`
	From          string    `json:"from"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Sent          bool      `json:"sent"`
}

// Due reports whether the email should be delivered at instant now.
func (e ScheduledEmail) Due(now time.Time) bool {
	return !e.Sent && !e.ScheduledTime.After(now)
}

// Store persists scheduled emails. All state transitions run inside
// transactions on a single connection, so concurrent schedule and mark-sent
// calls cannot clobber each other.
type Store struct {
	db *sql.DB
}

// Open creates or opens the scheduled-email database at dbPath.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Schedule appends a new scheduled email unless an existing one already has
// the same owner and subject. It returns the assigned id and whether the
// email was accepted. The duplicate key is deliberately coarse: recipient and
// send time are not part of it.
func (s *Store) Schedule(ctx context.Context, e ScheduledEmail) (int64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var dupes int64
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM scheduled_emails WHERE from_email = ? AND subject = ?",
		e.From, e.Subject,
	).Scan(&dupes)
	if err != nil {
		return 0, false, fmt.Errorf("failed to check duplicates: %w", err)
	}
	if dupes > 0 {
		return 0, false, nil
	}

	// Ids are count+1, monotonic as long as nothing is ever deleted.
	var count int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM scheduled_emails").Scan(&count); err != nil {
		return 0, false, fmt.Errorf("failed to count scheduled emails: %w", err)
	}
	id := count + 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scheduled_emails (id, from_email, to_email, subject, body, scheduled_time, sent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`, id, e.From, e.To, e.Subject, e.Body, e.ScheduledTime.Format(time.RFC3339), time.Now().Unix())
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert scheduled email: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit: %w", err)
	}
	return id, true, nil
}

// IsDuplicate reports whether an email with the same owner and subject is
// already stored, sent or not.
func (s *Store) IsDuplicate(ctx context.Context, e ScheduledEmail) (bool, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM scheduled_emails WHERE from_email = ? AND subject = ?",
		e.From, e.Subject,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check duplicates: %w", err)
	}
	return n > 0, nil
}

// Due returns every unsent email whose scheduled time is at or before now,
// in insertion order.
func (s *Store) Due(ctx context.Context, now time.Time) ([]ScheduledEmail, error) {
	unsent, err := s.query(ctx, "SELECT id, to_email, from_email, subject, body, scheduled_time, sent FROM scheduled_emails WHERE sent = 0 ORDER BY id")
	if err != nil {
		return nil, err
	}

	var due []ScheduledEmail
	for _, e := range unsent {
		if e.Due(now) {
			due = append(due, e)
		}
	}
	return due, nil
}

// List returns every stored email in insertion order.
func (s *Store) List(ctx context.Context) ([]ScheduledEmail, error) {
	return s.query(ctx, "SELECT id, to_email, from_email, subject, body, scheduled_time, sent FROM scheduled_emails ORDER BY id")
}

// MarkSent flips the email's sent flag. Marking an unknown id is a no-op;
// once set the flag is never cleared.
func (s *Store) MarkSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE scheduled_emails SET sent = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark sent: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string) ([]ScheduledEmail, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled emails: %w", err)
	}
	defer rows.Close()

	var emails []ScheduledEmail
	for rows.Next() {
		var e ScheduledEmail
		var scheduledTime string
		var sent int
		if err := rows.Scan(&e.ID, &e.To, &e.From, &e.Subject, &e.Body, &scheduledTime, &sent); err != nil {
			return nil, fmt.Errorf("failed to scan scheduled email: %w", err)
		}
		ts, err := time.Parse(time.RFC3339, scheduledTime)
		if err != nil {
			return nil, fmt.Errorf("invalid scheduled_time for email %d: %w", e.ID, err)
		}
		e.ScheduledTime = ts
		e.Sent = sent != 0
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scheduled emails: %w", err)
	}
	return emails, nil
}
