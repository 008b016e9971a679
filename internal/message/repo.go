package message

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notepid/relaybot/internal/apperr"
)

// Repo handles database operations for the message log and thread refs.
type Repo struct {
	db *sql.DB
}

// NewRepo creates a new message repository.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// Append writes a log entry. The referenced user must exist.
func (r *Repo) Append(e Entry) error {
	_, err := r.db.Exec(`
		INSERT INTO messages (entry_id, user_id, admin_id, direction, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, e.AdminID, string(e.Direction), e.Content, e.CreatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("append message for %s: %w", e.UserID, apperr.ErrNotFound)
		}
		return fmt.Errorf("append message for %s: %w", e.UserID, err)
	}
	return nil
}

func isForeignKeyError(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// History returns the newest limit entries of a user, oldest first.
func (r *Repo) History(userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.Query(`
		SELECT entry_id, user_id, admin_id, direction, content, created_at
		FROM messages WHERE user_id = ?
		ORDER BY id DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", userID, err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Recent returns the newest limit entries across all users, newest first.
func (r *Repo) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT entry_id, user_id, admin_id, direction, content, created_at
		FROM messages ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var dir string
		var created sql.NullTime
		if err := rows.Scan(&e.ID, &e.UserID, &e.AdminID, &dir, &e.Content, &created); err != nil {
			return nil, err
		}
		e.Direction = Direction(dir)
		if created.Valid {
			e.CreatedAt = created.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the total number of logged messages.
func (r *Repo) Count() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// NewRef allocates the next thread reference sequence for userID.
func (r *Repo) NewRef(userID string, now time.Time) (uint64, error) {
	res, err := r.db.Exec(`INSERT INTO thread_refs (user_id, created_at) VALUES (?, ?)`, userID, now)
	if err != nil {
		if isForeignKeyError(err) {
			return 0, fmt.Errorf("new ref for %s: %w", userID, apperr.ErrNotFound)
		}
		return 0, fmt.Errorf("new ref for %s: %w", userID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("new ref id: %w", err)
	}
	return uint64(id), nil
}

// LookupRef maps a sequence back to its user.
func (r *Repo) LookupRef(seq uint64) (Ref, error) {
	ref := Ref{Seq: seq}
	var created sql.NullTime
	err := r.db.QueryRow(`SELECT user_id, created_at FROM thread_refs WHERE seq = ?`, int64(seq)).
		Scan(&ref.UserID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Ref{}, fmt.Errorf("lookup ref %d: %w", seq, apperr.ErrNotFound)
	}
	if err != nil {
		return Ref{}, fmt.Errorf("lookup ref %d: %w", seq, err)
	}
	if created.Valid {
		ref.CreatedAt = created.Time
	}
	return ref, nil
}
