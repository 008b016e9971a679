package user

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/notepid/relaybot/internal/apperr"
)

// Repo handles database operations for users and the admin set.
type Repo struct {
	db *sql.DB
}

// NewRepo creates a new user repository.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

const userColumns = `id, username, display_name, blocked, recent_activity,
	console_password_hash, created_at, last_active`

// GetOrCreate returns the user with id, inserting a new unblocked record when
// the id is unseen. Non-empty profile fields overwrite the stored ones and
// last_active is bumped either way.
func (r *Repo) GetOrCreate(id string, p Profile, now time.Time) (*User, bool, error) {
	res, err := r.db.Exec(`
		INSERT INTO users (id, username, display_name, created_at, last_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, p.Username, p.DisplayName, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("create user %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	created := n > 0

	if !created {
		if _, err := r.db.Exec(`
			UPDATE users SET
				username = CASE WHEN ? != '' THEN ? ELSE username END,
				display_name = CASE WHEN ? != '' THEN ? ELSE display_name END,
				last_active = ?
			WHERE id = ?
		`, p.Username, p.Username, p.DisplayName, p.DisplayName, now, id); err != nil {
			return nil, false, fmt.Errorf("touch user %s: %w", id, err)
		}
	}

	u, err := r.Get(id)
	return u, created, err
}

// Get retrieves a user by ID.
func (r *Repo) Get(id string) (*User, error) {
	row := r.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get user %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	u := &User{}
	var activity string
	var created, active sql.NullTime
	if err := s.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Blocked, &activity,
		&u.ConsolePasswordHash, &created, &active); err != nil {
		return nil, err
	}
	if activity != "" {
		if err := json.Unmarshal([]byte(activity), &u.RecentActivity); err != nil {
			return nil, fmt.Errorf("decode activity for %s: %w", u.ID, err)
		}
	}
	if created.Valid {
		u.CreatedAt = created.Time
	}
	if active.Valid {
		u.LastActive = active.Time
	}
	return u, nil
}

// SetBlocked changes a user's block flag.
func (r *Repo) SetBlocked(id string, blocked bool) error {
	res, err := r.db.Exec(`UPDATE users SET blocked = ? WHERE id = ?`, blocked, id)
	if err != nil {
		return fmt.Errorf("set blocked %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set blocked %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// SetActivity replaces the stored rate-limit window of a user.
func (r *Repo) SetActivity(id string, times []time.Time) error {
	data, err := json.Marshal(times)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	res, err := r.db.Exec(`UPDATE users SET recent_activity = ? WHERE id = ?`, string(data), id)
	if err != nil {
		return fmt.Errorf("set activity %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set activity %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// List returns users ordered by most recent activity.
func (r *Repo) List(f ListFilter) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	if f.ActiveOnly {
		query += ` WHERE blocked = 0`
	}
	query += ` ORDER BY last_active DESC, id`
	var args []any
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Count returns the number of known users.
func (r *Repo) Count() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// IsAdmin reports admin set membership.
func (r *Repo) IsAdmin(id string) (bool, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM admins WHERE user_id = ?", id).Scan(&count); err != nil {
		return false, fmt.Errorf("check admin %s: %w", id, err)
	}
	return count > 0, nil
}

// ListAdmins returns the admin set ordered by id.
func (r *Repo) ListAdmins() ([]string, error) {
	rows, err := r.db.Query("SELECT user_id FROM admins ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddAdmin inserts id into the admin set.
func (r *Repo) AddAdmin(id string) error {
	res, err := r.db.Exec("INSERT OR IGNORE INTO admins (user_id) VALUES (?)", id)
	if err != nil {
		return fmt.Errorf("add admin %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("add admin %s: %w", id, apperr.ErrAlreadyAdmin)
	}
	return nil
}

// RemoveAdmin deletes id from the admin set. The membership and last-admin
// checks run in the same transaction as the delete.
func (r *Repo) RemoveAdmin(id string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("remove admin %s: %w", id, err)
	}
	defer tx.Rollback()

	var member, total int
	if err := tx.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM admins WHERE user_id = ?),
			(SELECT COUNT(*) FROM admins)
	`, id).Scan(&member, &total); err != nil {
		return fmt.Errorf("remove admin %s: %w", id, err)
	}
	if member == 0 {
		return fmt.Errorf("remove admin %s: %w", id, apperr.ErrNotAdmin)
	}
	if total <= 1 {
		return fmt.Errorf("remove admin %s: %w", id, apperr.ErrLastAdmin)
	}
	if _, err := tx.Exec("DELETE FROM admins WHERE user_id = ?", id); err != nil {
		return fmt.Errorf("remove admin %s: %w", id, err)
	}
	return tx.Commit()
}

// SeedAdmins inserts the bootstrap admin ids, keeping any already present.
func (r *Repo) SeedAdmins(ids []string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("seed admins: %w", err)
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.Exec("INSERT OR IGNORE INTO admins (user_id) VALUES (?)", id); err != nil {
			return fmt.Errorf("seed admin %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// SetConsolePassword stores a bcrypt hash of password for console logins.
// An empty password clears it.
func (r *Repo) SetConsolePassword(id, password string) error {
	hash := ""
	if password != "" {
		var err error
		if hash, err = HashPassword(password); err != nil {
			return err
		}
	}
	res, err := r.db.Exec(`UPDATE users SET console_password_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return fmt.Errorf("set console password %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set console password %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}
