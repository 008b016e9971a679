// Package kv is the pebble-backed persistence backend. It stores the same
// records as the SQLite repositories under prefixed keys:
//
//	user/<id>              user record (JSON)
//	admin/<id>             admin membership
//	log/<seq>              message log entry (JSON)
//	ulog/<user>\x00<seq>   per-user copy of the entry
//	ref/<seq>              thread reference (JSON)
//	seq/<name>             counters
//	setting/<key>          bot settings
package kv

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	pebble "github.com/cockroachdb/pebble"

	"github.com/notepid/relaybot/internal/apperr"
	"github.com/notepid/relaybot/internal/user"
)

// Store is a pebble database holding users, admins, the message log and
// thread references. Read-modify-write operations are serialized by mu.
type Store struct {
	db *pebble.DB
	mu sync.Mutex
}

// Open opens or creates the database directory at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func seqKey(prefix string, seq uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], seq)
	return k
}

func userKey(id string) []byte  { return []byte("user/" + id) }
func adminKey(id string) []byte { return []byte("admin/" + id) }
func ulogPrefix(id string) []byte {
	return []byte("ulog/" + id + "\x00")
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func (s *Store) get(key []byte) ([]byte, bool, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *Store) getJSON(key []byte, v any) (bool, error) {
	b, ok, err := s.get(key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// scan calls fn for every key with prefix, in key order.
func (s *Store) scan(prefix []byte, fn func(k, v []byte) error) error {
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return err
	}
	defer it.Close()
	for ok := it.First(); ok; ok = it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

// nextSeq increments counter name inside batch b. Caller holds mu.
func (s *Store) nextSeq(b *pebble.Batch, name string) (uint64, error) {
	key := []byte("seq/" + name)
	raw, ok, err := s.get(key)
	if err != nil {
		return 0, err
	}
	var n uint64
	if ok && len(raw) == 8 {
		n = binary.BigEndian.Uint64(raw)
	}
	n++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	if err := b.Set(key, buf, nil); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) counter(name string) (uint64, error) {
	raw, ok, err := s.get([]byte("seq/" + name))
	if err != nil || !ok || len(raw) != 8 {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

// userRecord is the stored form of user.User.
type userRecord struct {
	ID                  string      `json:"id"`
	Username            string      `json:"username,omitempty"`
	DisplayName         string      `json:"display_name,omitempty"`
	Blocked             bool        `json:"blocked"`
	RecentActivity      []time.Time `json:"recent_activity,omitempty"`
	ConsolePasswordHash string      `json:"console_password_hash,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	LastActive          time.Time   `json:"last_active"`
}

func (r userRecord) user() *user.User {
	u := user.User(r)
	return &u
}

func (s *Store) putUser(u *user.User) error {
	b, err := json.Marshal(userRecord(*u))
	if err != nil {
		return err
	}
	return s.db.Set(userKey(u.ID), b, pebble.Sync)
}

// GetOrCreate returns the user with id, creating it when unseen. Non-empty
// profile fields overwrite stored ones and last_active is bumped.
func (s *Store) GetOrCreate(id string, p user.Profile, now time.Time) (*user.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec userRecord
	ok, err := s.getJSON(userKey(id), &rec)
	if err != nil {
		return nil, false, fmt.Errorf("get user %s: %w", id, err)
	}
	if !ok {
		rec = userRecord{ID: id, CreatedAt: now}
	}
	if p.Username != "" {
		rec.Username = p.Username
	}
	if p.DisplayName != "" {
		rec.DisplayName = p.DisplayName
	}
	rec.LastActive = now

	u := rec.user()
	if err := s.putUser(u); err != nil {
		return nil, false, fmt.Errorf("put user %s: %w", id, err)
	}
	return u, !ok, nil
}

// Get retrieves a user by ID.
func (s *Store) Get(id string) (*user.User, error) {
	var rec userRecord
	ok, err := s.getJSON(userKey(id), &rec)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("get user %s: %w", id, apperr.ErrNotFound)
	}
	return rec.user(), nil
}

func (s *Store) update(id string, fn func(u *user.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.Get(id)
	if err != nil {
		return err
	}
	fn(u)
	if err := s.putUser(u); err != nil {
		return fmt.Errorf("put user %s: %w", id, err)
	}
	return nil
}

// SetBlocked changes the block flag of an existing user.
func (s *Store) SetBlocked(id string, blocked bool) error {
	return s.update(id, func(u *user.User) { u.Blocked = blocked })
}

// SetActivity replaces the rate-limit timestamps of an existing user.
func (s *Store) SetActivity(id string, times []time.Time) error {
	return s.update(id, func(u *user.User) { u.RecentActivity = times })
}

// SetConsolePassword stores a bcrypt hash of password. An empty password
// clears it.
func (s *Store) SetConsolePassword(id, password string) error {
	hash := ""
	if password != "" {
		var err error
		if hash, err = user.HashPassword(password); err != nil {
			return err
		}
	}
	return s.update(id, func(u *user.User) { u.ConsolePasswordHash = hash })
}

// List returns users, most recently active first.
func (s *Store) List(f user.ListFilter) ([]*user.User, error) {
	var users []*user.User
	err := s.scan([]byte("user/"), func(_, v []byte) error {
		var rec userRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if f.ActiveOnly && rec.Blocked {
			return nil
		}
		users = append(users, rec.user())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	sort.SliceStable(users, func(i, j int) bool { return users[i].LastActive.After(users[j].LastActive) })
	if f.Limit > 0 && len(users) > f.Limit {
		users = users[:f.Limit]
	}
	return users, nil
}

// Count returns the number of users.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.scan([]byte("user/"), func(_, _ []byte) error {
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
