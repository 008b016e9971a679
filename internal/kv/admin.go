package kv

import (
	"fmt"
	"strings"
	"time"

	pebble "github.com/cockroachdb/pebble"

	"github.com/notepid/relaybot/internal/apperr"
)

// IsAdmin reports admin set membership.
func (s *Store) IsAdmin(id string) (bool, error) {
	_, ok, err := s.get(adminKey(id))
	if err != nil {
		return false, fmt.Errorf("is admin %s: %w", id, err)
	}
	return ok, nil
}

// ListAdmins returns the admin ids in sorted order.
func (s *Store) ListAdmins() ([]string, error) {
	var ids []string
	err := s.scan([]byte("admin/"), func(k, _ []byte) error {
		ids = append(ids, strings.TrimPrefix(string(k), "admin/"))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return ids, nil
}

// AddAdmin inserts id into the admin set.
func (s *Store) AddAdmin(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.IsAdmin(id)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("add admin %s: %w", id, apperr.ErrAlreadyAdmin)
	}
	if err := s.db.Set(adminKey(id), []byte(time.Now().UTC().Format(time.RFC3339)), pebble.Sync); err != nil {
		return fmt.Errorf("add admin %s: %w", id, err)
	}
	return nil
}

// RemoveAdmin deletes id from the admin set, refusing to remove the last
// admin.
func (s *Store) RemoveAdmin(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.ListAdmins()
	if err != nil {
		return err
	}
	member := false
	for _, a := range ids {
		if a == id {
			member = true
			break
		}
	}
	if !member {
		return fmt.Errorf("remove admin %s: %w", id, apperr.ErrNotAdmin)
	}
	if len(ids) <= 1 {
		return fmt.Errorf("remove admin %s: %w", id, apperr.ErrLastAdmin)
	}
	if err := s.db.Delete(adminKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("remove admin %s: %w", id, err)
	}
	return nil
}

// SeedAdmins inserts the bootstrap admin ids, keeping any already present.
func (s *Store) SeedAdmins(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()
	now := []byte(time.Now().UTC().Format(time.RFC3339))
	for _, id := range ids {
		ok, err := s.IsAdmin(id)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if err := b.Set(adminKey(id), now, nil); err != nil {
			return fmt.Errorf("seed admin %s: %w", id, err)
		}
	}
	return b.Commit(pebble.Sync)
}

// GetSetting returns a bot setting.
func (s *Store) GetSetting(key string) (string, bool, error) {
	v, ok, err := s.get([]byte("setting/" + key))
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return string(v), ok, nil
}

// EnsureSetting returns the stored value of key, storing generate's result
// first when the key is absent.
func (s *Store) EnsureSetting(key string, generate func() (string, error)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok, err := s.GetSetting(key); err != nil || ok {
		return v, err
	}
	v, err := generate()
	if err != nil {
		return "", err
	}
	if err := s.db.Set([]byte("setting/"+key), []byte(v), pebble.Sync); err != nil {
		return "", fmt.Errorf("put setting %s: %w", key, err)
	}
	return v, nil
}

// PutSetting stores value under key, replacing any previous value.
func (s *Store) PutSetting(key, value string) error {
	if err := s.db.Set([]byte("setting/"+key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}
