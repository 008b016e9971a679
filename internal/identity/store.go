// Package identity holds user records and the admin set.
//
// Every mutation goes through Store so the block and admin invariants hold
// for all callers: the admin set never becomes empty after Bootstrap, and
// no observer sees a half-applied change. Writes are synchronous: when a
// method returns nil the backing store has the change.
package identity

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/notepid/relaybot/internal/apperr"
	"github.com/notepid/relaybot/internal/user"
)

// Backend is the persistence collaborator behind the store. Implementations
// return apperr.ErrNotFound, ErrAlreadyAdmin, ErrNotAdmin and ErrLastAdmin
// for the domain outcomes; any other error is a storage failure.
type Backend interface {
	GetOrCreate(id string, p user.Profile, now time.Time) (*user.User, bool, error)
	Get(id string) (*user.User, error)
	SetBlocked(id string, blocked bool) error
	SetActivity(id string, times []time.Time) error
	List(f user.ListFilter) ([]*user.User, error)
	Count() (int, error)

	IsAdmin(id string) (bool, error)
	ListAdmins() ([]string, error)
	AddAdmin(id string) error
	RemoveAdmin(id string) error
	SeedAdmins(ids []string) error
}

// Store is the identity store.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	now     func() time.Time
}

// New creates a store over backend.
func New(backend Backend) *Store {
	return &Store{backend: backend, now: time.Now}
}

// SetClock overrides the time source; used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Bootstrap seeds the externally supplied admin set. It fails when the
// resulting admin set would be empty.
func (s *Store) Bootstrap(admins []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.SeedAdmins(admins); err != nil {
		return apperr.Persistence("bootstrap admins", err)
	}
	ids, err := s.backend.ListAdmins()
	if err != nil {
		return apperr.Persistence("bootstrap admins", err)
	}
	if len(ids) == 0 {
		return errors.New("bootstrap: admin set is empty")
	}
	return nil
}

// GetOrCreateUser returns the user with id, creating it on first contact.
// The bool result reports whether the record was created.
func (s *Store) GetOrCreateUser(id string, p user.Profile) (*user.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, created, err := s.backend.GetOrCreate(id, p, s.now())
	if err != nil {
		return nil, false, apperr.Persistence("get or create user "+id, err)
	}
	return u, created, nil
}

// User returns an existing user.
func (s *Store) User(id string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id)
}

func (s *Store) get(id string) (*user.User, error) {
	u, err := s.backend.Get(id)
	if err != nil {
		return nil, classify("get user "+id, err)
	}
	return u, nil
}

// SetBlocked changes the block flag of an existing user.
func (s *Store) SetBlocked(id string, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.SetBlocked(id, blocked); err != nil {
		return classify("set blocked "+id, err)
	}
	return nil
}

// IsBlocked reports the block flag; unseen users are not blocked.
func (s *Store) IsBlocked(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := s.get(id)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Blocked, nil
}

// IsAdmin reports admin set membership.
func (s *Store) IsAdmin(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ok, err := s.backend.IsAdmin(id)
	if err != nil {
		return false, apperr.Persistence("is admin "+id, err)
	}
	return ok, nil
}

// Admins returns a snapshot of the admin set.
func (s *Store) Admins() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.backend.ListAdmins()
	if err != nil {
		return nil, apperr.Persistence("list admins", err)
	}
	return ids, nil
}

// AddAdmin inserts id into the admin set; ErrAlreadyAdmin if present.
func (s *Store) AddAdmin(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.AddAdmin(id); err != nil {
		return classify("add admin "+id, err)
	}
	return nil
}

// RemoveAdmin deletes id from the admin set. ErrNotAdmin when id is not
// an admin, ErrLastAdmin when it is the only one.
func (s *Store) RemoveAdmin(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.RemoveAdmin(id); err != nil {
		return classify("remove admin "+id, err)
	}
	return nil
}

// ActiveUserIDs snapshots the ids of all non-blocked users.
func (s *Store) ActiveUserIDs() ([]string, error) {
	users, err := s.Users(user.ListFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

// Users lists user records.
func (s *Store) Users(f user.ListFilter) ([]*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users, err := s.backend.List(f)
	if err != nil {
		return nil, apperr.Persistence("list users", err)
	}
	return users, nil
}

// UserCount returns the number of known users.
func (s *Store) UserCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.backend.Count()
	if err != nil {
		return 0, apperr.Persistence("count users", err)
	}
	return n, nil
}

// ActivityWindow returns the rate-limit timestamps recorded for id.
func (s *Store) ActivityWindow(id string) ([]time.Time, error) {
	u, err := s.User(id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u.RecentActivity, nil
}

// SetActivityWindow replaces the rate-limit timestamps recorded for id.
func (s *Store) SetActivityWindow(id string, times []time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.SetActivity(id, times); err != nil {
		return classify("set activity "+id, err)
	}
	return nil
}

// classify keeps domain outcomes as they are and marks everything else as a
// persistence failure.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrAlreadyAdmin),
		errors.Is(err, apperr.ErrNotAdmin),
		errors.Is(err, apperr.ErrLastAdmin):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return apperr.Persistence(op, err)
	}
}
