package identity

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notepid/relaybot/internal/apperr"
	"github.com/notepid/relaybot/internal/db"
	"github.com/notepid/relaybot/internal/user"
)

func newTestStore(t *testing.T, admins ...string) *Store {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	s := New(user.NewRepo(d.DB))
	if len(admins) > 0 {
		require.NoError(t, s.Bootstrap(admins))
	}
	return s
}

func TestBootstrapRequiresAnAdmin(t *testing.T) {
	s := newTestStore(t)
	require.Error(t, s.Bootstrap(nil))

	require.NoError(t, s.Bootstrap([]string{"A"}))
	ok, err := s.IsAdmin("A")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetOrCreateThenBlock(t *testing.T) {
	s := newTestStore(t, "A")

	u, created, err := s.GetOrCreateUser("U", user.Profile{Username: "u"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, u.Blocked)

	require.NoError(t, s.SetBlocked("U", true))
	blocked, err := s.IsBlocked("U")
	require.NoError(t, err)
	assert.True(t, blocked)

	ids, err := s.ActiveUserIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.SetBlocked("U", false))
	ids, err = s.ActiveUserIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"U"}, ids)
}

func TestSetBlockedUnknownUser(t *testing.T) {
	s := newTestStore(t, "A")

	err := s.SetBlocked("ghost", true)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NotErrorIs(t, err, apperr.ErrPersistence)

	blocked, err := s.IsBlocked("ghost")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestAdminMembershipErrors(t *testing.T) {
	s := newTestStore(t, "A")

	assert.ErrorIs(t, s.AddAdmin("A"), apperr.ErrAlreadyAdmin)
	assert.ErrorIs(t, s.RemoveAdmin("B"), apperr.ErrNotAdmin)
	assert.ErrorIs(t, s.RemoveAdmin("A"), apperr.ErrLastAdmin)

	require.NoError(t, s.AddAdmin("B"))
	require.NoError(t, s.RemoveAdmin("A"))

	admins, err := s.Admins()
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, admins)
}

func TestConcurrentRemovalKeepsOneAdmin(t *testing.T) {
	s := newTestStore(t, "A", "B", "C")

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for _, id := range []string{"A", "B", "C"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			errs <- s.RemoveAdmin(id)
		}(id)
	}
	wg.Wait()
	close(errs)

	var lastAdmin int
	for err := range errs {
		if errors.Is(err, apperr.ErrLastAdmin) {
			lastAdmin++
		} else {
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 1, lastAdmin)

	admins, err := s.Admins()
	require.NoError(t, err)
	assert.Len(t, admins, 1)
}

func TestActivityWindowRoundTrip(t *testing.T) {
	s := newTestStore(t, "A")
	_, _, err := s.GetOrCreateUser("U", user.Profile{})
	require.NoError(t, err)

	times, err := s.ActivityWindow("nobody")
	require.NoError(t, err)
	assert.Empty(t, times)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetActivityWindow("U", []time.Time{t0, t0.Add(time.Second)}))

	times, err = s.ActivityWindow("U")
	require.NoError(t, err)
	require.Len(t, times, 2)
	assert.True(t, times[1].Equal(t0.Add(time.Second)))
}

type failingBackend struct {
	*user.Repo
}

func (failingBackend) ListAdmins() ([]string, error) { return nil, errors.New("disk gone") }

func TestBackendFailuresArePersistenceErrors(t *testing.T) {
	s := New(failingBackend{})
	_, err := s.Admins()
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Equal(t, "persistence", apperr.Kind(err))
}
