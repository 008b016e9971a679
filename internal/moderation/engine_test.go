package moderation

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notepid/relaybot/internal/apperr"
	"github.com/notepid/relaybot/internal/db"
	"github.com/notepid/relaybot/internal/identity"
	"github.com/notepid/relaybot/internal/scripting"
	"github.com/notepid/relaybot/internal/user"
)

func newTestEngine(t *testing.T, filter ContentFilter) (*Engine, *identity.Store) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	store := identity.New(user.NewRepo(d.DB))
	require.NoError(t, store.Bootstrap([]string{"A"}))
	_, _, err = store.GetOrCreateUser("U", user.Profile{Username: "u"})
	require.NoError(t, err)
	return New(store, filter), store
}

func TestBlockIsIdempotent(t *testing.T) {
	e, store := newTestEngine(t, nil)

	changed, err := e.Block("A", "U")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = e.Block("A", "U")
	require.NoError(t, err)
	assert.False(t, changed)

	blocked, err := store.IsBlocked("U")
	require.NoError(t, err)
	assert.True(t, blocked)

	changed, err = e.Unblock("A", "U")
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = e.Unblock("A", "U")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestBlockUnknownUser(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	_, err := e.Block("A", "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestNonAdminIsUnauthorized(t *testing.T) {
	e, store := newTestEngine(t, nil)

	_, err := e.Block("U", "U")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.ErrorIs(t, e.Promote("U", "U"), apperr.ErrUnauthorized)
	assert.ErrorIs(t, e.Demote("U", "A"), apperr.ErrUnauthorized)

	ok, err := store.IsAdmin("U")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPromoteDemote(t *testing.T) {
	e, store := newTestEngine(t, nil)

	require.NoError(t, e.Promote("A", "B"))
	assert.ErrorIs(t, e.Promote("A", "B"), apperr.ErrAlreadyAdmin)

	require.NoError(t, e.Demote("B", "A"))
	assert.ErrorIs(t, e.Demote("B", "B"), apperr.ErrLastAdmin)
	assert.ErrorIs(t, e.Demote("B", "A"), apperr.ErrNotAdmin)

	admins, err := store.Admins()
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, admins)
}

type brokenFilter struct{}

func (brokenFilter) Inspect(*user.User, string) (scripting.Verdict, error) {
	return scripting.Verdict{}, errors.New("vm crashed")
}

func TestScreen(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	assert.True(t, e.Screen(&user.User{ID: "U"}, "x").Allow)

	e, _ = newTestEngine(t, brokenFilter{})
	assert.True(t, e.Screen(&user.User{ID: "U"}, "x").Allow, "filter failures fail open")

	f, err := scripting.NewFilterString(`return { inspect = function(m) return false end }`, nil)
	require.NoError(t, err)
	defer f.Close()
	e, _ = newTestEngine(t, f)
	assert.False(t, e.Screen(&user.User{ID: "U"}, "x").Allow)
}
