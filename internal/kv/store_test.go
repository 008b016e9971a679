package kv

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notepid/relaybot/internal/apperr"
	"github.com/notepid/relaybot/internal/message"
	"github.com/notepid/relaybot/internal/user"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "relay"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateKeepsProfile(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	u, created, err := s.GetOrCreate("u1", user.Profile{Username: "alice", DisplayName: "Alice"}, t0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice", u.Username)

	u, created, err = s.GetOrCreate("u1", user.Profile{DisplayName: "Alice B"}, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "alice", u.Username, "empty fields do not overwrite")
	assert.Equal(t, "Alice B", u.DisplayName)
	assert.True(t, u.CreatedAt.Equal(t0))
	assert.True(t, u.LastActive.Equal(t0.Add(time.Minute)))
}

func TestGetUnknownUser(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("nobody")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, s.SetBlocked("nobody", true), apperr.ErrNotFound)
}

func TestBlockAndActivePersist(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	for _, id := range []string{"a", "b", "c"} {
		_, _, err := s.GetOrCreate(id, user.Profile{}, now)
		require.NoError(t, err)
		now = now.Add(time.Second)
	}
	require.NoError(t, s.SetBlocked("b", true))
	acts := []time.Time{now, now.Add(time.Second)}
	require.NoError(t, s.SetActivity("a", acts))

	active, err := s.List(user.ListFilter{ActiveOnly: true})
	require.NoError(t, err)
	var ids []string
	for _, u := range active {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []string{"c", "a"}, ids)

	a, err := s.Get("a")
	require.NoError(t, err)
	require.Len(t, a.RecentActivity, 2)
	assert.True(t, a.RecentActivity[1].Equal(acts[1]))

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestAdminSet(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SeedAdmins([]string{"1", "2"}))
	require.NoError(t, s.SeedAdmins([]string{"2"}))

	ids, err := s.ListAdmins()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	assert.ErrorIs(t, s.AddAdmin("1"), apperr.ErrAlreadyAdmin)
	assert.ErrorIs(t, s.RemoveAdmin("9"), apperr.ErrNotAdmin)
	require.NoError(t, s.RemoveAdmin("1"))
	assert.ErrorIs(t, s.RemoveAdmin("2"), apperr.ErrLastAdmin)

	ok, err := s.IsAdmin("2")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.IsAdmin("1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLogHistoryAndRecent(t *testing.T) {
	s := newTestStore(t)
	log := s.Log()
	now := time.Now().UTC()

	assert.ErrorIs(t, log.Append(message.Entry{ID: "x", UserID: "ghost", Content: "hi"}), apperr.ErrNotFound)

	for _, id := range []string{"u", "u2"} {
		_, _, err := s.GetOrCreate(id, user.Profile{}, now)
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(message.Entry{
			ID: fmt.Sprintf("u%d", i), UserID: "u", Direction: message.UserToAdmin,
			Content: fmt.Sprintf("m%d", i), CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}
	// "u2" sorts after "u" but its prefix must not overlap.
	require.NoError(t, log.Append(message.Entry{ID: "o", UserID: "u2", Direction: message.AdminToUser, Content: "other", CreatedAt: now}))

	h, err := log.History("u", 3)
	require.NoError(t, err)
	require.Len(t, h, 3)
	assert.Equal(t, []string{"m2", "m3", "m4"}, []string{h[0].Content, h[1].Content, h[2].Content})

	h, err = log.History("u2", 0)
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.Equal(t, message.AdminToUser, h[0].Direction)

	recent, err := log.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "other", recent[0].Content)
	assert.Equal(t, "m4", recent[1].Content)

	n, err := log.Count()
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestRefs(t *testing.T) {
	s := newTestStore(t)
	log := s.Log()
	now := time.Now().UTC()

	_, err := log.NewRef("ghost", now)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, _, err = s.GetOrCreate("u", user.Profile{}, now)
	require.NoError(t, err)
	a, err := log.NewRef("u", now)
	require.NoError(t, err)
	b, err := log.NewRef("u", now)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	ref, err := log.LookupRef(b)
	require.NoError(t, err)
	assert.Equal(t, "u", ref.UserID)

	_, err = log.LookupRef(b + 100)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEnsureSettingIsStable(t *testing.T) {
	s := newTestStore(t)
	calls := 0
	gen := func() (string, error) {
		calls++
		return fmt.Sprintf("secret-%d", calls), nil
	}

	v1, err := s.EnsureSetting("ref_secret", gen)
	require.NoError(t, err)
	v2, err := s.EnsureSetting("ref_secret", gen)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls)
}

func TestPutSettingOverwrites(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.PutSetting("k", "a"))
	require.NoError(t, s.PutSetting("k", "b"))
	v, ok, err := s.GetSetting("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok, err = s.GetSetting("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
