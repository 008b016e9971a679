package message

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notepid/relaybot/internal/apperr"
	"github.com/notepid/relaybot/internal/db"
	"github.com/notepid/relaybot/internal/user"
)

func newTestRepos(t *testing.T) (*Repo, *user.Repo) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return NewRepo(d.DB), user.NewRepo(d.DB)
}

func TestAppendRequiresExistingUser(t *testing.T) {
	msgs, _ := newTestRepos(t)
	err := msgs.Append(Entry{ID: "e1", UserID: "ghost", Direction: UserToAdmin, Content: "hi", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestHistoryIsChronologicalAndBounded(t *testing.T) {
	msgs, users := newTestRepos(t)
	now := time.Now()
	_, _, err := users.GetOrCreate("u", user.Profile{}, now)
	require.NoError(t, err)
	_, _, err = users.GetOrCreate("v", user.Profile{}, now)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, msgs.Append(Entry{
			ID: fmt.Sprintf("u%d", i), UserID: "u", Direction: UserToAdmin,
			Content: fmt.Sprintf("m%d", i), CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, msgs.Append(Entry{ID: "v0", UserID: "v", Direction: UserToAdmin, Content: "other", CreatedAt: now}))

	h, err := msgs.History("u", 3)
	require.NoError(t, err)
	require.Len(t, h, 3)
	assert.Equal(t, []string{"m2", "m3", "m4"}, []string{h[0].Content, h[1].Content, h[2].Content})

	n, err := msgs.Count()
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	recent, err := msgs.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "other", recent[0].Content)
}

func TestRefsMapBackToUser(t *testing.T) {
	msgs, users := newTestRepos(t)
	now := time.Now()
	_, _, err := users.GetOrCreate("u", user.Profile{}, now)
	require.NoError(t, err)

	s1, err := msgs.NewRef("u", now)
	require.NoError(t, err)
	s2, err := msgs.NewRef("u", now)
	require.NoError(t, err)
	assert.Greater(t, s2, s1)

	ref, err := msgs.LookupRef(s1)
	require.NoError(t, err)
	assert.Equal(t, "u", ref.UserID)

	_, err = msgs.LookupRef(9999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = msgs.NewRef("ghost", now)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
