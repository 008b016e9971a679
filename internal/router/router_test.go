package router

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notepid/relaybot/internal/apperr"
	"github.com/notepid/relaybot/internal/message"
	"github.com/notepid/relaybot/internal/user"
)

type fakeIdentity struct {
	admins []string
}

func (f fakeIdentity) User(id string) (*user.User, error) {
	if strings.HasPrefix(id, "ghost") {
		return nil, fmt.Errorf("get user %s: %w", id, apperr.ErrNotFound)
	}
	return &user.User{ID: id, Username: "u" + id, DisplayName: "User " + id}, nil
}

func (f fakeIdentity) Admins() ([]string, error) { return f.admins, nil }

type memRefs struct {
	mu   sync.Mutex
	next uint64
	refs map[uint64]message.Ref
}

func newMemRefs() *memRefs { return &memRefs{refs: make(map[uint64]message.Ref)} }

func (m *memRefs) NewRef(userID string, now time.Time) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.refs[m.next] = message.Ref{Seq: m.next, UserID: userID, CreatedAt: now}
	return m.next, nil
}

func (m *memRefs) LookupRef(seq uint64) (message.Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refs[seq]
	if !ok {
		return message.Ref{}, fmt.Errorf("lookup ref %d: %w", seq, apperr.ErrNotFound)
	}
	return r, nil
}

func newTestRouter(admins ...string) *Router {
	return New(fakeIdentity{admins: admins}, newMemRefs(), "test-secret")
}

func TestRouteUserMessageReachesAllAdmins(t *testing.T) {
	r := newTestRouter("A1", "A2")

	out, err := r.RouteUserMessage("U", "hello")
	require.NoError(t, err)
	assert.Equal(t, "U", out.UserID)
	require.Len(t, out.Messages, 2)

	for i, admin := range []string{"A1", "A2"} {
		m := out.Messages[i]
		assert.Equal(t, admin, m.TargetID)
		assert.Contains(t, m.Content, "User ID: U")
		assert.Contains(t, m.Content, "Username: @uU")
		assert.True(t, strings.HasSuffix(m.Content, "Message:\nhello"))
		assert.Equal(t, out.Ref, m.Ref)
		require.Len(t, m.Controls, 3)
		assert.Equal(t, "reply", m.Controls[0].Action)
		assert.Equal(t, out.Ref, m.Controls[0].Ref)
	}
}

func TestRouteUserMessageUnknownUser(t *testing.T) {
	r := newTestRouter("A")
	_, err := r.RouteUserMessage("ghost", "x")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRouteAdminReplyResolvesOrigin(t *testing.T) {
	r := newTestRouter("A")

	fromU, err := r.RouteUserMessage("U", "hello")
	require.NoError(t, err)
	_, err = r.RouteUserMessage("V", "interleaved")
	require.NoError(t, err)

	out, err := r.RouteAdminReply("A", fromU.Ref, "hi")
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "U", out.Messages[0].TargetID)
	assert.Equal(t, "Reply from Admin:\n\nhi", out.Messages[0].Content)
}

func TestResolveRejectsBadReferences(t *testing.T) {
	r := newTestRouter("A")
	out, err := r.RouteUserMessage("U", "hello")
	require.NoError(t, err)

	seq, mac, err := Parse(out.Ref)
	require.NoError(t, err)
	mac[0] ^= 0xff
	forged := fmt.Sprintf("%d.%x", seq, mac)

	other := New(fakeIdentity{}, newMemRefs(), "other-secret")
	foreign, err := other.Issue("U")
	require.NoError(t, err)

	for _, ref := range []string{"", "junk", "1", "x.00", "999.0011223344556677", forged, foreign} {
		_, err := r.Resolve(ref)
		assert.ErrorIs(t, err, apperr.ErrUnresolvedThread, "ref %q", ref)
	}
}

func TestShiftedSequenceDoesNotRetarget(t *testing.T) {
	r := newTestRouter("A")
	u, err := r.RouteUserMessage("U", "one")
	require.NoError(t, err)
	_, err = r.RouteUserMessage("V", "two")
	require.NoError(t, err)

	seq, mac, err := Parse(u.Ref)
	require.NoError(t, err)
	shifted := fmt.Sprintf("%d.%x", seq+1, mac)

	_, err = r.Resolve(shifted)
	assert.ErrorIs(t, err, apperr.ErrUnresolvedThread)
}

func TestNoCrossTalkUnderConcurrency(t *testing.T) {
	r := newTestRouter("A")

	const users = 40
	const perUser = 25
	var wg sync.WaitGroup
	errs := make(chan error, users*perUser)

	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < perUser; j++ {
				out, err := r.RouteUserMessage(id, "ping")
				if err != nil {
					errs <- err
					return
				}
				reply, err := r.RouteAdminReply("A", out.Ref, "pong")
				if err != nil {
					errs <- err
					return
				}
				if got := reply.Messages[0].TargetID; got != id {
					errs <- fmt.Errorf("reply for %s went to %s", id, got)
				}
			}
		}(fmt.Sprintf("user-%d", i))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestSessionsExpire(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSessions(10*time.Minute, func() time.Time { return now })

	s.BeginReply("A", "U", "1.00")
	sess, ok := s.Get("A")
	require.True(t, ok)
	assert.Equal(t, ModeReply, sess.Mode)
	assert.Equal(t, "U", sess.UserID)

	now = now.Add(10 * time.Minute)
	_, ok = s.Get("A")
	assert.False(t, ok)
}

func TestSessionsBroadcastFlow(t *testing.T) {
	s := NewSessions(time.Minute, nil)

	s.BeginBroadcast("A")
	sess, _ := s.Get("A")
	assert.Equal(t, ModeBroadcastCompose, sess.Mode)

	s.SetDraft("A", "news")
	sess, ok := s.Take("A")
	require.True(t, ok)
	assert.Equal(t, ModeBroadcastConfirm, sess.Mode)
	assert.Equal(t, "news", sess.Draft)

	_, ok = s.Get("A")
	assert.False(t, ok)
	assert.False(t, s.Clear("A"))
}

func TestSweepDropsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSessions(time.Minute, func() time.Time { return now })
	s.BeginReply("A", "U", "r")
	now = now.Add(30 * time.Second)
	s.BeginReply("B", "U", "r")
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, s.Sweep())
	_, ok := s.Get("B")
	assert.True(t, ok)
}
