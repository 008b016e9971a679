package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notepid/relaybot/internal/chat"
	"github.com/notepid/relaybot/internal/node"
	"github.com/notepid/relaybot/internal/transport"
)

type chanInbound chan transport.Event

func (c chanInbound) Submit(ctx context.Context, ev transport.Event) error {
	select {
	case c <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakeAuth struct {
	admins map[string]string
}

func (a fakeAuth) RequiresPassword(id string) (bool, error) {
	_, ok := a.admins[id]
	return ok, nil
}

func (a fakeAuth) Authenticate(id, password string) (bool, error) {
	return a.admins[id] == password, nil
}

type harness struct {
	broker  *chat.Broker
	inbound chanInbound
	url     string
}

func newHarness(t *testing.T, sessions *node.Manager) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{broker: chat.NewBroker(8), inbound: make(chanInbound, 8)}
	srv := NewServer(ctx, Config{
		Broker:   h.broker,
		Inbound:  h.inbound,
		Auth:     fakeAuth{admins: map[string]string{"admin": "s3cret"}},
		Sessions: sessions,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	h.url = "ws" + strings.TrimPrefix(ts.URL, "http")
	return h
}

func (h *harness) dial(t *testing.T, hello Frame) (*websocket.Conn, Frame) {
	t.Helper()
	return dial(t, h.url, hello)
}

func dial(t *testing.T, url string, hello Frame) (*websocket.Conn, Frame) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	hello.Type = FrameHello
	require.NoError(t, conn.WriteJSON(hello))
	return conn, readFrame(t, conn)
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestSessionRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	conn, welcome := h.dial(t, Frame{UserID: "u1", DisplayName: "Alice"})
	require.Equal(t, FrameWelcome, welcome.Type)
	assert.Equal(t, "u1", welcome.UserID)

	require.NoError(t, conn.WriteJSON(Frame{Type: FrameText, Text: "hello"}))
	select {
	case ev := <-h.inbound:
		assert.Equal(t, "u1", ev.SenderID)
		assert.Equal(t, "Alice", ev.DisplayName)
		assert.Equal(t, transport.KindText, ev.Kind)
		assert.Equal(t, "hello", ev.Payload)
		assert.False(t, ev.Authenticated)
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound event")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.broker.Send(ctx, transport.Message{TargetID: "u1", Content: "Reply from Admin:\n\nhi"}))

	f := readFrame(t, conn)
	require.Equal(t, FrameMessage, f.Type)
	require.NotNil(t, f.Message)
	assert.Equal(t, "Reply from Admin:\n\nhi", f.Message.Content)
}

func TestButtonAndCommandFrames(t *testing.T) {
	h := newHarness(t, nil)
	conn, welcome := h.dial(t, Frame{UserID: "admin", Password: "s3cret"})
	require.Equal(t, FrameWelcome, welcome.Type)

	require.NoError(t, conn.WriteJSON(Frame{Type: FrameButton, Action: "Block", Ref: "7.abc"}))
	require.NoError(t, conn.WriteJSON(Frame{Type: FrameCommand, Text: "stats"}))

	ev := <-h.inbound
	assert.Equal(t, transport.KindButton, ev.Kind)
	assert.Equal(t, "block", ev.Payload)
	assert.Equal(t, "7.abc", ev.ReplyRef)
	assert.True(t, ev.Authenticated)

	ev = <-h.inbound
	assert.Equal(t, transport.KindCommand, ev.Kind)
	assert.Equal(t, "/stats", ev.Payload)
}

func TestAdminRequiresPassword(t *testing.T) {
	h := newHarness(t, nil)
	_, f := h.dial(t, Frame{UserID: "admin", Password: "wrong"})
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "authentication failed", f.Error)
	assert.Empty(t, h.broker.ListOnline())
}

func TestRejectsInvalidHello(t *testing.T) {
	h := newHarness(t, nil)
	_, f := h.dial(t, Frame{UserID: "has space"})
	assert.Equal(t, FrameError, f.Type)
}

func TestUnknownFrameReportsError(t *testing.T) {
	h := newHarness(t, nil)
	conn, _ := h.dial(t, Frame{UserID: "u1"})
	require.NoError(t, conn.WriteJSON(Frame{Type: "bogus"}))

	f := readFrame(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Contains(t, f.Error, "bogus")
}

func TestSessionLimit(t *testing.T) {
	h := newHarness(t, node.NewManager(1))
	_, f := h.dial(t, Frame{UserID: "u1"})
	require.Equal(t, FrameWelcome, f.Type)

	_, f = h.dial(t, Frame{UserID: "u2"})
	assert.Equal(t, FrameError, f.Type)
	assert.Contains(t, f.Error, "full")
}
