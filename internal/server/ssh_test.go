package server

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type fakeAuth map[string]string

func (a fakeAuth) RequiresPassword(id string) (bool, error) {
	_, ok := a[id]
	return ok, nil
}

func (a fakeAuth) Authenticate(id, password string) (bool, error) {
	return a[id] == password, nil
}

func startListener(t *testing.T) string {
	t.Helper()
	keyPath := filepath.Join(t.TempDir(), "keys", "host_key")
	l, err := NewSSHListener(keyPath, fakeAuth{"admin": "s3cret"}, func(ctx context.Context, conn *SSHConn) {
		greeting := "hello " + conn.UserID
		if conn.Authenticated {
			greeting += " (password)"
		}
		io.WriteString(conn, greeting+"\n")
	})
	require.NoError(t, err)
	assert.FileExists(t, keyPath)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go l.Serve(ctx, ln)
	return ln.Addr().String()
}

func runShell(t *testing.T, addr, user string, auth ...ssh.AuthMethod) (string, error) {
	t.Helper()
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		return "", err
	}
	defer client.Close()

	sess, err := client.NewSession()
	require.NoError(t, err)
	defer sess.Close()
	out, err := sess.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, sess.Shell())
	b, err := io.ReadAll(out)
	require.NoError(t, err)
	return string(b), nil
}

func TestPlainUserNeedsNoPassword(t *testing.T) {
	addr := startListener(t)
	out, err := runShell(t, addr, "u1")
	require.NoError(t, err)
	assert.Equal(t, "hello u1\n", out)
}

func TestAdminNeedsConsolePassword(t *testing.T) {
	addr := startListener(t)

	_, err := runShell(t, addr, "admin")
	assert.Error(t, err)

	_, err = runShell(t, addr, "admin", ssh.Password("wrong"))
	assert.Error(t, err)

	out, err := runShell(t, addr, "admin", ssh.Password("s3cret"))
	require.NoError(t, err)
	assert.Equal(t, "hello admin (password)\n", out)
}

func TestHostKeyIsReused(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "host_key")
	a, err := NewSSHListener(keyPath, nil, nil)
	require.NoError(t, err)
	b, err := NewSSHListener(keyPath, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, a.config)
	assert.NotNil(t, b.config)
}

func TestAllowConnectionBackoff(t *testing.T) {
	l := &SSHListener{attempts: make(map[string]*sshAttempt)}
	now := time.Now()

	for i := 0; i < 3; i++ {
		d, ok := l.allowConnection("1.2.3.4", now)
		require.True(t, ok)
		assert.Zero(t, d)
	}
	d, ok := l.allowConnection("1.2.3.4", now)
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, d)

	d, ok = l.allowConnection("5.6.7.8", now)
	assert.True(t, ok)
	assert.Zero(t, d, "hosts are tracked independently")

	for i := 0; i < 30; i++ {
		_, ok = l.allowConnection("1.2.3.4", now)
	}
	assert.False(t, ok)

	_, ok = l.allowConnection("1.2.3.4", now.Add(time.Minute))
	assert.True(t, ok, "count resets after a quiet period")
}

func TestParsePtyRequest(t *testing.T) {
	payload := []byte{0, 0, 0, 5, 'x', 't', 'e', 'r', 'm', 0, 0, 0, 120, 0, 0, 0, 40}
	term, w, h, ok := parsePtyRequest(payload)
	require.True(t, ok)
	assert.Equal(t, "xterm", term)
	assert.Equal(t, 120, w)
	assert.Equal(t, 40, h)

	_, _, _, ok = parsePtyRequest(payload[:6])
	assert.False(t, ok)
}
