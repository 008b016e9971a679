// Package server accepts SSH console connections. The SSH user name is the
// relay user id; ids in the admin set must authenticate with their console
// password, everyone else may connect without one.
package server

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Authenticator decides whether an SSH login may act as an id.
// *user.ConsoleAuthenticator satisfies this interface.
type Authenticator interface {
	RequiresPassword(id string) (bool, error)
	Authenticate(id, password string) (bool, error)
}

// SessionHandler runs one shell session. It owns conn until it returns.
type SessionHandler func(ctx context.Context, conn *SSHConn)

// SSHConn wraps an SSH channel as an io.ReadWriteCloser for the terminal.
type SSHConn struct {
	channel ssh.Channel
	mu      sync.Mutex

	UserID   string
	Remote   string
	Width    int
	Height   int
	TermType string
	// Authenticated is true when the login presented a valid console password.
	Authenticated bool
}

// Read implements io.Reader.
func (sc *SSHConn) Read(p []byte) (int, error) {
	return sc.channel.Read(p)
}

// Write implements io.Writer.
func (sc *SSHConn) Write(p []byte) (int, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.channel.Write(p)
}

// Close implements io.Closer.
func (sc *SSHConn) Close() error {
	return sc.channel.Close()
}

var errAuthFailed = errors.New("authentication failed")

// permAuthenticated marks a connection that logged in with a console password.
const permAuthenticated = "relay-password-login"

// SSHListener accepts incoming SSH connections.
type SSHListener struct {
	config      *ssh.ServerConfig
	auth        Authenticator
	handler     SessionHandler
	hostKeyPath string

	attemptMu sync.Mutex
	attempts  map[string]*sshAttempt
}

// NewSSHListener creates a listener that loads or generates its host key at
// hostKeyPath.
func NewSSHListener(hostKeyPath string, auth Authenticator, handler SessionHandler) (*SSHListener, error) {
	l := &SSHListener{
		auth:        auth,
		handler:     handler,
		hostKeyPath: hostKeyPath,
		attempts:    make(map[string]*sshAttempt),
	}
	l.config = &ssh.ServerConfig{
		ServerVersion:        "SSH-2.0-RelayBot",
		PasswordCallback:     l.checkPassword,
		NoClientAuth:         true,
		NoClientAuthCallback: l.checkNoAuth,
		MaxAuthTries:         3,
	}

	if err := l.loadOrGenerateHostKey(); err != nil {
		return nil, fmt.Errorf("host key: %w", err)
	}
	return l, nil
}

func (l *SSHListener) checkNoAuth(c ssh.ConnMetadata) (*ssh.Permissions, error) {
	if l.auth == nil {
		return nil, nil
	}
	need, err := l.auth.RequiresPassword(c.User())
	if err != nil {
		return nil, err
	}
	if need {
		return nil, errAuthFailed
	}
	return nil, nil
}

func (l *SSHListener) checkPassword(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
	if l.auth == nil {
		return nil, nil
	}
	need, err := l.auth.RequiresPassword(c.User())
	if err != nil {
		return nil, err
	}
	if !need {
		return nil, nil
	}
	ok, err := l.auth.Authenticate(c.User(), string(pass))
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Warn().Str("user", c.User()).Str("remote", c.RemoteAddr().String()).Msg("ssh password rejected")
		return nil, errAuthFailed
	}
	return &ssh.Permissions{Extensions: map[string]string{permAuthenticated: "1"}}, nil
}

func passwordLogin(perms *ssh.Permissions) bool {
	return perms != nil && perms.Extensions[permAuthenticated] != ""
}

// loadOrGenerateHostKey loads an existing host key or generates an ED25519
// one.
func (l *SSHListener) loadOrGenerateHostKey() error {
	data, err := os.ReadFile(l.hostKeyPath)
	switch {
	case err == nil:
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return fmt.Errorf("parse host key %s: %w", l.hostKeyPath, err)
		}
		l.config.AddHostKey(signer)
		log.Info().Str("path", l.hostKeyPath).Str("type", signer.PublicKey().Type()).Msg("ssh host key loaded")
		return nil
	case !os.IsNotExist(err):
		return err
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate ed25519 key: %w", err)
	}
	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal ed25519 key: %w", err)
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})

	if err := os.MkdirAll(filepath.Dir(l.hostKeyPath), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(l.hostKeyPath, pemData, 0o600); err != nil {
		return fmt.Errorf("write host key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(pemData)
	if err != nil {
		return fmt.Errorf("parse new ed25519 key: %w", err)
	}
	l.config.AddHostKey(signer)
	log.Info().Str("path", l.hostKeyPath).Msg("ssh host key generated")
	return nil
}

type sshAttempt struct {
	last  time.Time
	count int
}

// allowConnection applies a per-host backoff to connection floods.
func (l *SSHListener) allowConnection(host string, now time.Time) (time.Duration, bool) {
	const (
		window     = 10 * time.Second
		resetAfter = 30 * time.Second
		maxCount   = 30
		step       = 250 * time.Millisecond
		maxDelay   = 5 * time.Second
	)

	l.attemptMu.Lock()
	defer l.attemptMu.Unlock()

	a := l.attempts[host]
	if a == nil {
		a = &sshAttempt{last: now}
		l.attempts[host] = a
	}

	switch since := now.Sub(a.last); {
	case since > resetAfter:
		a.count = 1
	case since <= window:
		a.count++
	default:
		a.count = 1
	}
	a.last = now

	if a.count > maxCount {
		return 0, false
	}
	if a.count <= 3 {
		return 0, true
	}
	d := time.Duration(a.count-3) * step
	if d > maxDelay {
		d = maxDelay
	}
	return d, true
}

// ListenAndServe listens on addr and serves until ctx ends.
func (l *SSHListener) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	log.Info().Str("addr", addr).Msg("ssh server listening")
	return l.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends. It closes ln.
func (l *SSHListener) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Warn().Err(err).Msg("ssh accept")
			continue
		}
		go l.handleConnection(ctx, conn)
	}
}

// handleConnection processes a single SSH connection.
func (l *SSHListener) handleConnection(ctx context.Context, conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if delay, ok := l.allowConnection(host, time.Now()); !ok {
		conn.Close()
		return
	} else if delay > 0 {
		time.Sleep(delay)
	}

	_ = conn.SetDeadline(time.Now().Add(20 * time.Second))
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, l.config)
	if err != nil {
		log.Debug().Err(err).Str("remote", remoteAddr).Msg("ssh handshake failed")
		conn.Close()
		return
	}
	defer sshConn.Close()
	_ = conn.SetDeadline(time.Time{})

	log.Info().Str("remote", remoteAddr).Str("user", sshConn.User()).Msg("ssh connection")
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			log.Warn().Err(err).Msg("ssh channel accept")
			continue
		}
		sc := &SSHConn{
			channel:  channel,
			UserID:   sshConn.User(),
			Remote:   remoteAddr,
			Width:    80,
			Height:   24,
			TermType: "xterm",

			Authenticated: passwordLogin(sshConn.Permissions),
		}
		go l.serveChannel(ctx, sc, requests)
	}
}

func (l *SSHListener) serveChannel(ctx context.Context, sc *SSHConn, requests <-chan *ssh.Request) {
	started := false
	for req := range requests {
		switch req.Type {
		case "pty-req":
			if term, w, h, ok := parsePtyRequest(req.Payload); ok {
				sc.TermType, sc.Width, sc.Height = term, w, h
			}
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "shell":
			if req.WantReply {
				req.Reply(!started, nil)
			}
			if started {
				continue
			}
			started = true
			go func() {
				l.handler(ctx, sc)
				sc.channel.Close()
			}()

		case "window-change":
			if w, h, ok := parseDims(req.Payload); ok {
				sc.Width, sc.Height = w, h
			}

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// parsePtyRequest decodes the RFC 4254 pty-req payload.
func parsePtyRequest(p []byte) (term string, width, height int, ok bool) {
	if len(p) < 4 {
		return "", 0, 0, false
	}
	n := int(p[0])<<24 | int(p[1])<<16 | int(p[2])<<8 | int(p[3])
	if n < 0 || len(p) < 4+n+8 {
		return "", 0, 0, false
	}
	term = string(p[4 : 4+n])
	width, height, ok = parseDims(p[4+n:])
	return term, width, height, ok
}

func parseDims(p []byte) (width, height int, ok bool) {
	if len(p) < 8 {
		return 0, 0, false
	}
	width = int(p[0])<<24 | int(p[1])<<16 | int(p[2])<<8 | int(p[3])
	height = int(p[4])<<24 | int(p[5])<<16 | int(p[6])<<8 | int(p[7])
	return width, height, true
}

var _ io.ReadWriteCloser = (*SSHConn)(nil)
