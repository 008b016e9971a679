// Package gateway exposes the relay over websockets. A client opens /ws,
// sends a hello frame naming its user id and then exchanges JSON frames:
// text, command and button frames become inbound events and every outbound
// message for the user arrives as a message frame.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/notepid/relaybot/internal/chat"
	"github.com/notepid/relaybot/internal/node"
	"github.com/notepid/relaybot/internal/scripting"
)

const transportName = "ws"

// Authenticator decides whether a client may act as an id.
// *user.ConsoleAuthenticator satisfies this interface.
type Authenticator interface {
	RequiresPassword(id string) (bool, error)
	Authenticate(id, password string) (bool, error)
}

// Config wires a gateway server.
type Config struct {
	Broker   *chat.Broker
	Inbound  chat.Inbound
	Auth     Authenticator
	Sessions *node.Manager // optional capacity limit
	// CheckOrigin overrides the upgrader origin check. Nil accepts all
	// origins.
	CheckOrigin func(r *http.Request) bool
}

// Server upgrades HTTP requests to relay websocket sessions.
type Server struct {
	broker   *chat.Broker
	inbound  chat.Inbound
	auth     Authenticator
	sessions *node.Manager
	upgrader websocket.Upgrader
	ctx      context.Context
}

// NewServer creates a gateway. Sessions end when ctx is cancelled.
func NewServer(ctx context.Context, cfg Config) *Server {
	check := cfg.CheckOrigin
	if check == nil {
		check = func(r *http.Request) bool { return true }
	}
	return &Server{
		broker:   cfg.Broker,
		inbound:  cfg.Inbound,
		auth:     cfg.Auth,
		sessions: cfg.Sessions,
		ctx:      ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     check,
		},
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	hello, authed, ok := s.handshake(conn)
	if !ok {
		return
	}

	if s.sessions != nil {
		slot, ok := s.sessions.Acquire(hello.UserID, transportName, r.RemoteAddr)
		if !ok {
			s.reject(conn, "server is full, try again later")
			return
		}
		defer s.sessions.Release(slot.ID)
	}

	sub := s.broker.Subscribe(hello.UserID, transportName)
	defer s.broker.Unsubscribe(sub)

	c := &client{
		srv:           s,
		conn:          conn,
		sub:           sub,
		userID:        hello.UserID,
		username:      scripting.SanitizeName(hello.Username),
		displayName:   scripting.SanitizeName(hello.DisplayName),
		authenticated: authed,
		errs:          make(chan string, 8),
	}

	if err := c.writeFrame(Frame{Type: FrameWelcome, UserID: hello.UserID}); err != nil {
		return
	}
	log.Info().Str("user", c.userID).Str("remote", r.RemoteAddr).Msg("websocket session started")

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go func() {
		c.readPump(ctx)
		cancel()
	}()
	c.writePump(ctx)
	log.Info().Str("user", c.userID).Msg("websocket session ended")
}

// handshake reads and checks the hello frame. authed reports whether the
// client proved the id's console password.
func (s *Server) handshake(conn *websocket.Conn) (hello Frame, authed, ok bool) {
	conn.SetReadLimit(maxMsgSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))

	if err := conn.ReadJSON(&hello); err != nil {
		log.Debug().Err(err).Msg("websocket hello")
		return Frame{}, false, false
	}
	conn.SetReadDeadline(time.Time{})

	if hello.Type != FrameHello {
		s.reject(conn, "expected hello frame")
		return Frame{}, false, false
	}
	if err := scripting.ValidateUserID(hello.UserID); err != nil {
		s.reject(conn, err.Error())
		return Frame{}, false, false
	}
	if s.auth == nil {
		return hello, false, true
	}

	need, err := s.auth.RequiresPassword(hello.UserID)
	if err != nil {
		log.Error().Err(err).Str("user", hello.UserID).Msg("websocket auth lookup")
		s.reject(conn, "authentication unavailable")
		return Frame{}, false, false
	}
	if !need {
		return hello, false, true
	}
	valid, err := s.auth.Authenticate(hello.UserID, hello.Password)
	if err != nil || !valid {
		log.Warn().Str("user", hello.UserID).Msg("websocket authentication failed")
		s.reject(conn, "authentication failed")
		return Frame{}, false, false
	}
	return hello, true, true
}

func (s *Server) reject(conn *websocket.Conn, reason string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteJSON(errorFrame(reason))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
}
