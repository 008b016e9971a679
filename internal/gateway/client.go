package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/notepid/relaybot/internal/chat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 64 << 10
)

// client is one authenticated websocket endpoint.
type client struct {
	srv  *Server
	conn *websocket.Conn
	sub  *chat.Subscriber

	userID      string
	username    string
	displayName string
	// authenticated is set when the hello carried a valid console password.
	authenticated bool

	// errs carries protocol errors from the read pump to the write pump,
	// which owns all writes on conn.
	errs chan string
}

func (c *client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info().Err(err).Str("user", c.userID).Msg("websocket client disconnected")
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.reportError("malformed frame")
			continue
		}
		ev, ok := f.Event()
		if !ok {
			c.reportError("unknown frame type " + f.Type)
			continue
		}
		ev.SenderID = c.userID
		ev.Username = c.username
		ev.DisplayName = c.displayName
		ev.Authenticated = c.authenticated
		ev.ReceivedAt = time.Now()
		if err := c.srv.inbound.Submit(ctx, ev); err != nil {
			log.Warn().Err(err).Str("user", c.userID).Msg("submit websocket event")
			c.reportError(err.Error())
		}
	}
}

func (c *client) reportError(text string) {
	select {
	case c.errs <- text:
	default:
	}
}

func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.sub.Ch:
			if err := c.writeFrame(messageFrame(msg)); err != nil {
				return
			}
		case text := <-c.errs:
			if err := c.writeFrame(errorFrame(text)); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.sub.Done():
			return
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

func (c *client) writeFrame(f Frame) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}
