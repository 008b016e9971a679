package server

import (
	"context"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/notepid/relaybot/internal/ansi"
	"github.com/notepid/relaybot/internal/chat"
	"github.com/notepid/relaybot/internal/node"
	"github.com/notepid/relaybot/internal/terminal"
)

// Console runs relay chat sessions on SSH connections.
type Console struct {
	Broker   *chat.Broker
	Inbound  chat.Inbound
	Sessions *node.Manager
	// Banners loads the optional "welcome" display file.
	Banners *ansi.Loader
	BotName string
}

// Handle implements SessionHandler.
func (c *Console) Handle(ctx context.Context, conn *SSHConn) {
	term := terminal.New(conn, conn.Width, conn.Height, true)
	defer term.Close()

	if c.Sessions != nil {
		slot, ok := c.Sessions.Acquire(conn.UserID, "ssh", conn.Remote)
		if !ok {
			term.SendLn("The relay is at capacity. Please try again later.")
			return
		}
		defer c.Sessions.Release(slot.ID)
		log.Info().Int("slot", slot.ID).Str("user", conn.UserID).Str("remote", conn.Remote).Msg("console session started")
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("user", conn.UserID).Msg("console session panic")
		}
	}()

	err := chat.RunConsoleSession(ctx, chat.ConsoleConfig{
		Term:      term,
		Broker:    c.Broker,
		Inbound:   c.Inbound,
		UserID:    conn.UserID,
		Transport: "ssh",
		Banner:    c.banner(conn.UserID),

		Authenticated: conn.Authenticated,
	})
	if err != nil {
		log.Warn().Err(err).Str("user", conn.UserID).Msg("console session")
	}
	log.Info().Str("user", conn.UserID).Msg("console session ended")
}

func (c *Console) banner(userID string) string {
	if c.Banners == nil {
		return ""
	}
	df, err := c.Banners.Find("welcome", true)
	if err != nil {
		return ""
	}
	online := 0
	if c.Broker != nil {
		online = len(c.Broker.ListOnline())
	}
	return ansi.Render(df, map[string]string{
		"BOT_NAME": c.BotName,
		"USER_ID":  userID,
		"ONLINE":   strconv.Itoa(online),
	})
}
