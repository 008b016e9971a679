package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/notepid/relaybot/internal/transport"
)

// Terminal is the minimal terminal interface needed to run a console
// session. *terminal.Terminal satisfies this interface.
type Terminal interface {
	Cls() error
	Send(s string) error
	SendLn(s string) error
	Notify(s string) error
	Ask(prompt string, maxLen int) (string, error)
}

// Inbound accepts events produced by a session.
type Inbound interface {
	Submit(ctx context.Context, ev transport.Event) error
}

// ConsoleConfig configures an interactive line-oriented session.
type ConsoleConfig struct {
	Term        Terminal
	Broker      *Broker
	Inbound     Inbound
	UserID      string
	Username    string
	DisplayName string
	Transport   string
	MaxLineLen  int
	// Authenticated marks the session as logged in with a console password.
	Authenticated bool
	// Banner, when set, is printed in place of the default greeting.
	Banner string
}

// RunConsoleSession connects a terminal to the relay: typed lines become
// inbound events and outbound messages for the user are printed as they
// arrive. It returns when the user quits, the terminal fails or ctx ends.
func RunConsoleSession(ctx context.Context, cfg ConsoleConfig) error {
	if cfg.Term == nil || cfg.Broker == nil || cfg.Inbound == nil {
		return nil
	}
	if cfg.Transport == "" {
		cfg.Transport = "ssh"
	}
	if cfg.MaxLineLen <= 0 {
		cfg.MaxLineLen = 1024
	}

	sub := cfg.Broker.Subscribe(cfg.UserID, cfg.Transport)

	done := make(chan struct{})
	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			close(done)
			cfg.Broker.Unsubscribe(sub)
		})
	}
	defer cleanup()

	_ = cfg.Term.Cls()
	if cfg.Banner != "" {
		_ = cfg.Term.Send(cfg.Banner)
	} else {
		_ = cfg.Term.SendLn("  Connected as " + cfg.UserID)
	}
	_ = cfg.Term.SendLn("  Type a message to talk to the admin team, /help for commands, /quit to leave.")
	_ = cfg.Term.SendLn("  Buttons appear as [Label: !action ref]; type the hint to press one.")
	_ = cfg.Term.SendLn("")

	go func() {
		for {
			select {
			case msg := <-sub.Ch:
				_ = cfg.Term.Notify(FormatMessage(msg))
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	submit := func(ev transport.Event) {
		ev.SenderID = cfg.UserID
		ev.Username = cfg.Username
		ev.DisplayName = cfg.DisplayName
		ev.Authenticated = cfg.Authenticated
		ev.ReceivedAt = time.Now()
		if err := cfg.Inbound.Submit(ctx, ev); err != nil {
			_ = cfg.Term.Notify("  ! " + err.Error())
		}
	}

	submit(transport.Event{Kind: transport.KindCommand, Payload: "/start"})

	for {
		line, err := cfg.Term.Ask("> ", cfg.MaxLineLen)
		if err != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/q" {
			_ = cfg.Term.SendLn("  Goodbye.")
			break
		}
		submit(transport.ParseLine(line))
	}
	return nil
}

// FormatMessage renders an outbound message for a line terminal.
func FormatMessage(msg transport.Message) string {
	var b strings.Builder
	b.WriteString(msg.Content)
	if len(msg.Controls) > 0 {
		b.WriteString("\n")
		b.WriteString(transport.FormatControls(msg.Controls))
	}
	if msg.Ref != "" {
		b.WriteString("\n(reply directly with: >" + msg.Ref + " your text)")
	}
	return b.String()
}
