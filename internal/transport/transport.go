// Package transport defines the boundary between the relay core and the
// endpoints users and admins connect through. Inbound traffic arrives as
// Events; outbound traffic leaves as Messages handed to a Sink.
package transport

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Kind classifies an inbound event.
type Kind string

const (
	KindCommand Kind = "command"
	KindButton  Kind = "button"
	KindText    Kind = "text"
)

// Button actions carried by Controls.
const (
	ActionReply            = "reply"
	ActionBlock            = "block"
	ActionUnblock          = "unblock"
	ActionHistory          = "history"
	ActionBroadcastConfirm = "broadcast_confirm"
	ActionBroadcastCancel  = "broadcast_cancel"
)

// Event is one inbound action from a connected endpoint.
type Event struct {
	SenderID    string
	Username    string
	DisplayName string
	Kind        Kind

	// Payload is the command line, the button action or the message text.
	Payload string
	// ReplyRef is the thread reference the event refers to, if any: the
	// button's embedded reference or the forwarded message being replied to.
	ReplyRef string
	// Authenticated is set when the sender's session logged in with the
	// id's console password. Admin rights require it.
	Authenticated bool

	ReceivedAt time.Time
}

// Command splits a command payload into its name (without the slash,
// lowercased) and arguments.
func (e Event) Command() (name string, args []string) {
	fields := strings.Fields(e.Payload)
	if len(fields) == 0 {
		return "", nil
	}
	name = strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Strip a "@botname" suffix.
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return name, fields[1:]
}

// Control is an action button attached to an outbound message.
type Control struct {
	Label  string `json:"label"`
	Action string `json:"action"`
	Ref    string `json:"ref,omitempty"`
}

// Message is one outbound send.
type Message struct {
	TargetID string    `json:"target"`
	Content  string    `json:"content"`
	Controls []Control `json:"controls,omitempty"`
	// Ref is the thread reference of a forwarded message, so endpoints
	// that support replying to a message can echo it back.
	Ref string `json:"ref,omitempty"`
}

// Sink delivers outbound messages. Send must honor ctx cancellation.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// ErrNotConnected is returned by sinks that have no live endpoint for the
// target.
var ErrNotConnected = errors.New("target not connected")

// ParseLine turns one line typed on a line-oriented endpoint into an event.
// "/cmd args" is a command, "!action ref" is a button press and anything
// else is text. A text line may start with ">ref " to reply to a thread.
func ParseLine(line string) Event {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "/"):
		return Event{Kind: KindCommand, Payload: line}
	case strings.HasPrefix(line, "!"):
		fields := strings.Fields(strings.TrimPrefix(line, "!"))
		ev := Event{Kind: KindButton}
		if len(fields) > 0 {
			ev.Payload = strings.ToLower(fields[0])
		}
		if len(fields) > 1 {
			ev.ReplyRef = fields[1]
		}
		return ev
	case strings.HasPrefix(line, ">"):
		ref, text, _ := strings.Cut(strings.TrimPrefix(line, ">"), " ")
		return Event{Kind: KindText, Payload: strings.TrimSpace(text), ReplyRef: ref}
	default:
		return Event{Kind: KindText, Payload: line}
	}
}

// FormatControls renders controls as the "!action ref" hints understood by
// ParseLine.
func FormatControls(controls []Control) string {
	if len(controls) == 0 {
		return ""
	}
	parts := make([]string, 0, len(controls))
	for _, c := range controls {
		hint := "!" + c.Action
		if c.Ref != "" {
			hint += " " + c.Ref
		}
		parts = append(parts, "["+c.Label+": "+hint+"]")
	}
	return strings.Join(parts, " ")
}
