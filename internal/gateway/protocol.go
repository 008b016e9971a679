package gateway

import (
	"strings"

	"github.com/notepid/relaybot/internal/transport"
)

// Frame types.
const (
	FrameHello   = "hello"
	FrameWelcome = "welcome"
	FrameText    = "text"
	FrameCommand = "command"
	FrameButton  = "button"
	FrameMessage = "message"
	FrameError   = "error"
)

// Frame is one JSON websocket frame in either direction.
type Frame struct {
	Type string `json:"type"`

	// hello
	UserID      string `json:"user_id,omitempty"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Password    string `json:"password,omitempty"`

	// text, command, button
	Text   string `json:"text,omitempty"`
	Action string `json:"action,omitempty"`
	Ref    string `json:"ref,omitempty"`

	// message
	Message *transport.Message `json:"message,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// Event converts a client frame into an inbound event. ok is false for
// frames that carry no event.
func (f Frame) Event() (transport.Event, bool) {
	switch f.Type {
	case FrameText:
		return transport.Event{Kind: transport.KindText, Payload: strings.TrimSpace(f.Text), ReplyRef: f.Ref}, true
	case FrameCommand:
		text := strings.TrimSpace(f.Text)
		if !strings.HasPrefix(text, "/") {
			text = "/" + text
		}
		return transport.Event{Kind: transport.KindCommand, Payload: text}, true
	case FrameButton:
		return transport.Event{Kind: transport.KindButton, Payload: strings.ToLower(f.Action), ReplyRef: f.Ref}, true
	}
	return transport.Event{}, false
}

func messageFrame(msg transport.Message) Frame {
	return Frame{Type: FrameMessage, Message: &msg}
}

func errorFrame(text string) Frame {
	return Frame{Type: FrameError, Error: text}
}
