package relay

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/notepid/relaybot/internal/message"
	"github.com/notepid/relaybot/internal/transport"
	"github.com/notepid/relaybot/internal/user"
)

const historyPreviewLen = 50

// handleButton runs an admin button press. Thread buttons carry the thread
// reference of the forwarded message they were attached to.
func (d *Dispatcher) handleButton(ctx context.Context, admin *user.User, ev transport.Event) error {
	switch ev.Payload {
	case transport.ActionBroadcastConfirm:
		return d.confirmBroadcast(ctx, admin.ID)
	case transport.ActionBroadcastCancel:
		d.Sessions.Clear(admin.ID)
		return d.send(ctx, transport.Message{TargetID: admin.ID, Content: "Broadcast cancelled."})
	case transport.ActionReply, transport.ActionBlock, transport.ActionUnblock, transport.ActionHistory:
	default:
		return d.notUnderstood(ctx, ev)
	}

	userID, err := d.Router.Resolve(ev.ReplyRef)
	if err != nil {
		return err
	}

	switch ev.Payload {
	case transport.ActionReply:
		target, err := d.Identity.User(userID)
		if err != nil {
			return err
		}
		d.Sessions.BeginReply(admin.ID, userID, ev.ReplyRef)
		return d.send(ctx, transport.Message{
			TargetID: admin.ID,
			Content:  fmt.Sprintf("Replying to %s (ID: %s)\nType your reply or /cancel:", target.Name(), userID),
		})
	case transport.ActionBlock:
		return d.setBlocked(ctx, admin.ID, userID, true, ev.ReplyRef)
	case transport.ActionUnblock:
		return d.setBlocked(ctx, admin.ID, userID, false, ev.ReplyRef)
	default:
		return d.sendHistory(ctx, admin.ID, userID)
	}
}

// FormatHistory renders log entries oldest first. Admin lines are marked
// and long texts are shortened.
func FormatHistory(userID string, entries []message.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Message History (User %s):\n\n", userID)
	for _, e := range entries {
		if e.Direction == message.AdminToUser {
			b.WriteString("[Admin] ")
		}
		text := strings.ReplaceAll(e.Content, "\n", " ")
		if utf8.RuneCountInString(text) > historyPreviewLen {
			text = string([]rune(text)[:historyPreviewLen]) + "..."
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
