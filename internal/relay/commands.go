package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/notepid/relaybot/internal/apperr"
	"github.com/notepid/relaybot/internal/broadcast"
	"github.com/notepid/relaybot/internal/router"
	"github.com/notepid/relaybot/internal/scripting"
	"github.com/notepid/relaybot/internal/transport"
	"github.com/notepid/relaybot/internal/user"
)

const usersListLimit = 10

// commandTakesUser reports whether the first argument of a command is a
// user id whose state the command changes.
func commandTakesUser(name string) bool {
	switch name {
	case "block", "unblock", "addadmin", "removeadmin":
		return true
	}
	return false
}

func adminOnly(name string) bool {
	switch name {
	case "addadmin", "removeadmin", "broadcast", "stats", "users", "block", "unblock",
		"history", "settings", "logs", "admins", "online":
		return true
	}
	return false
}

func (d *Dispatcher) handleCommand(ctx context.Context, u *user.User, isAdmin bool, ev transport.Event) error {
	name, args := ev.Command()
	if adminOnly(name) && !isAdmin {
		return fmt.Errorf("command /%s: %w", name, apperr.ErrUnauthorized)
	}

	reply := func(text string) error {
		return d.send(ctx, transport.Message{TargetID: u.ID, Content: text})
	}

	switch name {
	case "start":
		if isAdmin {
			return reply(fmt.Sprintf("Welcome back, Admin %s!\nSend /help to see the admin commands.", u.Name()))
		}
		return reply(fmt.Sprintf("Hello %s!\n\nWelcome! You can send messages to our admin team here.\n"+
			"Just type your message and we'll get back to you soon!", u.Name()))

	case "help":
		if isAdmin {
			return reply(userHelp + adminHelp)
		}
		return reply(userHelp)

	case "about":
		return reply(d.opts.BotName + " Bot\n\nThis bot allows you to communicate directly with our admin team.\nVersion: 1.0.0")

	case "send":
		return reply(textSendHint)

	case "cancel":
		if d.Sessions.Clear(u.ID) {
			return reply(textCancelled)
		}
		return reply(textNoPendingState)

	case "addadmin":
		id, problem := userArg(args, "/addadmin")
		if problem != "" {
			return reply(problem)
		}
		if err := d.Moderation.Promote(u.ID, id); err != nil {
			return err
		}
		return reply(fmt.Sprintf("User %s added as admin.", id))

	case "removeadmin":
		id, problem := userArg(args, "/removeadmin")
		if problem != "" {
			return reply(problem)
		}
		if err := d.Moderation.Demote(u.ID, id); err != nil {
			return err
		}
		return reply(fmt.Sprintf("Admin %s removed.", id))

	case "admins":
		ids, err := d.Identity.Admins()
		if err != nil {
			return err
		}
		return reply("Admins: " + strings.Join(ids, ", ") +
			"\n\nTo add admin: /addadmin <user_id>\nTo remove: /removeadmin <user_id>")

	case "block", "unblock":
		id, problem := userArg(args, "/"+name)
		if problem != "" {
			return reply(problem)
		}
		return d.setBlocked(ctx, u.ID, id, name == "block", "")

	case "history":
		id, problem := userArg(args, "/history")
		if problem != "" {
			return reply(problem)
		}
		return d.sendHistory(ctx, u.ID, id)

	case "broadcast":
		return d.startBroadcast(ctx, u.ID)

	case "stats":
		users, err := d.Identity.UserCount()
		if err != nil {
			return err
		}
		messages, err := d.Log.Count()
		if err != nil {
			return apperr.Persistence("count messages", err)
		}
		admins, err := d.Identity.Admins()
		if err != nil {
			return err
		}
		return reply(fmt.Sprintf("Admin Dashboard\n\nTotal Users: %s\nTotal Messages: %s\nActive Admins: %d",
			humanize.Comma(int64(users)), humanize.Comma(int64(messages)), len(admins)))

	case "users":
		return d.listUsers(ctx, u.ID)

	case "online":
		return reply(d.formatOnline())

	case "logs":
		return reply("Message logging active. All conversations are stored.")

	case "settings":
		admins, err := d.Identity.Admins()
		if err != nil {
			return err
		}
		rl := d.opts.RateLimit
		return reply(fmt.Sprintf("Rate Limit: %d msgs/%s (min %s across %d msgs)\nAdmins: %d",
			rl.MaxMessages, rl.Window, rl.MinInterval, rl.History, len(admins)))
	}

	return d.notUnderstood(ctx, ev)
}

func (d *Dispatcher) formatOnline() string {
	if d.Presence == nil {
		return "Presence is not tracked."
	}
	online := d.Presence.ListOnline()
	if len(online) == 0 {
		return "Nobody is connected."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Online (%d):\n", len(online))
	for _, o := range online {
		fmt.Fprintf(&b, "\n%s via %s, %s", o.UserID, strings.Join(o.Transports, "+"), humanize.Time(o.Since))
	}
	return b.String()
}

// userArg extracts the user id argument. problem is the text to show when
// the argument is missing or malformed.
func userArg(args []string, usage string) (id, problem string) {
	if len(args) == 0 {
		return "", "Usage: " + usage + " <user_id>"
	}
	if err := scripting.ValidateUserID(args[0]); err != nil {
		return "", "Invalid user ID."
	}
	return args[0], ""
}

func (d *Dispatcher) listUsers(ctx context.Context, adminID string) error {
	users, err := d.Identity.Users(user.ListFilter{ActiveOnly: true})
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return d.send(ctx, transport.Message{TargetID: adminID, Content: "No users found."})
	}

	var b strings.Builder
	b.WriteString("Users:\n\n")
	for i, u := range users {
		if i == usersListLimit {
			break
		}
		username := "No username"
		if u.Username != "" {
			username = "@" + u.Username
		}
		fmt.Fprintf(&b, "• %s (%s) - ID: %s - active %s\n", u.Name(), username, u.ID, humanize.Time(u.LastActive))
	}
	fmt.Fprintf(&b, "\nTotal: %d", len(users))
	return d.send(ctx, transport.Message{TargetID: adminID, Content: b.String()})
}

func (d *Dispatcher) sendHistory(ctx context.Context, adminID, userID string) error {
	if _, err := d.Identity.User(userID); err != nil {
		return err
	}
	entries, err := d.Log.History(userID, d.opts.HistoryLimit)
	if err != nil {
		return apperr.Persistence("history "+userID, err)
	}
	if len(entries) == 0 {
		return d.send(ctx, transport.Message{TargetID: adminID, Content: fmt.Sprintf("No history for user %s.", userID)})
	}
	return d.send(ctx, transport.Message{TargetID: adminID, Content: FormatHistory(userID, entries)})
}

func (d *Dispatcher) setBlocked(ctx context.Context, adminID, userID string, block bool, ref string) error {
	var (
		changed bool
		err     error
	)
	if block {
		changed, err = d.Moderation.Block(adminID, userID)
	} else {
		changed, err = d.Moderation.Unblock(adminID, userID)
	}
	if err != nil {
		return err
	}

	state := "unblocked"
	if block {
		state = "blocked"
	}
	text := fmt.Sprintf("User %s %s.", userID, state)
	if !changed {
		text = fmt.Sprintf("User %s is already %s.", userID, state)
	}

	msg := transport.Message{TargetID: adminID, Content: text}
	if ref != "" {
		msg.Controls = router.ThreadControls(ref, block)
	}
	return d.send(ctx, msg)
}

func broadcastControls() []transport.Control {
	return []transport.Control{
		{Label: "Confirm", Action: transport.ActionBroadcastConfirm},
		{Label: "Cancel", Action: transport.ActionBroadcastCancel},
	}
}

func (d *Dispatcher) startBroadcast(ctx context.Context, adminID string) error {
	ids, err := d.Broadcast.Snapshot(adminID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return d.send(ctx, transport.Message{TargetID: adminID, Content: "No users to broadcast to."})
	}
	d.Sessions.BeginBroadcast(adminID)
	return d.send(ctx, transport.Message{
		TargetID: adminID,
		Content:  fmt.Sprintf("Broadcast to %d users.\nType your message or /cancel:", len(ids)),
	})
}

func (d *Dispatcher) previewBroadcast(ctx context.Context, adminID, text string) error {
	if err := scripting.ValidateString(text, "broadcast", scripting.MaxBroadcastLen); err != nil || strings.TrimSpace(text) == "" {
		return d.send(ctx, transport.Message{TargetID: adminID, Content: "Broadcast text must be between 1 and 4096 characters. Type it again or /cancel:"})
	}
	ids, err := d.Broadcast.Snapshot(adminID)
	if err != nil {
		return err
	}
	d.Sessions.SetDraft(adminID, text)
	return d.send(ctx, transport.Message{
		TargetID: adminID,
		Content:  fmt.Sprintf("Preview:\n\n%s\n\nSend to %d users?", text, len(ids)),
		Controls: broadcastControls(),
	})
}

// confirmBroadcast starts the drafted broadcast in the background and
// reports the result to the admin when it finishes.
func (d *Dispatcher) confirmBroadcast(ctx context.Context, adminID string) error {
	sess, ok := d.Sessions.Take(adminID)
	if !ok || sess.Mode != router.ModeBroadcastConfirm {
		return d.send(ctx, transport.Message{TargetID: adminID, Content: "No broadcast is waiting for confirmation."})
	}

	ids, err := d.Broadcast.Snapshot(adminID)
	if err != nil {
		return err
	}
	if err := d.send(ctx, transport.Message{TargetID: adminID, Content: fmt.Sprintf("Sending to %d users...", len(ids))}); err != nil {
		return err
	}

	d.jobs.Add(1)
	go func() {
		defer d.jobs.Done()
		res, err := d.Broadcast.Broadcast(d.bg, sess.Draft, adminID)
		text := FormatBroadcastResult(res)
		if errors.Is(err, broadcast.ErrNoTargets) {
			text = "No users to broadcast to."
		} else if err != nil {
			text = "Broadcast failed: " + err.Error()
		}
		d.notify(context.Background(), adminID, text)
	}()
	return nil
}

// FormatBroadcastResult renders the summary sent to the initiating admin.
func FormatBroadcastResult(res broadcast.Result) string {
	text := fmt.Sprintf("Broadcast Complete!\nSent: %s\nFailed: %s",
		humanize.Comma(int64(res.Sent)), humanize.Comma(int64(res.Failed)))
	if res.Skipped > 0 {
		text += fmt.Sprintf("\nNot attempted: %s", humanize.Comma(int64(res.Skipped)))
	}
	return text
}
