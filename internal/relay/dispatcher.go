// Package relay is the event dispatcher: it classifies every inbound event,
// applies moderation and rate limiting, routes messages between users and
// admins and issues the outbound sends.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/notepid/relaybot/internal/apperr"
	"github.com/notepid/relaybot/internal/broadcast"
	"github.com/notepid/relaybot/internal/chat"
	"github.com/notepid/relaybot/internal/identity"
	"github.com/notepid/relaybot/internal/keylock"
	"github.com/notepid/relaybot/internal/message"
	"github.com/notepid/relaybot/internal/metrics"
	"github.com/notepid/relaybot/internal/moderation"
	"github.com/notepid/relaybot/internal/ratelimit"
	"github.com/notepid/relaybot/internal/router"
	"github.com/notepid/relaybot/internal/scripting"
	"github.com/notepid/relaybot/internal/transport"
	"github.com/notepid/relaybot/internal/user"
)

// MessageLog is the append-only conversation log.
type MessageLog interface {
	Append(e message.Entry) error
	History(userID string, limit int) ([]message.Entry, error)
	Count() (int, error)
}

// Options holds dispatcher settings.
type Options struct {
	BotName      string
	HistoryLimit int
	SendTimeout  time.Duration
	RateLimit    ratelimit.Config
}

// Deps are the collaborators of the dispatcher.
type Deps struct {
	Identity   *identity.Store
	Limiter    *ratelimit.Limiter
	Router     *router.Router
	Sessions   *router.Sessions
	Moderation *moderation.Engine
	Broadcast  *broadcast.Dispatcher
	Log        MessageLog
	Sink       transport.Sink
	// Presence lists connected users for /online. Optional.
	Presence Presence
}

// Presence reports which users currently have a connected endpoint.
// *chat.Broker satisfies it.
type Presence interface {
	ListOnline() []chat.OnlineUser
}

// Dispatcher handles inbound events.
type Dispatcher struct {
	Deps
	opts  Options
	locks *keylock.Table
	now   func() time.Time

	// bg runs broadcast jobs started by admins. Cancelling it stops them.
	bg     context.Context
	stopBg context.CancelFunc
	jobs   sync.WaitGroup
}

// New creates a dispatcher.
func New(deps Deps, opts Options) *Dispatcher {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	if opts.BotName == "" {
		opts.BotName = "Talk to Admin"
	}
	bg, stop := context.WithCancel(context.Background())
	return &Dispatcher{
		Deps:   deps,
		opts:   opts,
		locks:  keylock.New(),
		now:    time.Now,
		bg:     bg,
		stopBg: stop,
	}
}

// SetClock overrides the time source; used by tests.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Close cancels running broadcasts and waits for them to finish.
func (d *Dispatcher) Close() {
	d.stopBg()
	d.jobs.Wait()
}

// Wait blocks until all running broadcasts are done.
func (d *Dispatcher) Wait() {
	d.jobs.Wait()
}

// Handle processes one event. Recoverable failures become a response to the
// sender and Handle returns nil; persistence failures are returned after the
// sender has been told something went wrong.
func (d *Dispatcher) Handle(ctx context.Context, ev transport.Event) error {
	if ev.SenderID == "" {
		return errors.New("event without sender")
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = d.now()
	}

	start := time.Now()
	unlock := d.locks.LockMany(d.lockKeys(ev)...)
	err := d.handle(ctx, ev)
	unlock()

	kind := apperr.Kind(err)
	metrics.EventsHandled.WithLabelValues(string(ev.Kind), kind).Inc()
	metrics.EventDuration.WithLabelValues(string(ev.Kind)).Observe(time.Since(start).Seconds())

	logger := log.With().Str("user", ev.SenderID).Str("event", string(ev.Kind)).Str("kind", kind).Logger()
	switch {
	case err == nil:
		return nil
	case apperr.Recoverable(err):
		logger.Debug().Err(err).Msg("event rejected")
		d.notify(ctx, ev.SenderID, responseFor(err))
		return nil
	case errors.Is(err, apperr.ErrTransport):
		logger.Warn().Err(err).Msg("outbound send failed")
		return nil
	default:
		logger.Error().Err(err).Msg("event failed")
		d.notify(ctx, ev.SenderID, textInternalError)
		return err
	}
}

// lockKeys returns the users whose state the event may touch: the sender,
// plus the thread owner for buttons and replies.
func (d *Dispatcher) lockKeys(ev transport.Event) []string {
	keys := []string{ev.SenderID}
	if ev.ReplyRef != "" {
		if uid, err := d.Router.Resolve(ev.ReplyRef); err == nil {
			keys = append(keys, uid)
		}
	}
	if ev.Kind == transport.KindCommand {
		if name, args := ev.Command(); len(args) > 0 && commandTakesUser(name) {
			keys = append(keys, args[0])
		}
	}
	if ev.Kind == transport.KindText && ev.ReplyRef == "" {
		if s, ok := d.Sessions.Get(ev.SenderID); ok && s.Mode == router.ModeReply {
			keys = append(keys, s.UserID)
		}
	}
	return keys
}

func (d *Dispatcher) handle(ctx context.Context, ev transport.Event) error {
	profile := user.Profile{
		Username:    scripting.SanitizeName(ev.Username),
		DisplayName: scripting.SanitizeName(ev.DisplayName),
	}
	u, _, err := d.Identity.GetOrCreateUser(ev.SenderID, profile)
	if err != nil {
		return err
	}
	isAdmin, err := d.Identity.IsAdmin(ev.SenderID)
	if err != nil {
		return err
	}
	if isAdmin && !ev.Authenticated {
		return fmt.Errorf("admin %s without console login: %w", ev.SenderID, apperr.ErrUnauthorized)
	}

	switch ev.Kind {
	case transport.KindCommand:
		return d.handleCommand(ctx, u, isAdmin, ev)
	case transport.KindButton:
		if !isAdmin {
			return fmt.Errorf("button %s: %w", ev.Payload, apperr.ErrUnauthorized)
		}
		return d.handleButton(ctx, u, ev)
	case transport.KindText:
		if isAdmin {
			return d.handleAdminText(ctx, u, ev)
		}
		return d.handleUserText(ctx, u, ev)
	default:
		return d.notUnderstood(ctx, ev)
	}
}

func (d *Dispatcher) notUnderstood(ctx context.Context, ev transport.Event) error {
	log.Debug().Str("user", ev.SenderID).Str("event", string(ev.Kind)).Str("payload", ev.Payload).Msg("event not understood")
	return d.send(ctx, transport.Message{TargetID: ev.SenderID, Content: textNotUnderstood})
}

// handleUserText relays a plain message from a non-admin to every admin.
func (d *Dispatcher) handleUserText(ctx context.Context, u *user.User, ev transport.Event) error {
	if reply, ok := userMenu(ev.Payload); ok {
		return d.handleCommand(ctx, u, false, transport.Event{
			SenderID: ev.SenderID, Kind: transport.KindCommand, Payload: reply, Authenticated: ev.Authenticated,
		})
	}

	if u.Blocked {
		log.Debug().Str("user", u.ID).Msg("message from blocked user rejected")
		return d.send(ctx, transport.Message{TargetID: u.ID, Content: textBlocked})
	}

	if err := scripting.ValidateMessage(ev.Payload); err != nil {
		return d.send(ctx, transport.Message{TargetID: u.ID, Content: "Message rejected: " + err.Error()})
	}

	if _, err := d.Limiter.Allow(u.ID, ev.ReceivedAt); err != nil {
		return err
	}

	content := ev.Payload
	verdict := d.Moderation.Screen(u, content)
	if !verdict.Allow {
		reason := verdict.Reason
		if reason == "" {
			reason = textFiltered
		}
		log.Info().Str("user", u.ID).Str("reason", reason).Msg("message filtered")
		return d.send(ctx, transport.Message{TargetID: u.ID, Content: reason})
	}
	if verdict.Text != "" {
		if err := scripting.ValidateMessage(verdict.Text); err != nil {
			log.Warn().Err(err).Str("user", u.ID).Msg("filter replacement rejected")
			return d.send(ctx, transport.Message{TargetID: u.ID, Content: textFiltered})
		}
		content = verdict.Text
	}

	out, err := d.Router.RouteUserMessage(u.ID, content)
	if err != nil {
		return err
	}

	if err := d.appendLog(message.Entry{
		UserID:    u.ID,
		Direction: message.UserToAdmin,
		Content:   content,
		CreatedAt: ev.ReceivedAt,
	}); err != nil {
		return err
	}

	delivered := 0
	for _, m := range out.Messages {
		if err := d.send(ctx, m); err != nil {
			log.Warn().Err(err).Str("admin", m.TargetID).Str("user", u.ID).Msg("failed to forward to admin")
			continue
		}
		delivered++
	}
	log.Info().Str("user", u.ID).Str("ref", out.Ref).Int("admins", delivered).Msg("user message relayed")

	ack := textDelivered
	if delivered == 0 {
		ack = textUndelivered
	}
	return d.send(ctx, transport.Message{TargetID: u.ID, Content: ack})
}

// handleAdminText handles plain text from an admin: a threaded reply, a
// reply in reply mode, or a broadcast draft.
func (d *Dispatcher) handleAdminText(ctx context.Context, u *user.User, ev transport.Event) error {
	if ev.ReplyRef != "" {
		return d.replyToUser(ctx, u.ID, ev.ReplyRef, ev.Payload)
	}

	sess, ok := d.Sessions.Get(u.ID)
	if ok {
		switch sess.Mode {
		case router.ModeReply:
			if err := d.replyToUser(ctx, u.ID, sess.Ref, ev.Payload); err != nil {
				return err
			}
			d.Sessions.Clear(u.ID)
			return nil
		case router.ModeBroadcastCompose:
			return d.previewBroadcast(ctx, u.ID, ev.Payload)
		case router.ModeBroadcastConfirm:
			return d.send(ctx, transport.Message{
				TargetID: u.ID,
				Content:  "Confirm or cancel the pending broadcast first.",
				Controls: broadcastControls(),
			})
		}
	}

	if cmd, ok := adminMenu(ev.Payload); ok {
		return d.handleCommand(ctx, u, true, transport.Event{
			SenderID: ev.SenderID, Kind: transport.KindCommand, Payload: cmd, Authenticated: ev.Authenticated,
		})
	}
	return d.notUnderstood(ctx, ev)
}

// replyToUser delivers an admin reply to the thread owner of ref. The reply
// is logged only once it was delivered.
func (d *Dispatcher) replyToUser(ctx context.Context, adminID, ref, content string) error {
	if err := scripting.ValidateMessage(content); err != nil {
		return d.send(ctx, transport.Message{TargetID: adminID, Content: "Reply rejected: " + err.Error()})
	}

	out, err := d.Router.RouteAdminReply(adminID, ref, content)
	if err != nil {
		return err
	}

	for _, m := range out.Messages {
		if err := d.send(ctx, m); err != nil {
			log.Warn().Err(err).Str("admin", adminID).Str("user", out.UserID).Msg("reply not delivered")
			return d.send(ctx, transport.Message{
				TargetID: adminID,
				Content:  fmt.Sprintf("Failed to send reply to user %s: %v", out.UserID, err),
			})
		}
	}

	if err := d.appendLog(message.Entry{
		UserID:    out.UserID,
		AdminID:   adminID,
		Direction: message.AdminToUser,
		Content:   content,
		CreatedAt: d.now(),
	}); err != nil {
		return err
	}
	log.Info().Str("admin", adminID).Str("user", out.UserID).Str("ref", ref).Msg("admin reply delivered")
	return d.send(ctx, transport.Message{TargetID: adminID, Content: fmt.Sprintf("Reply sent to user %s!", out.UserID)})
}

func (d *Dispatcher) appendLog(e message.Entry) error {
	e.ID = uuid.NewString()
	if err := d.Log.Append(e); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return apperr.Persistence("append log", err)
	}
	metrics.MessagesRelayed.WithLabelValues(string(e.Direction)).Inc()
	return nil
}

// send delivers one message under the outbound timeout.
func (d *Dispatcher) send(ctx context.Context, m transport.Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()
	if err := d.Sink.Send(sendCtx, m); err != nil {
		if errors.Is(err, apperr.ErrTransport) {
			return err
		}
		return fmt.Errorf("send to %s: %w: %w", m.TargetID, apperr.ErrTransport, err)
	}
	return nil
}

// notify is send for responses whose failure is only worth a log line.
func (d *Dispatcher) notify(ctx context.Context, to, text string) {
	if err := d.send(ctx, transport.Message{TargetID: to, Content: text}); err != nil {
		log.Warn().Err(err).Str("user", to).Msg("response not delivered")
	}
}
