// Package chat tracks connected endpoints and delivers outbound messages to
// them. A user may be connected through several endpoints at once; a send
// succeeds when at least one of them accepts the message.
package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/notepid/relaybot/internal/apperr"
	"github.com/notepid/relaybot/internal/metrics"
	"github.com/notepid/relaybot/internal/transport"
)

// Subscriber is one connected endpoint.
type Subscriber struct {
	ID        uint64
	UserID    string
	Transport string // "ws", "ssh"
	Ch        chan transport.Message

	done      chan struct{}
	closeOnce sync.Once
	since     time.Time
}

// Done is closed when the subscriber is unsubscribed.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Broker routes outbound messages to connected endpoints.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[uint64]*Subscriber
	nextID      atomic.Uint64
	bufSize     int
}

// NewBroker creates a new broker. bufSize is the per-endpoint queue length.
func NewBroker(bufSize int) *Broker {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &Broker{
		subscribers: make(map[string]map[uint64]*Subscriber),
		bufSize:     bufSize,
	}
}

// OnlineUser describes a connected user.
type OnlineUser struct {
	UserID     string
	Transports []string
	Since      time.Time
}

// Subscribe registers an endpoint for userID.
func (b *Broker) Subscribe(userID, transportName string) *Subscriber {
	sub := &Subscriber{
		ID:        b.nextID.Add(1),
		UserID:    userID,
		Transport: transportName,
		Ch:        make(chan transport.Message, b.bufSize),
		done:      make(chan struct{}),
		since:     time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subscribers[userID]
	if !ok {
		subs = make(map[uint64]*Subscriber)
		b.subscribers[userID] = subs
	}
	subs[sub.ID] = sub
	metrics.Sessions.WithLabelValues(transportName).Inc()
	return sub
}

// Unsubscribe removes an endpoint. It is safe to call more than once.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	if subs, ok := b.subscribers[sub.UserID]; ok {
		if _, ok := subs[sub.ID]; ok {
			delete(subs, sub.ID)
			metrics.Sessions.WithLabelValues(sub.Transport).Dec()
		}
		if len(subs) == 0 {
			delete(b.subscribers, sub.UserID)
		}
	}
	b.mu.Unlock()

	// Don't close Ch here: senders may have already snapshotted the
	// subscriber. done releases them instead.
	sub.closeOnce.Do(func() { close(sub.done) })
}

// Send implements transport.Sink. It blocks until an endpoint of the target
// accepts the message or ctx ends.
func (b *Broker) Send(ctx context.Context, msg transport.Message) error {
	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subscribers[msg.TargetID]))
	for _, sub := range b.subscribers[msg.TargetID] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	if len(subs) == 0 {
		metrics.OutboundSends.WithLabelValues("offline").Inc()
		return fmt.Errorf("send to %s: %w: %w", msg.TargetID, apperr.ErrTransport, transport.ErrNotConnected)
	}

	delivered := 0
deliver:
	for _, sub := range subs {
		select {
		case sub.Ch <- msg:
			delivered++
		case <-sub.done:
		case <-ctx.Done():
			break deliver
		}
	}
	if delivered == 0 {
		if err := ctx.Err(); err != nil {
			metrics.OutboundSends.WithLabelValues("timeout").Inc()
			return fmt.Errorf("send to %s: %w: %w", msg.TargetID, apperr.ErrTransport, err)
		}
		metrics.OutboundSends.WithLabelValues("offline").Inc()
		return fmt.Errorf("send to %s: %w: %w", msg.TargetID, apperr.ErrTransport, transport.ErrNotConnected)
	}
	metrics.OutboundSends.WithLabelValues("ok").Inc()
	log.Debug().Str("user", msg.TargetID).Int("endpoints", delivered).Msg("message delivered")
	return nil
}

// ListOnline returns all currently connected users sorted by id.
func (b *Broker) ListOnline() []OnlineUser {
	b.mu.RLock()
	defer b.mu.RUnlock()

	users := make([]OnlineUser, 0, len(b.subscribers))
	for id, subs := range b.subscribers {
		u := OnlineUser{UserID: id}
		for _, sub := range subs {
			u.Transports = append(u.Transports, sub.Transport)
			if u.Since.IsZero() || sub.since.Before(u.Since) {
				u.Since = sub.since
			}
		}
		sort.Strings(u.Transports)
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}
