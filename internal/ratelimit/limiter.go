// Package ratelimit implements the per-user sliding window applied to
// inbound messages from non-admin users.
package ratelimit

import (
	"time"

	"github.com/notepid/relaybot/internal/apperr"
	"github.com/notepid/relaybot/internal/keylock"
)

// Config bounds how often one user may send.
type Config struct {
	// History is the number of accepted timestamps kept per user.
	History int
	// MinInterval is the shortest span allowed across a full history.
	MinInterval time.Duration
	// Window and MaxMessages bound accepted messages per rolling window.
	Window      time.Duration
	MaxMessages int
}

// Decision is the outcome of a check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// WindowStore persists the accepted timestamps of a user, oldest first.
type WindowStore interface {
	ActivityWindow(userID string) ([]time.Time, error)
	SetActivityWindow(userID string, times []time.Time) error
}

// Limiter applies Config to users whose windows live in a WindowStore.
type Limiter struct {
	cfg   Config
	store WindowStore
	locks *keylock.Table
}

// New creates a limiter.
func New(cfg Config, store WindowStore) *Limiter {
	if cfg.History < cfg.MaxMessages {
		cfg.History = cfg.MaxMessages
	}
	return &Limiter{cfg: cfg, store: store, locks: keylock.New()}
}

// Allow checks whether userID may send at now. Accepted attempts are
// recorded; rejected attempts leave the window untouched and return a
// *apperr.ThrottleError.
func (l *Limiter) Allow(userID string, now time.Time) (Decision, error) {
	unlock := l.locks.LockMany(userID)
	defer unlock()

	history, err := l.store.ActivityWindow(userID)
	if err != nil {
		return Decision{}, err
	}

	d, next := l.cfg.Check(history, now)
	if !d.Allowed {
		return d, &apperr.ThrottleError{RetryAfter: d.RetryAfter}
	}
	if err := l.store.SetActivityWindow(userID, next); err != nil {
		return Decision{}, err
	}
	return d, nil
}

// Check evaluates one attempt against history without side effects. When
// allowed, next is the history to store. A now earlier than the newest
// recorded timestamp is treated as equal to it.
func (c Config) Check(history []time.Time, now time.Time) (d Decision, next []time.Time) {
	if n := len(history); n > 0 && now.Before(history[n-1]) {
		now = history[n-1]
	}

	if c.MaxMessages > 0 && c.Window > 0 {
		cutoff := now.Add(-c.Window)
		var inWindow []time.Time
		for _, ts := range history {
			if ts.After(cutoff) {
				inWindow = append(inWindow, ts)
			}
		}
		if len(inWindow) >= c.MaxMessages {
			// The attempt becomes legal once the oldest counted entry ages out.
			oldest := inWindow[len(inWindow)-c.MaxMessages]
			return Decision{RetryAfter: oldest.Add(c.Window).Sub(now)}, nil
		}
	}

	if c.History > 0 && c.MinInterval > 0 && len(history) >= c.History {
		oldest := history[len(history)-c.History]
		if span := now.Sub(oldest); span < c.MinInterval {
			return Decision{RetryAfter: c.MinInterval - span}, nil
		}
	}

	next = append(append([]time.Time(nil), history...), now)
	if c.History > 0 && len(next) > c.History {
		next = next[len(next)-c.History:]
	}
	return Decision{Allowed: true}, next
}
