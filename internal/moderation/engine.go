// Package moderation implements the block state machine and admin set
// management. Every transition is authorized here: the actor must be a
// current admin.
package moderation

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/notepid/relaybot/internal/apperr"
	"github.com/notepid/relaybot/internal/scripting"
	"github.com/notepid/relaybot/internal/user"
)

// Store is the identity store surface the engine mutates.
type Store interface {
	User(id string) (*user.User, error)
	SetBlocked(id string, blocked bool) error
	IsAdmin(id string) (bool, error)
	AddAdmin(id string) error
	RemoveAdmin(id string) error
}

// ContentFilter inspects inbound user messages.
type ContentFilter interface {
	Inspect(u *user.User, text string) (scripting.Verdict, error)
}

// Engine applies moderation actions.
type Engine struct {
	store  Store
	filter ContentFilter
}

// New creates an engine. filter may be nil.
func New(store Store, filter ContentFilter) *Engine {
	return &Engine{store: store, filter: filter}
}

// Authorize fails with ErrUnauthorized unless actorID is an admin.
func (e *Engine) Authorize(actorID string) error {
	ok, err := e.store.IsAdmin(actorID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("actor %s: %w", actorID, apperr.ErrUnauthorized)
	}
	return nil
}

// Block moves targetID to Blocked. Blocking a blocked user succeeds with
// changed == false.
func (e *Engine) Block(actorID, targetID string) (changed bool, err error) {
	return e.setBlocked(actorID, targetID, true)
}

// Unblock moves targetID to Active. Unblocking an active user succeeds with
// changed == false.
func (e *Engine) Unblock(actorID, targetID string) (changed bool, err error) {
	return e.setBlocked(actorID, targetID, false)
}

func (e *Engine) setBlocked(actorID, targetID string, blocked bool) (bool, error) {
	if err := e.Authorize(actorID); err != nil {
		return false, err
	}
	u, err := e.store.User(targetID)
	if err != nil {
		return false, err
	}
	if u.Blocked == blocked {
		return false, nil
	}
	if err := e.store.SetBlocked(targetID, blocked); err != nil {
		return false, err
	}
	log.Info().Str("admin", actorID).Str("user", targetID).Bool("blocked", blocked).Msg("block state changed")
	return true, nil
}

// Promote adds targetID to the admin set.
func (e *Engine) Promote(actorID, targetID string) error {
	if err := e.Authorize(actorID); err != nil {
		return err
	}
	if err := e.store.AddAdmin(targetID); err != nil {
		return err
	}
	log.Info().Str("admin", actorID).Str("user", targetID).Msg("admin added")
	return nil
}

// Demote removes targetID from the admin set. The last admin cannot be
// removed.
func (e *Engine) Demote(actorID, targetID string) error {
	if err := e.Authorize(actorID); err != nil {
		return err
	}
	if err := e.store.RemoveAdmin(targetID); err != nil {
		return err
	}
	log.Info().Str("admin", actorID).Str("user", targetID).Msg("admin removed")
	return nil
}

// Screen runs an inbound message through the content filter. Without a
// filter every message passes unchanged. Filter errors let the message
// through and are logged.
func (e *Engine) Screen(u *user.User, text string) scripting.Verdict {
	if e.filter == nil {
		return scripting.Verdict{Allow: true}
	}
	v, err := e.filter.Inspect(u, text)
	if err != nil {
		scripting.LogError("inspect "+u.ID, err)
		return scripting.Verdict{Allow: true}
	}
	return v
}
