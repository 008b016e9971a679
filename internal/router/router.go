// Package router decides where relayed messages go and threads admin
// replies back to the user who started the conversation.
//
// Every message forwarded to admins carries a signed thread reference.
// Replies are resolved from that reference alone, never from message text.
package router

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notepid/relaybot/internal/apperr"
	"github.com/notepid/relaybot/internal/message"
	"github.com/notepid/relaybot/internal/transport"
	"github.com/notepid/relaybot/internal/user"
)

// Identity is the part of the identity store the router reads.
type Identity interface {
	User(id string) (*user.User, error)
	Admins() ([]string, error)
}

// RefStore allocates thread reference sequence numbers and maps them back
// to their user.
type RefStore interface {
	NewRef(userID string, now time.Time) (uint64, error)
	LookupRef(seq uint64) (message.Ref, error)
}

// OutboundTarget is the routing decision for one message.
type OutboundTarget struct {
	// UserID is the thread owner.
	UserID string
	// Ref is the thread reference the messages carry.
	Ref      string
	Messages []transport.Message
}

// Router resolves message destinations.
type Router struct {
	identity Identity
	refs     RefStore
	signer   *Signer
	now      func() time.Time
}

// New creates a router. Thread references are signed with secret.
func New(identity Identity, refs RefStore, secret string) *Router {
	return &Router{identity: identity, refs: refs, signer: NewSigner(secret), now: time.Now}
}

// SetClock overrides the time source; used by tests.
func (r *Router) SetClock(now func() time.Time) {
	r.now = now
}

// Issue allocates a fresh thread reference for userID.
func (r *Router) Issue(userID string) (string, error) {
	seq, err := r.refs.NewRef(userID, r.now())
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", fmt.Errorf("issue ref for %s: %w", userID, err)
		}
		return "", apperr.Persistence("issue ref for "+userID, err)
	}
	return r.signer.Token(seq, userID), nil
}

// Resolve maps a thread reference back to the user it was issued for.
// Malformed, forged and unknown references fail with ErrUnresolvedThread.
func (r *Router) Resolve(token string) (string, error) {
	seq, mac, err := Parse(token)
	if err != nil {
		return "", err
	}
	ref, err := r.refs.LookupRef(seq)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", fmt.Errorf("resolve ref %s: %w", token, apperr.ErrUnresolvedThread)
	}
	if err != nil {
		return "", apperr.Persistence("resolve ref "+token, err)
	}
	if !r.signer.Verify(seq, ref.UserID, mac) {
		return "", fmt.Errorf("resolve ref %s: %w: %w", token, apperr.ErrUnresolvedThread, errBadMAC)
	}
	return ref.UserID, nil
}

// ThreadControls returns the buttons attached to a forwarded message.
func ThreadControls(ref string, blocked bool) []transport.Control {
	block := transport.Control{Label: "Block", Action: transport.ActionBlock, Ref: ref}
	if blocked {
		block = transport.Control{Label: "Unblock", Action: transport.ActionUnblock, Ref: ref}
	}
	return []transport.Control{
		{Label: "Reply", Action: transport.ActionReply, Ref: ref},
		block,
		{Label: "History", Action: transport.ActionHistory, Ref: ref},
	}
}

// RouteUserMessage addresses content from userID to every current admin,
// tagged with the sender identity and a fresh thread reference.
func (r *Router) RouteUserMessage(userID, content string) (OutboundTarget, error) {
	u, err := r.identity.User(userID)
	if err != nil {
		return OutboundTarget{}, err
	}
	admins, err := r.identity.Admins()
	if err != nil {
		return OutboundTarget{}, err
	}
	ref, err := r.Issue(userID)
	if err != nil {
		return OutboundTarget{}, err
	}

	text := "New message from user:\n" + FormatUser(u) + "\n\nMessage:\n" + content
	out := OutboundTarget{UserID: userID, Ref: ref}
	for _, id := range admins {
		out.Messages = append(out.Messages, transport.Message{
			TargetID: id,
			Content:  text,
			Controls: ThreadControls(ref, false),
			Ref:      ref,
		})
	}
	return out, nil
}

// RouteAdminReply addresses content from adminID to the user that ref was
// issued for, and to nobody else.
func (r *Router) RouteAdminReply(adminID, ref, content string) (OutboundTarget, error) {
	userID, err := r.Resolve(ref)
	if err != nil {
		return OutboundTarget{}, fmt.Errorf("reply from %s: %w", adminID, err)
	}
	return OutboundTarget{
		UserID: userID,
		Ref:    ref,
		Messages: []transport.Message{{
			TargetID: userID,
			Content:  "Reply from Admin:\n\n" + content,
		}},
	}, nil
}

// FormatUser renders the identity block shown to admins.
func FormatUser(u *user.User) string {
	parts := []string{"User ID: " + u.ID}
	if u.DisplayName != "" {
		parts = append(parts, "Name: "+u.DisplayName)
	}
	if u.Username != "" {
		parts = append(parts, "Username: @"+u.Username)
	}
	return strings.Join(parts, "\n")
}
