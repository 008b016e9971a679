package router

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/notepid/relaybot/internal/apperr"
)

const macSize = 8

// Signer produces and verifies thread reference tokens of the form
// "<seq>.<mac>". The sequence number is allocated by a RefStore; the MAC
// binds it to the thread owner so a token cannot be altered to point at a
// different user.
type Signer struct {
	key [32]byte
}

// NewSigner derives the MAC key from secret.
func NewSigner(secret string) *Signer {
	return &Signer{key: blake2b.Sum256([]byte(secret))}
}

// GenerateSecret returns a random hex secret suitable for NewSigner.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate ref secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *Signer) mac(seq uint64, userID string) []byte {
	h, err := blake2b.New(macSize, s.key[:])
	if err != nil {
		// Only possible with an invalid size or key length.
		panic(err)
	}
	h.Write([]byte(strconv.FormatUint(seq, 10)))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	return h.Sum(nil)
}

// Token encodes seq for userID.
func (s *Signer) Token(seq uint64, userID string) string {
	return strconv.FormatUint(seq, 10) + "." + hex.EncodeToString(s.mac(seq, userID))
}

// Parse splits a token into its sequence number and MAC. It does not verify
// the MAC.
func Parse(token string) (seq uint64, mac []byte, err error) {
	seqPart, macPart, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok {
		return 0, nil, fmt.Errorf("parse ref %q: %w", token, apperr.ErrUnresolvedThread)
	}
	seq, err = strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("parse ref %q: %w", token, apperr.ErrUnresolvedThread)
	}
	mac, err = hex.DecodeString(macPart)
	if err != nil || len(mac) != macSize {
		return 0, nil, fmt.Errorf("parse ref %q: %w", token, apperr.ErrUnresolvedThread)
	}
	return seq, mac, nil
}

// Verify reports whether mac is valid for seq and userID.
func (s *Signer) Verify(seq uint64, userID string, mac []byte) bool {
	return subtle.ConstantTimeCompare(s.mac(seq, userID), mac) == 1
}

var errBadMAC = errors.New("reference signature mismatch")
