package user

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/notepid/relaybot/internal/apperr"
)

const bcryptCost = 12

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword verifies a plaintext password against a bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Lookup is the read side needed to authenticate console logins.
type Lookup interface {
	Get(id string) (*User, error)
	IsAdmin(id string) (bool, error)
}

// ConsoleAuthenticator decides whether a console or websocket login may act
// as id. Admin identities and any id with a stored console password must
// present that password; other ids may connect freely.
type ConsoleAuthenticator struct {
	users Lookup
}

// NewConsoleAuthenticator creates an authenticator over a user lookup.
func NewConsoleAuthenticator(users Lookup) *ConsoleAuthenticator {
	return &ConsoleAuthenticator{users: users}
}

// RequiresPassword reports whether a login as id must present a password.
func (a *ConsoleAuthenticator) RequiresPassword(id string) (bool, error) {
	admin, err := a.users.IsAdmin(id)
	if err != nil || admin {
		return admin, err
	}
	u, err := a.users.Get(id)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.ConsolePasswordHash != "", nil
}

// Authenticate validates the password presented for id. It never reveals
// whether the id exists.
func (a *ConsoleAuthenticator) Authenticate(id, password string) (bool, error) {
	u, err := a.users.Get(id)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if u.ConsolePasswordHash == "" {
		return false, nil
	}
	return CheckPassword(password, u.ConsolePasswordHash), nil
}
