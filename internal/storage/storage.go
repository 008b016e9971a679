// Package storage opens the configured persistence backend and exposes it
// through the contracts the relay core consumes.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/notepid/relaybot/internal/config"
	"github.com/notepid/relaybot/internal/db"
	"github.com/notepid/relaybot/internal/identity"
	"github.com/notepid/relaybot/internal/kv"
	"github.com/notepid/relaybot/internal/message"
	"github.com/notepid/relaybot/internal/user"
)

// Users is the identity backend plus console password management.
type Users interface {
	identity.Backend
	SetConsolePassword(id, password string) error
}

// Log is the message log and thread reference store.
type Log interface {
	Append(e message.Entry) error
	History(userID string, limit int) ([]message.Entry, error)
	Recent(limit int) ([]message.Entry, error)
	Count() (int, error)
	NewRef(userID string, now time.Time) (uint64, error)
	LookupRef(seq uint64) (message.Ref, error)
}

// Settings is the bot key/value settings store.
type Settings interface {
	GetSetting(key string) (string, bool, error)
	PutSetting(key, value string) error
	EnsureSetting(key string, generate func() (string, error)) (string, error)
}

// Storage bundles an open backend.
type Storage struct {
	Driver   string
	Users    Users
	Log      Log
	Settings Settings

	close func() error
}

// Open opens the backend selected by cfg.Driver at cfg.Path.
func Open(cfg config.StorageConfig) (*Storage, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	switch cfg.Driver {
	case config.DriverSQLite, "":
		database, err := db.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		log.Info().Str("driver", config.DriverSQLite).Str("path", cfg.Path).Msg("storage opened")
		return &Storage{
			Driver:   config.DriverSQLite,
			Users:    user.NewRepo(database.DB),
			Log:      message.NewRepo(database.DB),
			Settings: database,
			close:    database.Close,
		}, nil

	case config.DriverPebble:
		store, err := kv.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		log.Info().Str("driver", config.DriverPebble).Str("path", cfg.Path).Msg("storage opened")
		return &Storage{
			Driver:   config.DriverPebble,
			Users:    store,
			Log:      store.Log(),
			Settings: store,
			close:    store.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// Close releases the backend.
func (s *Storage) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}
