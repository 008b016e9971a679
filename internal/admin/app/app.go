// Package app holds the state shared by the relay-admin screens. It works
// directly against the configured store, going through the identity store
// so the admin set guards apply here as well.
package app

import (
	"fmt"

	"github.com/notepid/relaybot/internal/config"
	"github.com/notepid/relaybot/internal/db"
	"github.com/notepid/relaybot/internal/identity"
	"github.com/notepid/relaybot/internal/message"
	"github.com/notepid/relaybot/internal/router"
	"github.com/notepid/relaybot/internal/scripting"
	"github.com/notepid/relaybot/internal/storage"
	"github.com/notepid/relaybot/internal/user"
)

type App struct {
	ConfigPath string
	Config     *config.Config

	Store    *storage.Storage
	Identity *identity.Store
}

// Stats is the dashboard summary.
type Stats struct {
	Users    int
	Messages int
	Admins   int
}

func New(configPath string) (*App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}

	a := NewWithStorage(cfg, store)
	a.ConfigPath = configPath

	cleanup := func() {
		_ = store.Close()
	}
	return a, cleanup, nil
}

// NewWithStorage builds an App over an already open store.
func NewWithStorage(cfg *config.Config, store *storage.Storage) *App {
	return &App{
		Config:   cfg,
		Store:    store,
		Identity: identity.New(store.Users),
	}
}

func (a *App) Users() ([]*user.User, error) {
	return a.Identity.Users(user.ListFilter{})
}

func (a *App) User(id string) (*user.User, error) {
	return a.Identity.User(id)
}

// ToggleBlock flips the block flag of id and returns the new state.
func (a *App) ToggleBlock(id string) (bool, error) {
	u, err := a.Identity.User(id)
	if err != nil {
		return false, err
	}
	if err := a.Identity.SetBlocked(id, !u.Blocked); err != nil {
		return u.Blocked, err
	}
	return !u.Blocked, nil
}

func (a *App) History(id string) ([]message.Entry, error) {
	return a.Store.Log.History(id, a.Config.Bot.HistoryLimit)
}

func (a *App) Recent(limit int) ([]message.Entry, error) {
	return a.Store.Log.Recent(limit)
}

func (a *App) Admins() ([]string, error) {
	return a.Identity.Admins()
}

func (a *App) AddAdmin(id string) error {
	if err := scripting.ValidateUserID(id); err != nil {
		return err
	}
	return a.Identity.AddAdmin(id)
}

func (a *App) RemoveAdmin(id string) error {
	return a.Identity.RemoveAdmin(id)
}

// SetConsolePassword sets the SSH and websocket password of id. The user
// record is created if the id has never connected, so an admin can be
// given a password before the first login.
func (a *App) SetConsolePassword(id, password string) error {
	if err := scripting.ValidateUserID(id); err != nil {
		return err
	}
	if _, _, err := a.Identity.GetOrCreateUser(id, user.Profile{}); err != nil {
		return err
	}
	if err := a.Store.Users.SetConsolePassword(id, password); err != nil {
		return fmt.Errorf("set console password %s: %w", id, err)
	}
	return nil
}

// RotateRefSecret replaces the thread reference secret. Buttons on messages
// already delivered stop resolving once the bot restarts.
func (a *App) RotateRefSecret() error {
	secret, err := router.GenerateSecret()
	if err != nil {
		return err
	}
	return a.Store.Settings.PutSetting(db.SettingRefSecret, secret)
}

// RefSecretSource reports where the running bot takes its reference secret
// from.
func (a *App) RefSecretSource() string {
	if a.Config.Relay.RefSecret != "" {
		return "config"
	}
	if _, ok, err := a.Store.Settings.GetSetting(db.SettingRefSecret); err == nil && ok {
		return "stored"
	}
	return "not yet generated"
}

func (a *App) Stats() (Stats, error) {
	var s Stats
	var err error
	if s.Users, err = a.Identity.UserCount(); err != nil {
		return s, err
	}
	if s.Messages, err = a.Store.Log.Count(); err != nil {
		return s, err
	}
	admins, err := a.Identity.Admins()
	if err != nil {
		return s, err
	}
	s.Admins = len(admins)
	return s, nil
}
