package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// Setting keys.
const (
	SettingRefSecret = "ref_secret"
)

// GetSetting returns the stored value for key and whether it exists.
func (db *DB) GetSetting(key string) (string, bool, error) {
	var value string
	err := db.QueryRow("SELECT value FROM bot_settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load setting %s: %w", key, err)
	}
	return value, true, nil
}

// PutSetting stores value under key, replacing any previous value.
func (db *DB) PutSetting(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO bot_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("update setting %s: %w", key, err)
	}
	return nil
}

// EnsureSetting returns the value stored under key, storing the result of
// generate first when the key is absent.
func (db *DB) EnsureSetting(key string, generate func() (string, error)) (string, error) {
	if v, ok, err := db.GetSetting(key); err != nil || ok {
		return v, err
	}
	v, err := generate()
	if err != nil {
		return "", fmt.Errorf("generate setting %s: %w", key, err)
	}
	if _, err := db.Exec("INSERT OR IGNORE INTO bot_settings (key, value) VALUES (?, ?)", key, v); err != nil {
		return "", fmt.Errorf("store setting %s: %w", key, err)
	}
	// Another process may have won the insert.
	stored, _, err := db.GetSetting(key)
	return stored, err
}
