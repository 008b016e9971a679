package scripting

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Input limits applied to inbound traffic before it reaches scripts or
// storage.
const (
	MaxUserIDLen      = 64
	MaxDisplayNameLen = 128
	MaxMessageLen     = 4096
	MaxBroadcastLen   = 4096
)

// ErrEmptyMessage is returned for messages with no visible content.
var ErrEmptyMessage = errors.New("message cannot be empty")

// ValidateString checks string length and basic content validation.
func ValidateString(value, fieldName string, maxLen int) error {
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s contains invalid UTF-8", fieldName)
	}

	if n := utf8.RuneCountInString(value); n > maxLen {
		return fmt.Errorf("%s too long (max %d characters)", fieldName, maxLen)
	}

	return nil
}

// ValidateUserID checks an id supplied by an admin command.
func ValidateUserID(id string) error {
	if id == "" {
		return errors.New("user id cannot be empty")
	}
	if err := ValidateString(id, "user id", MaxUserIDLen); err != nil {
		return err
	}
	for _, r := range id {
		if r <= ' ' || r == 127 {
			return errors.New("user id contains whitespace or control characters")
		}
	}
	return nil
}

// ValidateMessage checks relayed message text.
func ValidateMessage(text string) error {
	if err := ValidateString(text, "message", MaxMessageLen); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// SanitizeForDisplay removes control characters other than newlines and tabs.
func SanitizeForDisplay(input string) string {
	var result strings.Builder
	for _, r := range input {
		if r >= 32 && r != 127 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// SanitizeName trims and bounds a transport-supplied display name.
func SanitizeName(name string) string {
	name = strings.TrimSpace(SanitizeForDisplay(strings.ReplaceAll(name, "\n", " ")))
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		name = string([]rune(name)[:MaxDisplayNameLen])
	}
	return name
}
