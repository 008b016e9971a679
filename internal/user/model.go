package user

import "time"

// User is a person who has talked to the bot at least once. Records are
// never deleted.
type User struct {
	ID          string
	Username    string
	DisplayName string
	Blocked     bool

	// RecentActivity holds the accepted message timestamps kept by the rate
	// limiter, oldest first.
	RecentActivity []time.Time

	ConsolePasswordHash string
	CreatedAt           time.Time
	LastActive          time.Time
}

// Profile carries the transport-supplied name fields refreshed on every
// inbound event.
type Profile struct {
	Username    string
	DisplayName string
}

// Name returns the best human-readable label for the user.
func (u *User) Name() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Username != "":
		return "@" + u.Username
	default:
		return "User " + u.ID
	}
}

// ListFilter narrows List results.
type ListFilter struct {
	ActiveOnly bool // exclude blocked users
	Limit      int  // 0 = no limit
}
