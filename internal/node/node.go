package node

import "time"

// Session is one connected console or gateway endpoint occupying a slot.
type Session struct {
	ID          int
	UserID      string
	Transport   string
	Remote      string
	ConnectedAt time.Time
}
