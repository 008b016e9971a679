package message

import "time"

// Direction tells which way a logged message travelled.
type Direction string

const (
	UserToAdmin Direction = "user_to_admin"
	AdminToUser Direction = "admin_to_user"
)

// Entry is one immutable line of a user's conversation log.
type Entry struct {
	ID        string
	UserID    string
	AdminID   string // set for admin_to_user
	Direction Direction
	Content   string
	CreatedAt time.Time
}

// Ref is the persisted half of a thread reference: a sequence number that
// maps back to the user whose message was shown to the admins.
type Ref struct {
	Seq       uint64
	UserID    string
	CreatedAt time.Time
}
