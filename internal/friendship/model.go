package friendship

import (
	"time"

	"capsules/internal/profile"
)

const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusBlocked  = "blocked"
)

type Friendship struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FriendID  string    `json:"friend_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// FriendSummary is one row of the friends list: the peer's profile plus the
// viewer's unread count for that conversation.
type FriendSummary struct {
	FriendshipID string          `json:"friendship_id"`
	Friend       profile.Profile `json:"friend"`
	UnreadCount  int             `json:"unread_count"`
}

// Request is a pending friendship addressed to the viewer.
type Request struct {
	ID   string          `json:"id"`
	From profile.Profile `json:"from"`
}
