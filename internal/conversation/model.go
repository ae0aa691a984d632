package conversation

import (
	"strings"
	"time"
)

// ---------------------------------------------
// Database & API models
// ---------------------------------------------

// Message belongs to exactly one friendship pair. Immutable once written,
// except IsRead which flips false -> true exactly once.
type Message struct {
	ID           string    `json:"id"`
	SenderID     string    `json:"sender_id"`
	RecipientID  string    `json:"recipient_id"`
	FriendshipID string    `json:"friendship_id"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
	IsRead       bool      `json:"is_read"`
	MomentID     *string   `json:"moment_id,omitempty"`
	CapsuleID    *string   `json:"capsule_id,omitempty"`
	StarterID    *string   `json:"starter_id,omitempty"`
	ThreadID     *string   `json:"thread_id,omitempty"`
}

// Capsule is a named sub-folder of a conversation. MessageCount and
// UnreadCount are derived by counting queries and never persisted.
type Capsule struct {
	ID             string    `json:"id"`
	FriendshipID   string    `json:"friendship_id"`
	Title          string    `json:"title"`
	Description    *string   `json:"description,omitempty"`
	CapsuleType    string    `json:"capsule_type"`
	CreatedBy      string    `json:"created_by"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`

	MessageCount int `json:"message_count"`
	UnreadCount  int `json:"unread_count"`
}

// Thread is a sub-conversation spawned from a conversation starter. At most
// one thread exists per (starter, friendship) pair; the database constraint
// enforces it.
type Thread struct {
	ID            string    `json:"id"`
	StarterID     string    `json:"starter_id"`
	FriendshipID  string    `json:"friendship_id"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`

	MessageCount int `json:"message_count"`
	UnreadCount  int `json:"unread_count"`
}

// SharedMoment combines one or more images with a title and reflection.
// StoragePath persists the object keys as a single comma-joined string;
// ImageURLs holds the signed URLs resolved for this session and is never
// persisted.
type SharedMoment struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Reflection   string    `json:"reflection"`
	StoragePath  string    `json:"storage_path"`
	UploaderID   string    `json:"uploader_id"`
	SharedWithID string    `json:"shared_with_id"`
	CreatedAt    time.Time `json:"created_at"`

	ImageURLs []string `json:"image_urls,omitempty"`
}

// Paths splits the comma-joined storage field into individual object keys,
// preserving order.
func (m *SharedMoment) Paths() []string {
	if m.StoragePath == "" {
		return nil
	}
	return strings.Split(m.StoragePath, ",")
}

// JoinPaths is the single place that builds the persisted form of Paths.
func JoinPaths(paths []string) string {
	return strings.Join(paths, ",")
}

// Starter is a pre-authored conversation prompt.
type Starter struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Category string `json:"category"`
	Colour   string `json:"colour"`
}

// Capabilities selects which slices of conversation state a session carries.
// The same session type serves every variant of the conversation view instead
// of forked implementations per screen.
type Capabilities struct {
	Capsules bool
	Threads  bool
	Moments  bool
	Starters bool
}

// AllCapabilities is the full chat view.
func AllCapabilities() Capabilities {
	return Capabilities{Capsules: true, Threads: true, Moments: true, Starters: true}
}

// Snapshot is the initial, consistent view model a session produces for a
// newly attached viewer.
type Snapshot struct {
	Messages []Message      `json:"messages"`
	Capsules []Capsule      `json:"capsules"`
	Moments  []SharedMoment `json:"moments"`
}
