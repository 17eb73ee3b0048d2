package message

import (
	"context"
	"errors"
	"time"
)

type Type string

const (
	TypeText Type = "text"
	TypeFile Type = "file"
)

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	return t == TypeText || t == TypeFile
}

// ReadEntry records that a user has seen a message.
type ReadEntry struct {
	UserID string    `json:"user"`
	ReadAt time.Time `json:"readAt"`
}

// Message is a persisted direct or channel message. Exactly one of
// RecipientID and ChannelID is set.
type Message struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"sender"`
	RecipientID string      `json:"recipient,omitempty"`
	ChannelID   string      `json:"channelId,omitempty"`
	Type        Type        `json:"messageType"`
	Content     string      `json:"content,omitempty"`
	FileURL     string      `json:"fileUrl,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	ReadBy      []ReadEntry `json:"readBy"`
}

// IsChannel reports whether the message was posted to a channel.
func (m *Message) IsChannel() bool {
	return m.ChannelID != ""
}

// HasReader reports whether userID already appears in ReadBy.
func (m *Message) HasReader(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// ContactSummary is the newest direct message exchanged with one contact.
type ContactSummary struct {
	ContactID   string
	LastMessage *Message
}

var (
	ErrMessageNotFound = errors.New("message not found")
)

// Store defines message persistence operations.
type Store interface {
	// Create persists msg and fills in its ID and Timestamp.
	Create(ctx context.Context, msg *Message) error
	FindByID(ctx context.Context, id string) (*Message, error)
	// AppendReadBy adds userID to the message's readers. It reports false
	// without error when the user is already recorded.
	AppendReadBy(ctx context.Context, id, userID string, at time.Time) (bool, error)
	// ListConversation returns the direct messages between a and b, oldest first.
	ListConversation(ctx context.Context, a, b string) ([]*Message, error)
	ListChannel(ctx context.Context, channelID string) ([]*Message, error)
	// LatestByContact returns one summary per contact userID has exchanged
	// direct messages with, newest first.
	LatestByContact(ctx context.Context, userID string) ([]ContactSummary, error)
	// LatestInChannels returns the newest message of each listed channel that has one.
	LatestInChannels(ctx context.Context, channelIDs []string) (map[string]*Message, error)
}
