// Package wire defines the event envelope and payloads exchanged over a live
// connection. It is shared by the server and the Go client.
package wire

import (
	"encoding/json"
	"time"
)

// Client to server events.
const (
	EventSendMessage              = "sendMessage"
	EventSendChannelMessage       = "sendChannelMessage"
	EventMarkMessageAsRead        = "markMessageAsRead"
	EventMarkChannelMessageAsRead = "markChannelMessageAsRead"
)

// Server to client events.
const (
	EventReceiveMessage        = "receiveMessage"
	EventReceiveChannelMessage = "receive-channel-message"
	EventMessageRead           = "messageRead"
	EventChannelMessageRead    = "channelMessageRead"
	EventError                 = "error"
)

type MessageType string

const (
	TypeText MessageType = "text"
	TypeFile MessageType = "file"
)

// Envelope is one websocket frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps payload in an envelope for event.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Decode parses a frame into an envelope.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(frame, &env)
	return env, err
}

// Profile is the display information attached to a message participant.
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Image     string `json:"image,omitempty"`
	Color     int    `json:"color"`
}

// DisplayName returns the full name, or the email when no name is set.
func (p Profile) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	case p.Email != "":
		return p.Email
	}
	return p.ID
}

type ReadEntry struct {
	User   string    `json:"user"`
	ReadAt time.Time `json:"readAt"`
}

// Message is a persisted message with its participants expanded.
type Message struct {
	ID          string      `json:"id"`
	Sender      Profile     `json:"sender"`
	Recipient   *Profile    `json:"recipient,omitempty"`
	ChannelID   string      `json:"channelId,omitempty"`
	MessageType MessageType `json:"messageType"`
	Content     string      `json:"content,omitempty"`
	FileURL     string      `json:"fileUrl,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	ReadBy      []ReadEntry `json:"readBy"`
}

// IsChannel reports whether the message belongs to a channel.
func (m *Message) IsChannel() bool {
	return m.ChannelID != ""
}

// RecipientID returns the direct recipient's id, or "" for channel messages.
func (m *Message) RecipientID() string {
	if m.Recipient == nil {
		return ""
	}
	return m.Recipient.ID
}

// HasReader reports whether user is already listed in ReadBy.
func (m *Message) HasReader(user string) bool {
	for _, r := range m.ReadBy {
		if r.User == user {
			return true
		}
	}
	return false
}

// SendMessage is the payload of sendMessage.
type SendMessage struct {
	Sender      string      `json:"sender"`
	Recipient   string      `json:"recipient"`
	MessageType MessageType `json:"messageType"`
	Content     string      `json:"content,omitempty"`
	FileURL     string      `json:"fileUrl,omitempty"`
}

// SendChannelMessage is the payload of sendChannelMessage.
type SendChannelMessage struct {
	Sender      string      `json:"sender"`
	ChannelID   string      `json:"channelId"`
	MessageType MessageType `json:"messageType"`
	Content     string      `json:"content,omitempty"`
	FileURL     string      `json:"fileUrl,omitempty"`
}

// MarkRead is the payload of markMessageAsRead and markChannelMessageAsRead.
type MarkRead struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// ReadReceipt is the payload of messageRead and channelMessageRead.
type ReadReceipt struct {
	MessageID string    `json:"messageId"`
	ReadBy    string    `json:"readBy"`
	ReadAt    time.Time `json:"readAt"`
}

type Error struct {
	Message string `json:"message"`
}
