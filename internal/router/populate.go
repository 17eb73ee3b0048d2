package router

import (
	"github.com/nexus-im/courier/internal/wire"
	"github.com/nexus-im/courier/store/message"
	"github.com/nexus-im/courier/store/user"
)

// Participants lists the user ids whose profiles a message renders with.
func Participants(msgs ...*message.Message) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range msgs {
		for _, id := range []string{m.SenderID, m.RecipientID} {
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Populate expands a stored message into its wire shape. Users missing from
// users are rendered with their id only.
func Populate(m *message.Message, users map[string]*user.User) *wire.Message {
	out := &wire.Message{
		ID:          m.ID,
		Sender:      profile(m.SenderID, users),
		ChannelID:   m.ChannelID,
		MessageType: wire.MessageType(m.Type),
		Content:     m.Content,
		FileURL:     m.FileURL,
		Timestamp:   m.Timestamp,
		ReadBy:      make([]wire.ReadEntry, 0, len(m.ReadBy)),
	}
	if m.RecipientID != "" {
		p := profile(m.RecipientID, users)
		out.Recipient = &p
	}
	for _, r := range m.ReadBy {
		out.ReadBy = append(out.ReadBy, wire.ReadEntry{User: r.UserID, ReadAt: r.ReadAt})
	}
	return out
}

func profile(id string, users map[string]*user.User) wire.Profile {
	u, ok := users[id]
	if !ok {
		return wire.Profile{ID: id}
	}
	return wire.Profile{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Image:     u.Image,
		Color:     u.Color,
	}
}
