package channel

import (
	"context"
	"errors"
	"time"
)

// Channel is a named group conversation owned by an admin. The admin is not
// implicitly a member.
type Channel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AdminID   string    `json:"admin"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID is the admin or a member.
func (c *Channel) HasParticipant(userID string) bool {
	if c.AdminID == userID {
		return true
	}
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

var (
	ErrChannelNotFound = errors.New("channel not found")
)

// Store defines channel persistence operations.
type Store interface {
	// Create persists ch with its member list and fills in ID and timestamps.
	Create(ctx context.Context, ch *Channel) error
	// Get returns the channel with its current committed member list.
	Get(ctx context.Context, id string) (*Channel, error)
	// ListForUser returns the channels userID administers or belongs to.
	ListForUser(ctx context.Context, userID string) ([]*Channel, error)
	// AddMember adds userID to the channel's members.
	AddMember(ctx context.Context, channelID, userID string) error
	// AppendMessage adds messageID to the channel's append-only message list.
	AppendMessage(ctx context.Context, channelID, messageID string) error
}
