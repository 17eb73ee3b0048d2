// Package membership resolves who a channel message fans out to.
package membership

import (
	"context"
	"fmt"

	"github.com/nexus-im/courier/store/channel"
)

// ChannelReader is the part of the channel store the resolver needs.
type ChannelReader interface {
	Get(ctx context.Context, id string) (*channel.Channel, error)
}

// Targets is a channel's audience at the time it was resolved.
type Targets struct {
	ChannelID string
	Members   []string
	Admin     string
}

// Includes reports whether userID is a member or the admin.
func (t *Targets) Includes(userID string) bool {
	if t.Admin == userID {
		return true
	}
	for _, m := range t.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Recipients returns members followed by the admin, each identity once,
// leaving out any id in exclude.
func (t *Targets) Recipients(exclude ...string) []string {
	seen := make(map[string]bool, len(t.Members)+1+len(exclude))
	for _, e := range exclude {
		seen[e] = true
	}

	out := make([]string, 0, len(t.Members)+1)
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, m := range t.Members {
		add(m)
	}
	add(t.Admin)
	return out
}

// Resolver reads channel membership from the store on every call, so a send
// always sees the latest committed member list.
type Resolver struct {
	channels ChannelReader
}

func NewResolver(channels ChannelReader) *Resolver {
	return &Resolver{channels: channels}
}

// Resolve returns the members and admin of channelID. Unknown channels
// yield channel.ErrChannelNotFound.
func (r *Resolver) Resolve(ctx context.Context, channelID string) (*Targets, error) {
	ch, err := r.channels.Get(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("resolve channel %s: %w", channelID, err)
	}
	return &Targets{
		ChannelID: ch.ID,
		Members:   append([]string{}, ch.Members...),
		Admin:     ch.AdminID,
	}, nil
}
