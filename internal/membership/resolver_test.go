package membership

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-im/courier/store/channel"
)

func TestRecipientsUnionsMembersAndAdmin(t *testing.T) {
	tests := []struct {
		name    string
		targets Targets
		exclude []string
		want    []string
	}{
		{
			name:    "admin outside member list",
			targets: Targets{Members: []string{"a", "b"}, Admin: "c"},
			want:    []string{"a", "b", "c"},
		},
		{
			name:    "admin is also a member",
			targets: Targets{Members: []string{"a", "c", "b"}, Admin: "c"},
			want:    []string{"a", "c", "b"},
		},
		{
			name:    "duplicate members collapse",
			targets: Targets{Members: []string{"a", "a", "b"}, Admin: "b"},
			want:    []string{"a", "b"},
		},
		{
			name:    "sender excluded",
			targets: Targets{Members: []string{"a", "b"}, Admin: "c"},
			exclude: []string{"a"},
			want:    []string{"b", "c"},
		},
		{
			name:    "excluded admin",
			targets: Targets{Members: []string{"a"}, Admin: "c"},
			exclude: []string{"c"},
			want:    []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.targets.Recipients(tt.exclude...))
		})
	}
}

func TestIncludes(t *testing.T) {
	targets := Targets{Members: []string{"a"}, Admin: "c"}
	assert.True(t, targets.Includes("a"))
	assert.True(t, targets.Includes("c"))
	assert.False(t, targets.Includes("z"))
}

func TestResolveReflectsLatestMembership(t *testing.T) {
	ctx := context.Background()
	store := channel.NewMemoryStore()
	ch := &channel.Channel{Name: "general", AdminID: "c", Members: []string{"a"}}
	require.NoError(t, store.Create(ctx, ch))

	r := NewResolver(store)

	first, err := r.Resolve(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, first.Recipients())

	require.NoError(t, store.AddMember(ctx, ch.ID, "b"))

	second, err := r.Resolve(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, second.Recipients())
	assert.Equal(t, []string{"a", "c"}, first.Recipients(), "earlier result is not mutated")
}

func TestResolveUnknownChannel(t *testing.T) {
	r := NewResolver(channel.NewMemoryStore())

	_, err := r.Resolve(context.Background(), "missing")
	assert.True(t, errors.Is(err, channel.ErrChannelNotFound))
}
