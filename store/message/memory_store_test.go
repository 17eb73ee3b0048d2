package message

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Minute)
		return t
	}
}

func seed(t *testing.T, s *MemoryStore, msgs ...*Message) {
	t.Helper()
	for _, m := range msgs {
		require.NoError(t, s.Create(context.Background(), m))
	}
}

func TestMemoryCreateAssignsIdentity(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewMemoryStore().WithClock(steppingClock(start))

	m := &Message{SenderID: "a", RecipientID: "b", Type: TypeText, Content: "hi"}
	require.NoError(t, s.Create(context.Background(), m))
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, start, m.Timestamp)

	got, err := s.FindByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	got.Content = "changed"
	again, _ := s.FindByID(context.Background(), m.ID)
	assert.Equal(t, "hi", again.Content, "returned copies are detached")
}

func TestMemoryListConversation(t *testing.T) {
	s := NewMemoryStore().WithClock(steppingClock(time.Now()))
	seed(t, s,
		&Message{SenderID: "a", RecipientID: "b", Type: TypeText, Content: "1"},
		&Message{SenderID: "a", RecipientID: "c", Type: TypeText, Content: "other"},
		&Message{SenderID: "b", RecipientID: "a", Type: TypeText, Content: "2"},
		&Message{SenderID: "a", ChannelID: "ch", Type: TypeText, Content: "channel"},
	)

	msgs, err := s.ListConversation(context.Background(), "b", "a")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1", msgs[0].Content)
	assert.Equal(t, "2", msgs[1].Content)

	none, err := s.ListConversation(context.Background(), "x", "y")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	ch, err := s.ListChannel(context.Background(), "ch")
	require.NoError(t, err)
	require.Len(t, ch, 1)
	assert.Equal(t, "channel", ch[0].Content)
}

func TestMemoryAppendReadBy(t *testing.T) {
	s := NewMemoryStore()
	m := &Message{SenderID: "a", RecipientID: "b", Type: TypeText, Content: "hi"}
	seed(t, s, m)
	at := time.Now().UTC()

	added, err := s.AppendReadBy(context.Background(), m.ID, "b", at)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AppendReadBy(context.Background(), m.ID, "b", at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, added)

	got, _ := s.FindByID(context.Background(), m.ID)
	assert.Equal(t, []ReadEntry{{UserID: "b", ReadAt: at}}, got.ReadBy)

	_, err = s.AppendReadBy(context.Background(), "missing", "b", at)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMemoryLatestByContact(t *testing.T) {
	s := NewMemoryStore().WithClock(steppingClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)))
	seed(t, s,
		&Message{SenderID: "a", RecipientID: "b", Type: TypeText, Content: "b1"},
		&Message{SenderID: "c", RecipientID: "a", Type: TypeText, Content: "c1"},
		&Message{SenderID: "b", RecipientID: "a", Type: TypeText, Content: "b2"},
		&Message{SenderID: "a", RecipientID: "a", Type: TypeText, Content: "self"},
		&Message{SenderID: "a", ChannelID: "ch", Type: TypeText, Content: "channel"},
	)

	got, err := s.LatestByContact(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ContactID)
	assert.Equal(t, "b2", got[0].LastMessage.Content)
	assert.Equal(t, "c", got[1].ContactID)
}

func TestMemoryLatestInChannels(t *testing.T) {
	s := NewMemoryStore().WithClock(steppingClock(time.Now()))
	seed(t, s,
		&Message{SenderID: "a", ChannelID: "c1", Type: TypeText, Content: "first"},
		&Message{SenderID: "b", ChannelID: "c1", Type: TypeText, Content: "second"},
		&Message{SenderID: "b", ChannelID: "c3", Type: TypeText, Content: "ignored"},
	)

	got, err := s.LatestInChannels(context.Background(), []string{"c1", "c2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second", got["c1"].Content)
}
