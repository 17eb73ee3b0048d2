package channel

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	messages map[string][]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		channels: make(map[string]*Channel),
		messages: make(map[string][]string),
	}
}

func cloneChannel(ch *Channel) *Channel {
	c := *ch
	c.Members = append([]string{}, ch.Members...)
	return &c
}

func (s *MemoryStore) Create(_ context.Context, ch *Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch.ID = uuid.NewString()
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	ch.UpdatedAt = ch.CreatedAt

	seen := make(map[string]bool, len(ch.Members))
	members := make([]string, 0, len(ch.Members))
	for _, m := range ch.Members {
		if !seen[m] {
			seen[m] = true
			members = append(members, m)
		}
	}
	ch.Members = members

	s.channels[ch.ID] = cloneChannel(ch)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[id]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return cloneChannel(ch), nil
}

func (s *MemoryStore) ListForUser(_ context.Context, userID string) ([]*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Channel{}
	for _, ch := range s.channels {
		if ch.HasParticipant(userID) {
			out = append(out, cloneChannel(ch))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AddMember(_ context.Context, channelID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return ErrChannelNotFound
	}
	for _, m := range ch.Members {
		if m == userID {
			return nil
		}
	}
	ch.Members = append(ch.Members, userID)
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, channelID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return ErrChannelNotFound
	}
	s.messages[channelID] = append(s.messages[channelID], messageID)
	ch.UpdatedAt = time.Now().UTC()
	return nil
}

// MessageIDs returns the channel's message list in append order.
func (s *MemoryStore) MessageIDs(channelID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.messages[channelID]...)
}
