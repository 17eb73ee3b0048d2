package message

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store in process memory. It backs the development
// server mode and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*Message
	order    []string
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*Message),
		now:      time.Now,
	}
}

// WithClock replaces the clock used to stamp new messages.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func clone(m *Message) *Message {
	c := *m
	c.ReadBy = append([]ReadEntry{}, m.ReadBy...)
	return &c
}

func (s *MemoryStore) Create(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = uuid.NewString()
	msg.Timestamp = s.now().UTC()
	msg.ReadBy = []ReadEntry{}

	s.messages[msg.ID] = clone(msg)
	s.order = append(s.order, msg.ID)
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return clone(m), nil
}

func (s *MemoryStore) AppendReadBy(_ context.Context, id, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return false, ErrMessageNotFound
	}
	if m.HasReader(userID) {
		return false, nil
	}
	m.ReadBy = append(m.ReadBy, ReadEntry{UserID: userID, ReadAt: at})
	return true, nil
}

func (s *MemoryStore) ListConversation(_ context.Context, a, b string) ([]*Message, error) {
	return s.filter(func(m *Message) bool {
		if m.IsChannel() {
			return false
		}
		return (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a)
	}), nil
}

func (s *MemoryStore) ListChannel(_ context.Context, channelID string) ([]*Message, error) {
	return s.filter(func(m *Message) bool {
		return m.ChannelID == channelID
	}), nil
}

// filter returns matching messages in creation order.
func (s *MemoryStore) filter(match func(*Message) bool) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Message{}
	for _, id := range s.order {
		if m := s.messages[id]; match(m) {
			out = append(out, clone(m))
		}
	}
	return out
}

func (s *MemoryStore) LatestByContact(_ context.Context, userID string) ([]ContactSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]*Message)
	for _, id := range s.order {
		m := s.messages[id]
		if m.IsChannel() {
			continue
		}
		var contact string
		switch userID {
		case m.SenderID:
			contact = m.RecipientID
		case m.RecipientID:
			contact = m.SenderID
		default:
			continue
		}
		if contact == userID {
			continue
		}
		latest[contact] = m
	}

	summaries := make([]ContactSummary, 0, len(latest))
	for contact, m := range latest {
		summaries = append(summaries, ContactSummary{ContactID: contact, LastMessage: clone(m)})
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		ti, tj := summaries[i].LastMessage.Timestamp, summaries[j].LastMessage.Timestamp
		if ti.Equal(tj) {
			return summaries[i].ContactID < summaries[j].ContactID
		}
		return ti.After(tj)
	})
	return summaries, nil
}

func (s *MemoryStore) LatestInChannels(_ context.Context, channelIDs []string) (map[string]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(channelIDs))
	for _, id := range channelIDs {
		wanted[id] = true
	}

	latest := make(map[string]*Message)
	for _, id := range s.order {
		if m := s.messages[id]; wanted[m.ChannelID] {
			latest[m.ChannelID] = clone(m)
		}
	}
	return latest, nil
}
