// Package convindex keeps a client's conversation list ordered by recent
// activity. Apply is a pure reducer: it takes the current State and one
// event and returns the next State, leaving its input untouched.
package convindex

import (
	"sort"
	"strings"
	"time"

	"github.com/nexus-im/courier/internal/wire"
)

type Kind string

const (
	KindContact Kind = "contact"
	KindChannel Kind = "channel"
)

// Key identifies a conversation.
type Key struct {
	Kind   Kind
	PeerID string
}

// Peer is what the list shows for a conversation's counterpart.
type Peer struct {
	ID    string
	Name  string
	Email string
	Image string
	Color int
}

func PeerFromProfile(p wire.Profile) Peer {
	return Peer{
		ID:    p.ID,
		Name:  p.DisplayName(),
		Email: p.Email,
		Image: p.Image,
		Color: p.Color,
	}
}

type Conversation struct {
	Key         Key
	Peer        Peer
	LastMessage *wire.Message
	CreatedAt   time.Time
	// ReadMark is the time up to which the user has seen the conversation.
	ReadMark time.Time
}

// activity is the time the list is ordered by.
func (c Conversation) activity() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.Timestamp
	}
	return c.CreatedAt
}

// LocalIDPrefix marks ids the client assigns to messages it has sent but the
// server has not yet confirmed.
const LocalIDPrefix = "local-"

func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// State is the client's view. Conversations is always sorted; Thread holds
// the loaded messages of the Active conversation only.
type State struct {
	Self          string
	Conversations []Conversation
	Active        *Key
	Thread        []wire.Message
}

func New(self string) State {
	return State{Self: self}
}

// Conversation returns the entry for key.
func (s State) Conversation(key Key) (Conversation, bool) {
	if i := s.index(key); i >= 0 {
		return s.Conversations[i], true
	}
	return Conversation{}, false
}

// Unread reports whether the conversation's last message came from someone
// else after the read mark.
func (s State) Unread(key Key) bool {
	c, ok := s.Conversation(key)
	if !ok || c.LastMessage == nil {
		return false
	}
	return c.LastMessage.Sender.ID != s.Self && c.LastMessage.Timestamp.After(c.ReadMark)
}

// IsActive reports whether key is the open conversation.
func (s State) IsActive(key Key) bool {
	return s.Active != nil && *s.Active == key
}

func (s State) index(key Key) int {
	for i, c := range s.Conversations {
		if c.Key == key {
			return i
		}
	}
	return -1
}

// clone copies every slice Apply may write to.
func (s State) clone() State {
	next := s
	next.Conversations = append([]Conversation(nil), s.Conversations...)
	next.Thread = append([]wire.Message(nil), s.Thread...)
	if s.Active != nil {
		k := *s.Active
		next.Active = &k
	}
	return next
}

// sortConversations orders by activity, newest first. Ties go to the newer
// conversation, then to the lower peer id so the order is deterministic.
func sortConversations(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i], convs[j]
		if ta, tb := a.activity(), b.activity(); !ta.Equal(tb) {
			return ta.After(tb)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.Key.PeerID != b.Key.PeerID {
			return a.Key.PeerID < b.Key.PeerID
		}
		return a.Key.Kind < b.Key.Kind
	})
}

// classify finds the conversation a message belongs to. Direct messages
// that do not involve self are not ours to index.
func classify(self string, m wire.Message) (Key, Peer, bool) {
	if m.IsChannel() {
		return Key{Kind: KindChannel, PeerID: m.ChannelID}, Peer{ID: m.ChannelID}, true
	}
	if m.Recipient == nil {
		return Key{}, Peer{}, false
	}
	switch self {
	case m.Sender.ID:
		return Key{Kind: KindContact, PeerID: m.Recipient.ID}, PeerFromProfile(*m.Recipient), true
	case m.Recipient.ID:
		return Key{Kind: KindContact, PeerID: m.Sender.ID}, PeerFromProfile(m.Sender), true
	}
	return Key{}, Peer{}, false
}

func cloneMessage(m wire.Message) *wire.Message {
	c := m
	c.ReadBy = append([]wire.ReadEntry(nil), m.ReadBy...)
	return &c
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
