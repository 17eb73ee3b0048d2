package convindex

import (
	"sort"
	"time"

	"github.com/nexus-im/courier/internal/wire"
)

// Event is anything Apply understands.
type Event interface {
	event()
}

type Origin int

const (
	// OriginSent is the client's own optimistic copy of a message it sent.
	OriginSent Origin = iota
	// OriginPushed is a message delivered by the server.
	OriginPushed
)

type MessageEvent struct {
	Message wire.Message
	Origin  Origin
}

// HistoryLoaded carries a conversation's history fetched from the server.
type HistoryLoaded struct {
	Key      Key
	Messages []wire.Message
}

// ConversationsLoaded carries contact and channel summaries fetched from
// the server.
type ConversationsLoaded struct {
	Conversations []Conversation
}

// Selected opens a conversation, creating it when it is new.
type Selected struct {
	Key  Key
	Peer Peer
	At   time.Time
}

type Closed struct{}

type ChannelCreated struct {
	Channel   Peer
	CreatedAt time.Time
}

type ReadReceipt struct {
	MessageID string
	Reader    string
	ReadAt    time.Time
}

func (MessageEvent) event()        {}
func (HistoryLoaded) event()       {}
func (ConversationsLoaded) event() {}
func (Selected) event()            {}
func (Closed) event()              {}
func (ChannelCreated) event()      {}
func (ReadReceipt) event()         {}

// Apply returns the state that follows s after ev. Applying the same event
// twice yields the same state as applying it once.
func Apply(s State, ev Event) State {
	switch ev := ev.(type) {
	case MessageEvent:
		return applyMessage(s, ev)
	case HistoryLoaded:
		return applyHistory(s, ev)
	case ConversationsLoaded:
		return applyConversations(s, ev)
	case Selected:
		return applySelected(s, ev)
	case Closed:
		next := s.clone()
		next.Active = nil
		next.Thread = nil
		return next
	case ChannelCreated:
		return applyChannelCreated(s, ev)
	case ReadReceipt:
		return applyReadReceipt(s, ev)
	}
	return s
}

func applyMessage(s State, ev MessageEvent) State {
	m := ev.Message
	key, peer, ok := classify(s.Self, m)
	if !ok {
		return s
	}

	next := s.clone()
	confirmed := -1
	if ev.Origin == OriginPushed && m.Sender.ID == s.Self {
		confirmed = pendingMatch(next.Thread, m)
	}

	if next.IsActive(key) {
		switch {
		case containsID(next.Thread, m.ID):
		case confirmed >= 0:
			next.Thread[confirmed] = *cloneMessage(m)
		default:
			next.Thread = append(next.Thread, *cloneMessage(m))
		}
	}

	i := next.index(key)
	if i < 0 {
		if key.Kind == KindContact && key.PeerID == s.Self {
			return next
		}
		next.Conversations = append(next.Conversations, Conversation{
			Key:       key,
			Peer:      peer,
			CreatedAt: m.Timestamp,
		})
		i = len(next.Conversations) - 1
	}

	c := &next.Conversations[i]
	switch {
	case c.LastMessage == nil, !m.Timestamp.Before(c.LastMessage.Timestamp):
		c.LastMessage = cloneMessage(m)
	case confirmed >= 0 && IsLocalID(c.LastMessage.ID) && sameBody(*c.LastMessage, m):
		c.LastMessage = cloneMessage(m)
	}
	if next.IsActive(key) {
		c.ReadMark = laterOf(c.ReadMark, m.Timestamp)
	}

	sortConversations(next.Conversations)
	return next
}

// pendingMatch finds the oldest unconfirmed local copy of m in thread.
func pendingMatch(thread []wire.Message, m wire.Message) int {
	for i, t := range thread {
		if IsLocalID(t.ID) && t.Sender.ID == m.Sender.ID && t.ChannelID == m.ChannelID &&
			t.RecipientID() == m.RecipientID() && sameBody(t, m) {
			return i
		}
	}
	return -1
}

func sameBody(a, b wire.Message) bool {
	return a.MessageType == b.MessageType && a.Content == b.Content && a.FileURL == b.FileURL
}

func containsID(thread []wire.Message, id string) bool {
	for _, t := range thread {
		if t.ID == id {
			return true
		}
	}
	return false
}

// applyHistory merges fetched history into the open thread, keeping
// messages that arrived by push while the fetch was in flight. A pending
// local copy is replaced by the fetched message that confirms it.
func applyHistory(s State, ev HistoryLoaded) State {
	next := s.clone()

	if next.IsActive(ev.Key) {
		known := make(map[string]bool, len(next.Thread))
		for _, m := range next.Thread {
			known[m.ID] = true
		}
		rest := append([]wire.Message(nil), next.Thread...)

		fetched := make(map[string]bool, len(ev.Messages))
		merged := make([]wire.Message, 0, len(ev.Messages)+len(next.Thread))
		for _, m := range ev.Messages {
			if fetched[m.ID] {
				continue
			}
			fetched[m.ID] = true
			merged = append(merged, *cloneMessage(m))
			if m.Sender.ID == s.Self && !known[m.ID] {
				if i := pendingMatch(rest, m); i >= 0 {
					rest = append(rest[:i], rest[i+1:]...)
				}
			}
		}
		for _, m := range rest {
			if !fetched[m.ID] {
				merged = append(merged, m)
			}
		}
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Timestamp.Before(merged[j].Timestamp)
		})
		next.Thread = merged
	}

	if len(ev.Messages) == 0 {
		return next
	}
	i := next.index(ev.Key)
	if i < 0 {
		return next
	}
	c := &next.Conversations[i]

	newest := ev.Messages[0]
	for _, m := range ev.Messages {
		if !m.Timestamp.Before(newest.Timestamp) {
			newest = m
		}
		if confirmsLast(c, m) {
			c.LastMessage = cloneMessage(m)
		}
	}
	if c.LastMessage == nil || newest.Timestamp.After(c.LastMessage.Timestamp) {
		c.LastMessage = cloneMessage(newest)
	}
	sortConversations(next.Conversations)
	return next
}

// confirmsLast reports whether m is the server copy of the conversation's
// pending local last message.
func confirmsLast(c *Conversation, m wire.Message) bool {
	return c.LastMessage != nil && !IsLocalID(m.ID) &&
		pendingMatch([]wire.Message{*c.LastMessage}, m) == 0
}

// applyConversations merges server summaries: one entry per key, the newer
// last message wins and the earlier creation time is kept.
func applyConversations(s State, ev ConversationsLoaded) State {
	next := s.clone()

	for _, in := range ev.Conversations {
		if in.Key.Kind == KindContact && in.Key.PeerID == s.Self {
			continue
		}
		i := next.index(in.Key)
		if i < 0 {
			c := in
			if in.LastMessage != nil {
				c.LastMessage = cloneMessage(*in.LastMessage)
			}
			next.Conversations = append(next.Conversations, c)
			continue
		}

		c := &next.Conversations[i]
		if in.LastMessage != nil && (c.LastMessage == nil || confirmsLast(c, *in.LastMessage) ||
			in.LastMessage.Timestamp.After(c.LastMessage.Timestamp)) {
			c.LastMessage = cloneMessage(*in.LastMessage)
		}
		if !in.CreatedAt.IsZero() && (c.CreatedAt.IsZero() || in.CreatedAt.Before(c.CreatedAt)) {
			c.CreatedAt = in.CreatedAt
		}
		if in.Peer.Name != "" {
			c.Peer = in.Peer
		}
		c.ReadMark = laterOf(c.ReadMark, in.ReadMark)
	}

	sortConversations(next.Conversations)
	return next
}

func applySelected(s State, ev Selected) State {
	next := s.clone()
	key := ev.Key
	next.Active = &key
	next.Thread = nil

	i := next.index(key)
	if i < 0 {
		if key.Kind == KindContact && key.PeerID == s.Self {
			return next
		}
		next.Conversations = append(next.Conversations, Conversation{
			Key:       key,
			Peer:      ev.Peer,
			CreatedAt: ev.At,
			ReadMark:  ev.At,
		})
		sortConversations(next.Conversations)
		return next
	}

	c := &next.Conversations[i]
	c.ReadMark = laterOf(c.ReadMark, ev.At)
	if c.Peer.Name == "" && ev.Peer.Name != "" {
		c.Peer = ev.Peer
	}
	return next
}

func applyChannelCreated(s State, ev ChannelCreated) State {
	key := Key{Kind: KindChannel, PeerID: ev.Channel.ID}
	next := s.clone()

	if i := next.index(key); i >= 0 {
		if next.Conversations[i].Peer.Name == "" {
			next.Conversations[i].Peer = ev.Channel
		}
		return next
	}
	next.Conversations = append(next.Conversations, Conversation{
		Key:       key,
		Peer:      ev.Channel,
		CreatedAt: ev.CreatedAt,
		ReadMark:  ev.CreatedAt,
	})
	sortConversations(next.Conversations)
	return next
}

func applyReadReceipt(s State, ev ReadReceipt) State {
	next := s.clone()
	entry := wire.ReadEntry{User: ev.Reader, ReadAt: ev.ReadAt}

	for i := range next.Thread {
		if next.Thread[i].ID == ev.MessageID && !next.Thread[i].HasReader(ev.Reader) {
			m := cloneMessage(next.Thread[i])
			m.ReadBy = append(m.ReadBy, entry)
			next.Thread[i] = *m
		}
	}
	for i := range next.Conversations {
		last := next.Conversations[i].LastMessage
		if last != nil && last.ID == ev.MessageID && !last.HasReader(ev.Reader) {
			m := cloneMessage(*last)
			m.ReadBy = append(m.ReadBy, entry)
			next.Conversations[i].LastMessage = m
		}
	}
	return next
}
