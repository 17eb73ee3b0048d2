// Package receipts records that a user has read a message and tells the
// sender about it.
package receipts

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-im/courier/internal/metrics"
	"github.com/nexus-im/courier/internal/registry"
	"github.com/nexus-im/courier/internal/wire"
	"github.com/nexus-im/courier/store/message"
)

// Outcomes reported to metrics.
const (
	Recorded  = "recorded"
	Duplicate = "duplicate"
	NotFound  = "not_found"
	Failed    = "failed"
)

type MessageStore interface {
	FindByID(ctx context.Context, id string) (*message.Message, error)
	AppendReadBy(ctx context.Context, id, userID string, at time.Time) (bool, error)
}

type Directory interface {
	Lookup(userID string) (registry.Conn, bool)
}

type Tracker struct {
	messages MessageStore
	conns    Directory
	now      func() time.Time
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func New(messages MessageStore, conns Directory, opts ...Option) *Tracker {
	t := &Tracker{
		messages: messages,
		conns:    conns,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MarkRead adds readerID to the readers of messageID and notifies the sender
// if they are online. It reports whether a new entry was recorded; unknown
// messages and repeated marks are no-ops.
func (t *Tracker) MarkRead(ctx context.Context, messageID, readerID string) bool {
	log := t.log.With().Str("message_id", messageID).Str("reader", readerID).Logger()

	msg, err := t.messages.FindByID(ctx, messageID)
	if errors.Is(err, message.ErrMessageNotFound) {
		t.metrics.ReadReceipt(NotFound)
		log.Debug().Msg("mark read on unknown message")
		return false
	}
	if err != nil {
		t.metrics.ReadReceipt(Failed)
		log.Error().Err(err).Msg("load message")
		return false
	}
	if msg.HasReader(readerID) {
		t.metrics.ReadReceipt(Duplicate)
		return false
	}

	at := t.now().UTC()
	added, err := t.messages.AppendReadBy(ctx, messageID, readerID, at)
	if err != nil {
		t.metrics.ReadReceipt(Failed)
		log.Error().Err(err).Msg("append reader")
		return false
	}
	if !added {
		t.metrics.ReadReceipt(Duplicate)
		return false
	}
	t.metrics.ReadReceipt(Recorded)

	event := wire.EventMessageRead
	if msg.IsChannel() {
		event = wire.EventChannelMessageRead
	}
	t.notify(msg.SenderID, event, wire.ReadReceipt{
		MessageID: messageID,
		ReadBy:    readerID,
		ReadAt:    at,
	})
	return true
}

func (t *Tracker) notify(userID, event string, receipt wire.ReadReceipt) {
	conn, ok := t.conns.Lookup(userID)
	if !ok {
		t.metrics.Push(event, metrics.Offline)
		return
	}
	if err := conn.Push(event, receipt); err != nil {
		t.metrics.Push(event, metrics.Failed)
		t.log.Warn().Err(err).Str("user_id", userID).Str("event", event).Msg("push failed")
		return
	}
	t.metrics.Push(event, metrics.Delivered)
}
