// Package router turns a validated send intent into a persisted message and
// pushes it to every online participant.
package router

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-im/courier/internal/membership"
	"github.com/nexus-im/courier/internal/metrics"
	"github.com/nexus-im/courier/internal/registry"
	"github.com/nexus-im/courier/internal/wire"
	"github.com/nexus-im/courier/store/channel"
	"github.com/nexus-im/courier/store/message"
	"github.com/nexus-im/courier/store/user"
)

type MessageStore interface {
	Create(ctx context.Context, msg *message.Message) error
	FindByID(ctx context.Context, id string) (*message.Message, error)
}

type ChannelLog interface {
	AppendMessage(ctx context.Context, channelID, messageID string) error
}

type ProfileStore interface {
	GetMany(ctx context.Context, ids []string) (map[string]*user.User, error)
}

type Membership interface {
	Resolve(ctx context.Context, channelID string) (*membership.Targets, error)
}

type Directory interface {
	Lookup(userID string) (registry.Conn, bool)
}

// Result describes one routed message.
type Result struct {
	Kind      Kind
	Event     string
	Message   *wire.Message
	Targets   []string
	Delivered int
}

type Option func(*Router)

// WithChannelEcho makes channel messages fan out to their sender as well.
func WithChannelEcho(on bool) Option {
	return func(r *Router) { r.echo = on }
}

func WithLogger(log zerolog.Logger) Option {
	return func(r *Router) { r.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

type Router struct {
	messages MessageStore
	channels ChannelLog
	profiles ProfileStore
	members  Membership
	conns    Directory

	echo    bool
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func New(messages MessageStore, channels ChannelLog, profiles ProfileStore, members Membership, conns Directory, opts ...Option) *Router {
	r := &Router{
		messages: messages,
		channels: channels,
		profiles: profiles,
		members:  members,
		conns:    conns,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route persists the message described by in and pushes it to the online
// participants. Nothing is pushed unless the message was stored.
//
// Direct messages go to both sender and recipient. Channel messages go to the
// members and the admin, excluding the sender unless echo is enabled. The
// sender of a channel message must be a member or the admin.
func (r *Router) Route(ctx context.Context, in Intent) (*Result, error) {
	start := time.Now()

	kind, err := in.Validate()
	if err != nil {
		return nil, r.drop(in, kind, ReasonValidation, err)
	}

	var audience *membership.Targets
	if kind == KindChannel {
		audience, err = r.members.Resolve(ctx, in.ChannelID)
		if errors.Is(err, channel.ErrChannelNotFound) {
			return nil, r.drop(in, kind, ReasonUnknownChannel, err)
		}
		if err != nil {
			return nil, r.drop(in, kind, ReasonPersistence, err)
		}
		if !audience.Includes(in.Sender) {
			return nil, r.drop(in, kind, ReasonNotMember, ErrNotMember)
		}
	}

	draft := in.draft()
	if err := r.messages.Create(ctx, draft); err != nil {
		return nil, r.drop(in, kind, ReasonPersistence, err)
	}
	// History reads the message row, so a failed log append is logged and
	// fan-out continues.
	if kind == KindChannel {
		if err := r.channels.AppendMessage(ctx, in.ChannelID, draft.ID); err != nil {
			r.log.Error().Err(err).
				Str("channel_id", in.ChannelID).
				Str("message_id", draft.ID).
				Msg("channel log append failed")
		}
	}

	stored, err := r.messages.FindByID(ctx, draft.ID)
	if err != nil {
		return nil, r.drop(in, kind, ReasonPersistence, err)
	}
	users, err := r.profiles.GetMany(ctx, Participants(stored))
	if err != nil {
		return nil, r.drop(in, kind, ReasonPersistence, err)
	}
	out := Populate(stored, users)

	res := &Result{Kind: kind, Message: out}
	switch kind {
	case KindDirect:
		res.Event = wire.EventReceiveMessage
		res.Targets = Participants(stored)
	case KindChannel:
		res.Event = wire.EventReceiveChannelMessage
		if r.echo {
			res.Targets = audience.Recipients()
		} else {
			res.Targets = audience.Recipients(stored.SenderID)
		}
	}

	for _, id := range res.Targets {
		if r.push(id, res.Event, out) {
			res.Delivered++
		}
	}

	r.metrics.MessageRouted(string(kind), time.Since(start).Seconds())
	r.log.Debug().
		Str("kind", string(kind)).
		Str("message_id", out.ID).
		Str("sender", stored.SenderID).
		Int("targets", len(res.Targets)).
		Int("delivered", res.Delivered).
		Msg("message routed")
	return res, nil
}

// push delivers to userID's live connection. Offline users are skipped.
func (r *Router) push(userID, event string, payload any) bool {
	conn, ok := r.conns.Lookup(userID)
	if !ok {
		r.metrics.Push(event, metrics.Offline)
		return false
	}
	if err := conn.Push(event, payload); err != nil {
		r.metrics.Push(event, metrics.Failed)
		r.log.Warn().Err(err).Str("user_id", userID).Str("event", event).Msg("push failed")
		return false
	}
	r.metrics.Push(event, metrics.Delivered)
	return true
}

func (r *Router) drop(in Intent, kind Kind, reason string, err error) error {
	label := string(kind)
	if label == "" {
		label = "unknown"
	}
	r.metrics.IntentDropped(label, reason)

	ev := r.log.Warn()
	if reason == ReasonPersistence {
		ev = r.log.Error()
	}
	ev.Err(err).
		Str("kind", label).
		Str("reason", reason).
		Str("sender", in.Sender).
		Str("recipient", in.Recipient).
		Str("channel_id", in.ChannelID).
		Msg("message dropped")

	return &DropError{Kind: kind, Reason: reason, Err: err}
}
