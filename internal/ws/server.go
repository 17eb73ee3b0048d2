// Package ws serves the live connection endpoint: it identifies the user,
// registers the connection for pushes and turns inbound frames into send and
// read intents.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nexus-im/courier/internal/auth"
	"github.com/nexus-im/courier/internal/metrics"
	"github.com/nexus-im/courier/internal/registry"
	"github.com/nexus-im/courier/internal/router"
	"github.com/nexus-im/courier/internal/wire"
	"github.com/nexus-im/courier/store/message"
)

type Registry interface {
	Register(userID string, conn registry.Conn) (registry.Conn, bool)
	Unregister(conn registry.Conn) (string, bool)
}

type Router interface {
	Route(ctx context.Context, in router.Intent) (*router.Result, error)
}

type Receipts interface {
	MarkRead(ctx context.Context, messageID, readerID string) bool
}

type Option func(*Server)

// WithAllowedOrigins restricts browser origins. An empty list or "*" allows
// any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithSendLimit sets the per-connection rate of send intents.
func WithSendLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.sendRate = rate.Limit(perSecond)
		s.sendBurst = burst
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

type Server struct {
	base     context.Context
	identity auth.Resolver
	conns    Registry
	router   Router
	receipts Receipts

	upgrader  websocket.Upgrader
	origins   []string
	sendRate  rate.Limit
	sendBurst int
	log       zerolog.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	closed  bool
	clients map[*Client]struct{}
	wg      sync.WaitGroup
}

// NewServer builds the endpoint. Intents are processed under base, so a
// client disconnecting mid-send does not abort the write.
func NewServer(base context.Context, identity auth.Resolver, conns Registry, r Router, receipts Receipts, opts ...Option) *Server {
	s := &Server{
		base:      base,
		identity:  identity,
		conns:     conns,
		router:    r,
		receipts:  receipts,
		sendRate:  10,
		sendBurst: 20,
		log:       zerolog.Nop(),
		clients:   make(map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.origins) == 0 {
		return true
	}
	for _, o := range s.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := s.identity.Resolve(r)
	if err != nil {
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("connection rejected")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if s.isClosed() {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("upgrade failed")
		return
	}

	c := newClient(conn, userID, rate.NewLimiter(s.sendRate, s.sendBurst), s.log)

	// Registration and wg.Add happen under mu so Close either sees this
	// client or this handler sees closed.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	prev, replaced := s.conns.Register(userID, c)
	s.wg.Add(2)
	s.mu.Unlock()

	s.metrics.ConnectionOpened(replaced)
	if replaced {
		c.log.Info().Str("superseded_conn_id", prev.ID()).Msg("connection superseded an older one")
	} else {
		c.log.Info().Msg("connected")
	}

	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump(s.handle)
		s.disconnect(c)
	}()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) disconnect(c *Client) {
	c.close()

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()

	_, removed := s.conns.Unregister(c)
	s.metrics.ConnectionClosed(removed)
	c.log.Info().Bool("was_routable", removed).Msg("disconnected")
}

// Close refuses new connections, ends every live one and waits for their
// pumps to exit.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for c := range s.clients {
		c.close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) handle(c *Client, frame []byte) {
	env, err := wire.Decode(frame)
	if err != nil {
		c.pushError("malformed frame")
		return
	}

	switch env.Event {
	case wire.EventSendMessage:
		if !c.limiter.Allow() {
			c.pushError("rate limit exceeded")
			return
		}
		s.handleSendMessage(c, env.Data)
	case wire.EventSendChannelMessage:
		if !c.limiter.Allow() {
			c.pushError("rate limit exceeded")
			return
		}
		s.handleSendChannelMessage(c, env.Data)
	case wire.EventMarkMessageAsRead, wire.EventMarkChannelMessageAsRead:
		s.handleMarkRead(c, env.Data)
	default:
		c.log.Debug().Str("event", env.Event).Msg("unknown event")
	}
}

func (s *Server) handleSendMessage(c *Client, data json.RawMessage) {
	var p wire.SendMessage
	if err := json.Unmarshal(data, &p); err != nil {
		c.pushError("invalid sendMessage payload")
		return
	}
	if p.Sender != "" && p.Sender != c.UserID() {
		c.pushError("sender does not match connection")
		return
	}

	_, err := s.router.Route(s.base, router.Intent{
		Sender:    c.UserID(),
		Recipient: p.Recipient,
		Type:      message.Type(p.MessageType),
		Content:   p.Content,
		FileURL:   p.FileURL,
	})
	switch {
	case err == nil:
	case router.IsRejected(err):
		c.pushError(errorMessage(err))
	default:
		c.pushError("message could not be stored")
	}
}

// Channel sends are dropped without an error frame; the router logs why.
func (s *Server) handleSendChannelMessage(c *Client, data json.RawMessage) {
	var p wire.SendChannelMessage
	if err := json.Unmarshal(data, &p); err != nil {
		c.log.Debug().Err(err).Msg("invalid sendChannelMessage payload")
		return
	}
	if p.Sender != "" && p.Sender != c.UserID() {
		c.log.Warn().Str("claimed_sender", p.Sender).Msg("channel send with foreign sender")
		return
	}

	_, _ = s.router.Route(s.base, router.Intent{
		Sender:    c.UserID(),
		ChannelID: p.ChannelID,
		Type:      message.Type(p.MessageType),
		Content:   p.Content,
		FileURL:   p.FileURL,
	})
}

func (s *Server) handleMarkRead(c *Client, data json.RawMessage) {
	var p wire.MarkRead
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" {
		c.log.Debug().Msg("invalid mark read payload")
		return
	}
	if p.UserID != "" && p.UserID != c.UserID() {
		c.log.Warn().Str("claimed_reader", p.UserID).Msg("mark read for another user")
		return
	}
	s.receipts.MarkRead(s.base, p.MessageID, c.UserID())
}

func errorMessage(err error) string {
	var drop *router.DropError
	if errors.As(err, &drop) {
		return drop.Err.Error()
	}
	return err.Error()
}
