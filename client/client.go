// Package client is a Go client session: it holds one live connection,
// sends intents, fetches history and folds everything it hears into a
// convindex.State.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nexus-im/courier/client/convindex"
	"github.com/nexus-im/courier/internal/wire"
)

type Option func(*Client)

// WithToken authenticates with a bearer token instead of the plain user id.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithOnError is called with the message of every error frame.
func WithOnError(fn func(string)) Option {
	return func(c *Client) { c.onError = fn }
}

type Client struct {
	self    string
	base    *url.URL
	token   string
	http    *http.Client
	log     zerolog.Logger
	now     func() time.Time
	onError func(string)

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu    sync.Mutex
	state convindex.State
}

// Dial connects userID to the server at serverURL (http or https).
func Dial(ctx context.Context, serverURL, userID string, opts ...Option) (*Client, error) {
	base, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}

	c := &Client{
		self:  userID,
		base:  base,
		http:  http.DefaultClient,
		log:   zerolog.Nop(),
		now:   time.Now,
		state: convindex.New(userID),
	}
	for _, opt := range opts {
		opt(c)
	}

	wsURL := *base
	wsURL.Scheme = strings.Replace(base.Scheme, "http", "ws", 1)
	wsURL.Path = strings.TrimSuffix(base.Path, "/") + "/ws"
	q := wsURL.Query()
	if c.token != "" {
		q.Set("token", c.token)
	} else {
		q.Set("userId", userID)
	}
	wsURL.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", wsURL.Redacted(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL.Redacted(), err)
	}
	c.conn = conn
	return c, nil
}

func (c *Client) Self() string {
	return c.self
}

// State returns a snapshot of the conversation index.
func (c *Client) State() convindex.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) apply(ev convindex.Event) {
	c.mu.Lock()
	c.state = convindex.Apply(c.state, ev)
	c.mu.Unlock()
}

func (c *Client) emit(event string, payload any) error {
	frame, err := wire.Encode(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// SendDirect sends a message to recipient. body is the text for text
// messages and the file reference for file messages. The message shows up in
// the index once the server pushes it back.
func (c *Client) SendDirect(recipient string, typ wire.MessageType, body string) error {
	p := wire.SendMessage{Sender: c.self, Recipient: recipient, MessageType: typ}
	if typ == wire.TypeFile {
		p.FileURL = body
	} else {
		p.Content = body
	}
	return c.emit(wire.EventSendMessage, p)
}

// SendChannel posts to a channel. The server does not echo channel messages
// to their sender, so a local copy is applied right away.
func (c *Client) SendChannel(channelID string, typ wire.MessageType, body string) error {
	p := wire.SendChannelMessage{Sender: c.self, ChannelID: channelID, MessageType: typ}
	local := wire.Message{
		ID:          convindex.LocalIDPrefix + uuid.NewString(),
		Sender:      wire.Profile{ID: c.self},
		ChannelID:   channelID,
		MessageType: typ,
		Timestamp:   c.now().UTC(),
		ReadBy:      []wire.ReadEntry{},
	}
	if typ == wire.TypeFile {
		p.FileURL, local.FileURL = body, body
	} else {
		p.Content, local.Content = body, body
	}

	if err := c.emit(wire.EventSendChannelMessage, p); err != nil {
		return err
	}
	c.apply(convindex.MessageEvent{Message: local, Origin: convindex.OriginSent})
	return nil
}

// MarkRead acknowledges m on behalf of this user.
func (c *Client) MarkRead(m wire.Message) error {
	event := wire.EventMarkMessageAsRead
	if m.IsChannel() {
		event = wire.EventMarkChannelMessageAsRead
	}
	return c.emit(event, wire.MarkRead{MessageID: m.ID, UserID: c.self})
}

// Run reads pushes until ctx ends or the connection fails.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.handle(frame)
	}
}

func (c *Client) handle(frame []byte) {
	env, err := wire.Decode(frame)
	if err != nil {
		c.log.Warn().Err(err).Msg("malformed frame")
		return
	}

	switch env.Event {
	case wire.EventReceiveMessage, wire.EventReceiveChannelMessage:
		var m wire.Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			c.log.Warn().Err(err).Str("event", env.Event).Msg("bad message payload")
			return
		}
		c.apply(convindex.MessageEvent{Message: m, Origin: convindex.OriginPushed})
	case wire.EventMessageRead, wire.EventChannelMessageRead:
		var r wire.ReadReceipt
		if err := json.Unmarshal(env.Data, &r); err != nil {
			c.log.Warn().Err(err).Str("event", env.Event).Msg("bad receipt payload")
			return
		}
		c.apply(convindex.ReadReceipt{MessageID: r.MessageID, Reader: r.ReadBy, ReadAt: r.ReadAt})
	case wire.EventError:
		var e wire.Error
		_ = json.Unmarshal(env.Data, &e)
		c.log.Warn().Str("error", e.Message).Msg("server rejected intent")
		if c.onError != nil {
			c.onError(e.Message)
		}
	default:
		c.log.Debug().Str("event", env.Event).Msg("unhandled event")
	}
}

// Open selects a conversation and loads its history.
func (c *Client) Open(ctx context.Context, key convindex.Key, peer convindex.Peer) error {
	c.apply(convindex.Selected{Key: key, Peer: peer, At: c.now().UTC()})

	path := "/api/messages/" + key.PeerID
	if key.Kind == convindex.KindChannel {
		path = "/api/channels/" + key.PeerID + "/messages"
	}
	var body struct {
		Messages []wire.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return err
	}
	c.apply(convindex.HistoryLoaded{Key: key, Messages: body.Messages})
	return nil
}

// CloseConversation clears the selection.
func (c *Client) CloseConversation() {
	c.apply(convindex.Closed{})
}

type contactSummary struct {
	wire.Profile
	LastMessage *wire.Message `json:"lastMessage"`
}

type channelSummary struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	CreatedAt   time.Time     `json:"createdAt"`
	LastMessage *wire.Message `json:"lastMessage"`
}

// LoadConversations fetches the contact and channel lists concurrently and
// merges them into the index.
func (c *Client) LoadConversations(ctx context.Context) error {
	var (
		contacts struct {
			Contacts []contactSummary `json:"contacts"`
		}
		channels struct {
			Channels []channelSummary `json:"channels"`
		}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.do(gctx, http.MethodGet, "/api/contacts", nil, &contacts)
	})
	g.Go(func() error {
		return c.do(gctx, http.MethodGet, "/api/channels", nil, &channels)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	convs := make([]convindex.Conversation, 0, len(contacts.Contacts)+len(channels.Channels))
	for _, s := range contacts.Contacts {
		conv := convindex.Conversation{
			Key:         convindex.Key{Kind: convindex.KindContact, PeerID: s.ID},
			Peer:        convindex.PeerFromProfile(s.Profile),
			LastMessage: s.LastMessage,
		}
		if s.LastMessage != nil {
			conv.CreatedAt = s.LastMessage.Timestamp
		}
		convs = append(convs, conv)
	}
	for _, s := range channels.Channels {
		convs = append(convs, convindex.Conversation{
			Key:         convindex.Key{Kind: convindex.KindChannel, PeerID: s.ID},
			Peer:        convindex.Peer{ID: s.ID, Name: s.Name},
			LastMessage: s.LastMessage,
			CreatedAt:   s.CreatedAt,
		})
	}
	c.apply(convindex.ConversationsLoaded{Conversations: convs})
	return nil
}

// CreateChannel creates a channel administered by this user and adds it to
// the index.
func (c *Client) CreateChannel(ctx context.Context, name string, members []string) (string, error) {
	var body struct {
		Channel channelSummary `json:"channel"`
	}
	req := map[string]any{"name": name, "members": members}
	if err := c.do(ctx, http.MethodPost, "/api/channels", req, &body); err != nil {
		return "", err
	}
	c.apply(convindex.ChannelCreated{
		Channel:   convindex.Peer{ID: body.Channel.ID, Name: body.Channel.Name},
		CreatedAt: body.Channel.CreatedAt,
	})
	return body.Channel.ID, nil
}

// APIError is a non-2xx answer from the HTTP API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	u := *c.base
	u.Path = strings.TrimSuffix(c.base.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else {
		req.Header.Set("X-User-ID", c.self)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Close ends the live connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
