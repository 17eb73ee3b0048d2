// Package api serves conversation history, contact and channel lists and the
// HTTP variants of the read-receipt events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-im/courier/internal/auth"
	"github.com/nexus-im/courier/internal/router"
	"github.com/nexus-im/courier/internal/wire"
	"github.com/nexus-im/courier/store/channel"
	"github.com/nexus-im/courier/store/message"
	"github.com/nexus-im/courier/store/user"
)

type Receipts interface {
	MarkRead(ctx context.Context, messageID, readerID string) bool
}

type Handler struct {
	messages message.Store
	channels channel.Store
	users    user.Store
	receipts Receipts
	identity auth.Resolver
	log      zerolog.Logger
}

func NewHandler(messages message.Store, channels channel.Store, users user.Store, receipts Receipts, identity auth.Resolver, log zerolog.Logger) *Handler {
	return &Handler{
		messages: messages,
		channels: channels,
		users:    users,
		receipts: receipts,
		identity: identity,
		log:      log,
	}
}

// Routes returns the /api handler tree wrapped in request logging.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/messages/{peerID}", h.authenticated(h.handleDirectHistory))
	mux.HandleFunc("GET /api/channels/{channelID}/messages", h.authenticated(h.handleChannelHistory))
	mux.HandleFunc("GET /api/contacts", h.authenticated(h.handleContacts))
	mux.HandleFunc("GET /api/channels", h.authenticated(h.handleListChannels))
	mux.HandleFunc("POST /api/channels", h.authenticated(h.handleCreateChannel))
	mux.HandleFunc("POST /api/channels/{channelID}/members", h.authenticated(h.handleAddMember))
	mux.HandleFunc("POST /api/messages/{messageID}/read", h.authenticated(h.handleMarkRead))
	mux.HandleFunc("POST /api/channel-messages/{messageID}/read", h.authenticated(h.handleMarkRead))
	return logRequests(h.log, mux)
}

func (h *Handler) populate(ctx context.Context, msgs []*message.Message) ([]*wire.Message, error) {
	users, err := h.users.GetMany(ctx, router.Participants(msgs...))
	if err != nil {
		return nil, err
	}
	out := make([]*wire.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, router.Populate(m, users))
	}
	return out, nil
}

func (h *Handler) handleDirectHistory(w http.ResponseWriter, r *http.Request, userID string) {
	peerID := r.PathValue("peerID")

	msgs, err := h.messages.ListConversation(r.Context(), userID, peerID)
	if err != nil {
		h.log.Error().Err(err).Str("peer_id", peerID).Msg("list conversation")
		writeError(w, h.log, errInternal)
		return
	}
	out, err := h.populate(r.Context(), msgs)
	if err != nil {
		h.log.Error().Err(err).Msg("populate history")
		writeError(w, h.log, errInternal)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{"messages": out})
}

func (h *Handler) handleChannelHistory(w http.ResponseWriter, r *http.Request, userID string) {
	channelID := r.PathValue("channelID")

	ch, err := h.channels.Get(r.Context(), channelID)
	if errors.Is(err, channel.ErrChannelNotFound) {
		writeError(w, h.log, notFound("Channel not found"))
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("channel_id", channelID).Msg("get channel")
		writeError(w, h.log, errInternal)
		return
	}
	if !ch.HasParticipant(userID) {
		writeError(w, h.log, errForbidden)
		return
	}

	msgs, err := h.messages.ListChannel(r.Context(), channelID)
	if err != nil {
		h.log.Error().Err(err).Str("channel_id", channelID).Msg("list channel")
		writeError(w, h.log, errInternal)
		return
	}
	out, err := h.populate(r.Context(), msgs)
	if err != nil {
		h.log.Error().Err(err).Msg("populate history")
		writeError(w, h.log, errInternal)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{"messages": out})
}

type contactEntry struct {
	wire.Profile
	LastMessage *wire.Message `json:"lastMessage"`
}

// handleContacts lists everyone the caller has exchanged direct messages
// with, newest conversation first. Contacts without a profile are skipped.
func (h *Handler) handleContacts(w http.ResponseWriter, r *http.Request, userID string) {
	summaries, err := h.messages.LatestByContact(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("latest by contact")
		writeError(w, h.log, errInternal)
		return
	}

	ids := make([]string, 0, len(summaries)+1)
	ids = append(ids, userID)
	for _, s := range summaries {
		ids = append(ids, s.ContactID)
	}
	users, err := h.users.GetMany(r.Context(), ids)
	if err != nil {
		h.log.Error().Err(err).Msg("load contacts")
		writeError(w, h.log, errInternal)
		return
	}

	contacts := make([]contactEntry, 0, len(summaries))
	for _, s := range summaries {
		if _, ok := users[s.ContactID]; !ok {
			continue
		}
		last := router.Populate(s.LastMessage, users)
		contacts = append(contacts, contactEntry{Profile: contactProfile(last, s.ContactID), LastMessage: last})
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{"contacts": contacts})
}

func contactProfile(m *wire.Message, contactID string) wire.Profile {
	if m.Sender.ID == contactID {
		return m.Sender
	}
	return *m.Recipient
}

type channelEntry struct {
	*channel.Channel
	LastMessage *wire.Message `json:"lastMessage"`
}

// handleListChannels returns the channels the caller administers or belongs
// to, ordered by their last message, or creation time when empty.
func (h *Handler) handleListChannels(w http.ResponseWriter, r *http.Request, userID string) {
	chans, err := h.channels.ListForUser(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("list channels")
		writeError(w, h.log, errInternal)
		return
	}

	ids := make([]string, 0, len(chans))
	for _, ch := range chans {
		ids = append(ids, ch.ID)
	}
	latest, err := h.messages.LatestInChannels(r.Context(), ids)
	if err != nil {
		h.log.Error().Err(err).Msg("latest in channels")
		writeError(w, h.log, errInternal)
		return
	}

	lastMsgs := make([]*message.Message, 0, len(latest))
	for _, m := range latest {
		lastMsgs = append(lastMsgs, m)
	}
	users, err := h.users.GetMany(r.Context(), router.Participants(lastMsgs...))
	if err != nil {
		h.log.Error().Err(err).Msg("load senders")
		writeError(w, h.log, errInternal)
		return
	}

	entries := make([]channelEntry, 0, len(chans))
	for _, ch := range chans {
		e := channelEntry{Channel: ch}
		if m, ok := latest[ch.ID]; ok {
			e.LastMessage = router.Populate(m, users)
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].activity().After(entries[j].activity())
	})
	writeJSON(w, h.log, http.StatusOK, map[string]any{"channels": entries})
}

func (e channelEntry) activity() time.Time {
	if e.LastMessage != nil {
		return e.LastMessage.Timestamp
	}
	return e.CreatedAt
}

// handleCreateChannel creates a channel administered by the caller. Every
// listed member must be a known user.
func (h *Handler) handleCreateChannel(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, badRequest("Invalid request body"))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, h.log, badRequest("Channel name is required"))
		return
	}

	members := make([]string, 0, len(req.Members))
	seen := make(map[string]bool, len(req.Members))
	for _, m := range req.Members {
		if m != "" && !seen[m] {
			seen[m] = true
			members = append(members, m)
		}
	}

	users, err := h.users.GetMany(r.Context(), append([]string{userID}, members...))
	if err != nil {
		h.log.Error().Err(err).Msg("load members")
		writeError(w, h.log, errInternal)
		return
	}
	if _, ok := users[userID]; !ok {
		writeError(w, h.log, badRequest("Admin not found"))
		return
	}
	for _, m := range members {
		if _, ok := users[m]; !ok {
			writeError(w, h.log, badRequest("Member(s) not valid user(s)"))
			return
		}
	}

	ch := &channel.Channel{Name: req.Name, AdminID: userID, Members: members}
	if err := h.channels.Create(r.Context(), ch); err != nil {
		h.log.Error().Err(err).Msg("create channel")
		writeError(w, h.log, errInternal)
		return
	}
	h.log.Info().Str("channel_id", ch.ID).Str("admin", userID).Int("members", len(members)).Msg("channel created")
	writeJSON(w, h.log, http.StatusCreated, map[string]any{"channel": ch})
}

// handleAddMember lets the channel admin add a user. The new member receives
// channel messages routed after this returns.
func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request, userID string) {
	channelID := r.PathValue("channelID")

	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		writeError(w, h.log, badRequest("userId is required"))
		return
	}

	ch, err := h.channels.Get(r.Context(), channelID)
	if errors.Is(err, channel.ErrChannelNotFound) {
		writeError(w, h.log, notFound("Channel not found"))
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("channel_id", channelID).Msg("get channel")
		writeError(w, h.log, errInternal)
		return
	}
	if ch.AdminID != userID {
		writeError(w, h.log, errForbidden)
		return
	}

	if _, err := h.users.GetByID(r.Context(), req.UserID); err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			writeError(w, h.log, badRequest("Member(s) not valid user(s)"))
			return
		}
		h.log.Error().Err(err).Msg("get user")
		writeError(w, h.log, errInternal)
		return
	}

	if err := h.channels.AddMember(r.Context(), channelID, req.UserID); err != nil {
		h.log.Error().Err(err).Str("channel_id", channelID).Msg("add member")
		writeError(w, h.log, errInternal)
		return
	}
	h.log.Info().Str("channel_id", channelID).Str("member", req.UserID).Msg("member added")
	writeJSON(w, h.log, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request, userID string) {
	messageID := r.PathValue("messageID")

	if _, err := h.messages.FindByID(r.Context(), messageID); err != nil {
		if errors.Is(err, message.ErrMessageNotFound) {
			writeError(w, h.log, notFound("Message not found"))
			return
		}
		h.log.Error().Err(err).Str("message_id", messageID).Msg("find message")
		writeError(w, h.log, errInternal)
		return
	}

	recorded := h.receipts.MarkRead(r.Context(), messageID, userID)
	writeJSON(w, h.log, http.StatusOK, map[string]any{"success": true, "recorded": recorded})
}
