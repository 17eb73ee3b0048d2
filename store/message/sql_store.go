package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
)

const messageColumns = `id, sender_id, recipient_id, channel_id, message_type, content, file_url, created_at`

// invalid_text_representation: a malformed uuid can never match a row.
const pqInvalidText = "22P02"

// SQLStore implements Store using a database/sql connection.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner, leading ...any) (*Message, error) {
	var (
		msg                           Message
		recipient, channel            sql.NullString
		content, fileURL, messageType sql.NullString
	)
	dest := append(leading, &msg.ID, &msg.SenderID, &recipient, &channel, &messageType, &content, &fileURL, &msg.Timestamp)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	msg.RecipientID = recipient.String
	msg.ChannelID = channel.String
	msg.Type = Type(messageType.String)
	msg.Content = content.String
	msg.FileURL = fileURL.String
	msg.ReadBy = []ReadEntry{}
	return &msg, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isInvalidID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqInvalidText
}

func (s *SQLStore) Create(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (sender_id, recipient_id, channel_id, message_type, content, file_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	row := s.db.QueryRowContext(ctx, query,
		msg.SenderID,
		nullString(msg.RecipientID),
		nullString(msg.ChannelID),
		string(msg.Type),
		nullString(msg.Content),
		nullString(msg.FileURL),
	)
	if err := row.Scan(&msg.ID, &msg.Timestamp); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	msg.ReadBy = []ReadEntry{}
	return nil
}

func (s *SQLStore) FindByID(ctx context.Context, id string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows || isInvalidID(err) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	if err := s.loadReads(ctx, []*Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SQLStore) AppendReadBy(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	// The primary key on (message_id, user_id) makes the append idempotent
	// even when two readers race past the caller's HasReader check.
	insert := `
		INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT id, $2, $3 FROM messages WHERE id = $1
		ON CONFLICT (message_id, user_id) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, insert, id, userID, at)
	if err != nil {
		if isInvalidID(err) {
			return false, ErrMessageNotFound
		}
		return false, fmt.Errorf("append reader: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrMessageNotFound
	}
	return false, nil
}

func (s *SQLStore) ListConversation(ctx context.Context, a, b string) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE channel_id IS NULL
			AND ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
		ORDER BY created_at ASC, id ASC
	`
	return s.list(ctx, query, a, b)
}

func (s *SQLStore) ListChannel(ctx context.Context, channelID string) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE channel_id = $1
		ORDER BY created_at ASC, id ASC
	`
	return s.list(ctx, query, channelID)
}

func (s *SQLStore) list(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		if isInvalidID(err) {
			return []*Message{}, nil
		}
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	msgs := []*Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadReads(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *SQLStore) LatestByContact(ctx context.Context, userID string) ([]ContactSummary, error) {
	query := `
		SELECT DISTINCT ON (contact_id) contact_id, ` + messageColumns + `
		FROM (
			SELECT CASE WHEN sender_id = $1 THEN recipient_id ELSE sender_id END AS contact_id, m.*
			FROM messages m
			WHERE m.channel_id IS NULL AND (m.sender_id = $1 OR m.recipient_id = $1)
		) t
		WHERE contact_id <> $1
		ORDER BY contact_id, created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	summaries := []ContactSummary{}
	for rows.Next() {
		var contactID string
		msg, err := scanMessage(rows, &contactID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, ContactSummary{ContactID: contactID, LastMessage: msg})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastMessage.Timestamp.After(summaries[j].LastMessage.Timestamp)
	})
	return summaries, nil
}

func (s *SQLStore) LatestInChannels(ctx context.Context, channelIDs []string) (map[string]*Message, error) {
	latest := make(map[string]*Message, len(channelIDs))
	if len(channelIDs) == 0 {
		return latest, nil
	}

	query := `
		SELECT DISTINCT ON (channel_id) ` + messageColumns + `
		FROM messages
		WHERE channel_id = ANY($1)
		ORDER BY channel_id, created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(channelIDs))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		latest[msg.ChannelID] = msg
	}
	return latest, rows.Err()
}

// loadReads fills ReadBy for msgs with a single query, in insertion order.
func (s *SQLStore) loadReads(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	byID := make(map[string]*Message, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	query := `
		SELECT message_id, user_id, read_at
		FROM message_reads
		WHERE message_id = ANY($1)
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load readers: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var (
			messageID string
			entry     ReadEntry
		)
		if err := rows.Scan(&messageID, &entry.UserID, &entry.ReadAt); err != nil {
			return err
		}
		if m, ok := byID[messageID]; ok {
			m.ReadBy = append(m.ReadBy, entry)
		}
	}
	return rows.Err()
}
