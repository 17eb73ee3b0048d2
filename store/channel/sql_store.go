package channel

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// SQLStore implements Store using a database/sql connection.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func notFound(err error) bool {
	if err == sql.ErrNoRows {
		return true
	}
	// invalid_text_representation or foreign_key_violation
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && (pqErr.Code == "22P02" || pqErr.Code == "23503")
}

func (s *SQLStore) Create(ctx context.Context, ch *Channel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				_ = rollbackErr
			}
		}
	}()

	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now()
	}
	ch.UpdatedAt = ch.CreatedAt

	channelInsert := `
		INSERT INTO channels (name, admin_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	if err = tx.QueryRowContext(ctx, channelInsert, ch.Name, ch.AdminID, ch.CreatedAt, ch.UpdatedAt).Scan(&ch.ID); err != nil {
		return err
	}

	memberInsert := `
		INSERT INTO channel_members (channel_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`

	for _, memberID := range ch.Members {
		if _, err = tx.ExecContext(ctx, memberInsert, ch.ID, memberID, ch.CreatedAt); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Channel, error) {
	query := `
		SELECT c.id, c.name, c.admin_id, c.created_at, c.updated_at,
			COALESCE(array_agg(m.user_id ORDER BY m.joined_at, m.user_id) FILTER (WHERE m.user_id IS NOT NULL), '{}')
		FROM channels c
		LEFT JOIN channel_members m ON m.channel_id = c.id
		WHERE c.id = $1
		GROUP BY c.id
	`

	ch, err := scanChannel(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if notFound(err) {
			return nil, ErrChannelNotFound
		}
		return nil, err
	}
	return ch, nil
}

func (s *SQLStore) ListForUser(ctx context.Context, userID string) ([]*Channel, error) {
	query := `
		SELECT c.id, c.name, c.admin_id, c.created_at, c.updated_at,
			COALESCE(array_agg(m.user_id ORDER BY m.joined_at, m.user_id) FILTER (WHERE m.user_id IS NOT NULL), '{}')
		FROM channels c
		LEFT JOIN channel_members m ON m.channel_id = c.id
		WHERE c.admin_id = $1
			OR EXISTS (SELECT 1 FROM channel_members x WHERE x.channel_id = c.id AND x.user_id = $1)
		GROUP BY c.id
		ORDER BY c.updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	channels := []*Channel{}
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

func (s *SQLStore) AddMember(ctx context.Context, channelID, userID string) error {
	query := `
		INSERT INTO channel_members (channel_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`

	if _, err := s.db.ExecContext(ctx, query, channelID, userID, time.Now()); err != nil {
		if notFound(err) {
			return ErrChannelNotFound
		}
		return err
	}
	return nil
}

func (s *SQLStore) AppendMessage(ctx context.Context, channelID, messageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT INTO channel_messages (channel_id, message_id) VALUES ($1, $2)`, channelID, messageID); err != nil {
		if notFound(err) {
			err = ErrChannelNotFound
		}
		return err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE channels SET updated_at = now() WHERE id = $1`, channelID); err != nil {
		return err
	}

	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChannel(row scanner) (*Channel, error) {
	var (
		ch      Channel
		members pq.StringArray
	)
	if err := row.Scan(&ch.ID, &ch.Name, &ch.AdminID, &ch.CreatedAt, &ch.UpdatedAt, &members); err != nil {
		return nil, err
	}
	ch.Members = []string(members)
	if ch.Members == nil {
		ch.Members = []string{}
	}
	return &ch, nil
}
