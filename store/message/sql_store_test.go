package message

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var messageCols = []string{"id", "sender_id", "recipient_id", "channel_id", "message_type", "content", "file_url", "created_at"}

func newMock(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewSQLStore(db), mock
}

func TestSQLCreateDirect(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs("u1", "u2", nil, "text", "hello", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("m1", at))

	msg := &Message{SenderID: "u1", RecipientID: "u2", Type: TypeText, Content: "hello"}
	require.NoError(t, s.Create(context.Background(), msg))
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, at, msg.Timestamp)
	assert.NotNil(t, msg.ReadBy)
	assert.Empty(t, msg.ReadBy)
}

func TestSQLCreateFileInChannel(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs("u1", nil, "c1", "file", nil, "uploads/a.png").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("m2", time.Now()))

	msg := &Message{SenderID: "u1", ChannelID: "c1", Type: TypeFile, FileURL: "uploads/a.png"}
	require.NoError(t, s.Create(context.Background(), msg))
	assert.Equal(t, "m2", msg.ID)
}

func TestSQLCreateError(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnError(errors.New("connection reset"))

	err := s.Create(context.Background(), &Message{SenderID: "u1", RecipientID: "u2", Type: TypeText, Content: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert message")
}

func TestSQLFindByIDLoadsReaders(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM messages WHERE id = $1")).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("m1", "u1", "u2", nil, "text", "hello", nil, at))
	mock.ExpectQuery(regexp.QuoteMeta("FROM message_reads")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "user_id", "read_at"}).
			AddRow("m1", "u2", at.Add(time.Minute)))

	msg, err := s.FindByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "u2", msg.RecipientID)
	assert.Empty(t, msg.ChannelID)
	assert.Empty(t, msg.FileURL)
	require.Len(t, msg.ReadBy, 1)
	assert.Equal(t, ReadEntry{UserID: "u2", ReadAt: at.Add(time.Minute)}, msg.ReadBy[0])
}

func TestSQLFindByIDNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"no rows", sql.ErrNoRows},
		{"malformed id", &pq.Error{Code: "22P02"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMock(t)
			mock.ExpectQuery(regexp.QuoteMeta("FROM messages WHERE id = $1")).
				WithArgs("nope").
				WillReturnError(tt.err)

			_, err := s.FindByID(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrMessageNotFound)
		})
	}
}

func TestSQLAppendReadBy(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 5, 0, 0, time.UTC)
	insert := regexp.QuoteMeta("INSERT INTO message_reads")
	exists := regexp.QuoteMeta("SELECT EXISTS")

	t.Run("first read", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectExec(insert).WithArgs("m1", "u2", at).WillReturnResult(sqlmock.NewResult(0, 1))

		added, err := s.AppendReadBy(context.Background(), "m1", "u2", at)
		require.NoError(t, err)
		assert.True(t, added)
	})

	t.Run("already recorded", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectExec(insert).WithArgs("m1", "u2", at).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(exists).WithArgs("m1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		added, err := s.AppendReadBy(context.Background(), "m1", "u2", at)
		require.NoError(t, err)
		assert.False(t, added)
	})

	t.Run("unknown message", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectExec(insert).WithArgs("m9", "u2", at).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(exists).WithArgs("m9").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := s.AppendReadBy(context.Background(), "m9", "u2", at)
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})
}

func TestSQLListConversation(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE channel_id IS NULL")).
		WithArgs("u1", "u2").
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("m1", "u1", "u2", nil, "text", "hi", nil, at).
			AddRow("m2", "u2", "u1", nil, "text", "hey", nil, at.Add(time.Second)))
	mock.ExpectQuery(regexp.QuoteMeta("FROM message_reads")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "user_id", "read_at"}).
			AddRow("m1", "u2", at.Add(time.Minute)))

	msgs, err := s.ListConversation(context.Background(), "u1", "u2")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Len(t, msgs[0].ReadBy, 1)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Empty(t, msgs[1].ReadBy)
}

func TestSQLListChannelEmpty(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE channel_id = $1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(messageCols))

	msgs, err := s.ListChannel(context.Background(), "c1")
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestSQLLatestByContactNewestFirst(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	cols := append([]string{"contact_id"}, messageCols...)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (contact_id)")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("u2", "m1", "u1", "u2", nil, "text", "older", nil, at).
			AddRow("u3", "m2", "u3", "u1", nil, "text", "newer", nil, at.Add(time.Hour)))

	got, err := s.LatestByContact(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "u3", got[0].ContactID)
	assert.Equal(t, "newer", got[0].LastMessage.Content)
	assert.Equal(t, "u2", got[1].ContactID)
}

func TestSQLLatestInChannels(t *testing.T) {
	s, mock := newMock(t)

	empty, err := s.LatestInChannels(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (channel_id)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("m5", "u1", nil, "c1", "text", "last", nil, time.Now()))

	got, err := s.LatestInChannels(context.Background(), []string{"c1", "c2"})
	require.NoError(t, err)
	require.Contains(t, got, "c1")
	assert.NotContains(t, got, "c2")
	assert.Equal(t, "m5", got["c1"].ID)
}
