package channel

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

var channelCols = []string{"id", "name", "admin_id", "created_at", "updated_at", "members"}

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

func TestSQLCreate(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO channels")).
		WithArgs("general", "admin", at, at).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO channel_members")).
		WithArgs("c1", "u1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO channel_members")).
		WithArgs("c1", "u2", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ch := &Channel{Name: "general", AdminID: "admin", Members: []string{"u1", "u2"}, CreatedAt: at}
	require.NoError(t, s.Create(context.Background(), ch))
	assert.Equal(t, "c1", ch.ID)
	assert.Equal(t, at, ch.UpdatedAt)
}

func TestSQLCreateRollsBackOnMemberFailure(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO channels")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO channel_members")).
		WillReturnError(&pq.Error{Code: "23503"})
	mock.ExpectRollback()

	err := s.Create(context.Background(), &Channel{Name: "general", AdminID: "admin", Members: []string{"ghost"}, CreatedAt: at})
	require.Error(t, err)
}

func TestSQLGet(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE c.id = $1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(channelCols).AddRow("c1", "general", "admin", at, at, "{u1,u2}"))

	ch, err := s.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ch.Members)
	assert.True(t, ch.HasParticipant("admin"))
	assert.True(t, ch.HasParticipant("u2"))
	assert.False(t, ch.HasParticipant("u3"))
}

func TestSQLGetWithoutMembers(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE c.id = $1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(channelCols).AddRow("c1", "quiet", "admin", time.Now(), time.Now(), "{}"))

	ch, err := s.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.NotNil(t, ch.Members)
	assert.Empty(t, ch.Members)
}

func TestSQLGetNotFound(t *testing.T) {
	for name, cause := range map[string]error{
		"no rows":      sql.ErrNoRows,
		"malformed id": &pq.Error{Code: "22P02"},
	} {
		t.Run(name, func(t *testing.T) {
			s, mock := newMock(t)
			mock.ExpectQuery(regexp.QuoteMeta("WHERE c.id = $1")).WillReturnError(cause)

			_, err := s.Get(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrChannelNotFound)
		})
	}
}

func TestSQLListForUser(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE c.admin_id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(channelCols).
			AddRow("c2", "ops", "u1", at, at.Add(time.Hour), "{}").
			AddRow("c1", "general", "admin", at, at, "{u1}"))

	chs, err := s.ListForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, chs, 2)
	assert.Equal(t, "c2", chs[0].ID)
	assert.Equal(t, []string{"u1"}, chs[1].Members)
}

func TestSQLAppendMessage(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO channel_messages")).
		WithArgs("c1", "m1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE channels SET updated_at")).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.AppendMessage(context.Background(), "c1", "m1"))
}

func TestSQLAppendMessageUnknownChannel(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO channel_messages")).
		WithArgs("c9", "m1").
		WillReturnError(&pq.Error{Code: "23503"})
	mock.ExpectRollback()

	err := s.AppendMessage(context.Background(), "c9", "m1")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestSQLAddMember(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO channel_members")).
		WithArgs("c1", "u3", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.AddMember(context.Background(), "c1", "u3"))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO channel_members")).
		WillReturnError(errors.New("boom"))
	assert.EqualError(t, s.AddMember(context.Background(), "c1", "u4"), "boom")
}
