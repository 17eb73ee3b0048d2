package user

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userCols = []string{"id", "email", "first_name", "last_name", "image", "color", "created_at"}

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

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs("ada@example.com", "Ada", "Lovelace", "", 3, at).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1"))

	u := &User{Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace", Color: 3, CreatedAt: at}
	require.NoError(t, s.Create(context.Background(), u))
	assert.Equal(t, "u1", u.ID)
}

func TestSQLCreateDuplicateEmail(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.Create(context.Background(), &User{Email: "ada@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestSQLGetByID(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u1", "ada@example.com", "Ada", nil, nil, nil, at))

	u, err := s.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, &User{ID: "u1", Email: "ada@example.com", FirstName: "Ada", CreatedAt: at}, u)
}

func TestSQLGetByIDNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("u9").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetByID(context.Background(), "u9")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSQLGetMany(t *testing.T) {
	s, mock := newMock(t)

	none, err := s.GetMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id::text = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "ada@example.com", "Ada", "Lovelace", "a.png", 1, time.Now()))

	got, err := s.GetMany(context.Background(), []string{"u1", "u9"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a.png", got["u1"].Image)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ada := &User{ID: "u1", Email: "ada@example.com", FirstName: "Ada"}
	require.NoError(t, s.Create(ctx, ada))
	assert.False(t, ada.CreatedAt.IsZero())

	generated := &User{Email: "bob@example.com"}
	require.NoError(t, s.Create(ctx, generated))
	assert.NotEmpty(t, generated.ID)

	assert.ErrorIs(t, s.Create(ctx, &User{ID: "u3", Email: "ada@example.com"}), ErrDuplicateEmail)

	got, err := s.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.FirstName)

	_, err = s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)

	many, err := s.GetMany(ctx, []string{"u1", "missing", generated.ID})
	require.NoError(t, err)
	assert.Len(t, many, 2)
	assert.NotContains(t, many, "missing")
}
