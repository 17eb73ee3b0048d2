package user

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

const userColumns = `id, email, first_name, last_name, image, color, created_at`

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

func scanUser(row scanner) (*User, error) {
	var (
		u                  User
		first, last, image sql.NullString
		color              sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Email, &first, &last, &image, &color, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.FirstName = first.String
	u.LastName = last.String
	u.Image = image.String
	u.Color = int(color.Int64)
	return &u, nil
}

func (s *SQLStore) Create(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO users (email, first_name, last_name, image, color, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query, u.Email, u.FirstName, u.LastName, u.Image, u.Color, u.CreatedAt).Scan(&u.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (s *SQLStore) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		var pqErr *pq.Error
		if err == sql.ErrNoRows || (errors.As(err, &pqErr) && pqErr.Code == "22P02") {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

func (s *SQLStore) GetMany(ctx context.Context, ids []string) (map[string]*User, error) {
	users := make(map[string]*User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id::text = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users[u.ID] = u
	}
	return users, rows.Err()
}
