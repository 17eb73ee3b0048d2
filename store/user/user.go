package user

import (
	"context"
	"errors"
	"time"
)

// User holds the profile attributes clients render next to a message.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	Image     string    `json:"image,omitempty"`
	Color     int       `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
}

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

// Store defines the profile lookups the messaging core depends on.
type Store interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	// GetMany returns the users found among ids, keyed by ID. Unknown ids
	// are omitted.
	GetMany(ctx context.Context, ids []string) (map[string]*User, error)
}
