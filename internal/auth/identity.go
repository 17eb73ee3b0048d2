package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrNoIdentity = errors.New("no user identity on request")

// Resolver extracts the caller's user id from an HTTP or websocket
// handshake request.
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

// QueryResolver trusts the identity carried in the request: the userId
// query parameter (used by websocket handshakes) or the X-User-ID header.
// Deploy it only behind a gateway that has already verified the session.
type QueryResolver struct{}

func (QueryResolver) Resolve(r *http.Request) (string, error) {
	q := r.URL.Query()
	for _, key := range []string{"userId", "userID"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			return v, nil
		}
	}
	if v := strings.TrimSpace(r.Header.Get("X-User-ID")); v != "" {
		return v, nil
	}
	return "", ErrNoIdentity
}

// TokenResolver verifies a JWT from the Authorization header, the
// X-Session-Token header or the token query parameter.
type TokenResolver struct {
	Auth *Authenticator
}

func (t TokenResolver) Resolve(r *http.Request) (string, error) {
	token := strings.TrimSpace(r.Header.Get("X-Session-Token"))
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		}
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return "", ErrNoIdentity
	}

	claims, err := t.Auth.ValidateToken(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}
