package model

import "time"

// Session is the server-side record backing one outstanding refresh token.
// TokenLookup is a random, non-secret correlation id stored in plaintext so a
// presented refresh token can be matched with a single indexed read instead of
// verifying the expensive hash against every row. RefreshHash is the bcrypt
// digest of the secret half; the plaintext secret is never persisted.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	TokenLookup string    `json:"-"`
	RefreshHash string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expired reports whether the session can no longer be rotated at the given
// instant. Expired sessions are still matched by logout.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// SessionInfo is the public projection of a Session returned by the session
// listing endpoints.
type SessionInfo struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
