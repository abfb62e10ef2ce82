package api

import "time"

// SessionStore abstracts session CRUD so that sessions can be stored
// in-memory (default) or in persistent backing storage.
type SessionStore interface {
	// Get retrieves a session by token. Returns false if the session
	// does not exist, has expired, or has exceeded the idle timeout.
	Get(token string) (AuthSession, bool)
	// Put creates or updates a session for the given token.
	Put(token string, session AuthSession)
	// Delete removes a session by token.
	Delete(token string)
}

// AuthSession holds the server-side state for an authenticated session.
type AuthSession struct {
	AccountUUID    string    `json:"account_uuid"`
	UsernameHash   []byte    `json:"username_hash"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

func (s AuthSession) expired(now time.Time, idleTimeout time.Duration) bool {
	if now.After(s.ExpiresAt) {
		return true
	}
	return idleTimeout > 0 && now.Sub(s.LastAccessedAt) > idleTimeout
}
