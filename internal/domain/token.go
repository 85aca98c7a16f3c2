package domain

import (
	"time"
)

// RefreshToken represents one active session on one device. Only the SHA-256
// digest of the opaque secret is ever stored; the secret itself exists only in
// transit and in the client's cookie.
type RefreshToken struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionMeta carries optional device information recorded when a refresh
// session is issued.
type SessionMeta struct {
	UserAgent string
	IP        string
}

// TokenPurpose distinguishes the single-use action token kinds.
type TokenPurpose string

const (
	PurposeVerifyEmail   TokenPurpose = "verify_email"
	PurposeResetPassword TokenPurpose = "reset_password"
)

// ActionToken is a single-use, expiring, hashed secret authorizing one
// specific action. At most one unused token per (user, purpose) is valid at
// any time: issuing a new one supersedes all earlier unused tokens.
type ActionToken struct {
	ID        int64        `json:"id"`
	UserID    string       `json:"user_id"`
	Purpose   TokenPurpose `json:"purpose"`
	TokenHash string       `json:"-"`
	ExpiresAt time.Time    `json:"expires_at"`
	UsedAt    *time.Time   `json:"used_at,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// TokenPair holds the signed access token and the opaque refresh secret
// returned to a client at login, federated sign-in, and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
