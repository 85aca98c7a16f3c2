package domain

import (
	"time"
)

// AuthProvider tags how an account proves its identity.
type AuthProvider string

const (
	// ProviderPassword marks accounts that authenticate with a local password.
	ProviderPassword AuthProvider = "password"
	// ProviderFederated marks accounts linked to an external identity provider.
	ProviderFederated AuthProvider = "federated"
)

// Credential is the closed set of ways a user can authenticate. A user always
// carries exactly one Credential value, so "no credential at all" is not
// representable.
type Credential interface {
	// Provider returns the auth provider tag for this credential kind.
	Provider() AuthProvider
}

// PasswordCredential authenticates with a locally stored password hash.
type PasswordCredential struct {
	Hash string
}

func (PasswordCredential) Provider() AuthProvider { return ProviderPassword }

// FederatedCredential authenticates through an external identity provider.
type FederatedCredential struct {
	ExternalID string
}

func (FederatedCredential) Provider() AuthProvider { return ProviderFederated }

// LinkedCredential is a password account that has additionally been linked to
// a federated identity. Both sign-in paths remain valid; the provider tag
// follows the federated link.
type LinkedCredential struct {
	Hash       string
	ExternalID string
}

func (LinkedCredential) Provider() AuthProvider { return ProviderFederated }

// User represents a registered user in the system.
type User struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	EmailVerified bool       `json:"email_verified"`
	PictureURL    string     `json:"picture_url,omitempty"`
	Credential    Credential `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Provider returns the user's auth provider tag.
func (u *User) Provider() AuthProvider {
	return u.Credential.Provider()
}

// PasswordHash returns the stored password hash, if this account has one.
func (u *User) PasswordHash() (string, bool) {
	switch c := u.Credential.(type) {
	case PasswordCredential:
		return c.Hash, true
	case LinkedCredential:
		return c.Hash, true
	default:
		return "", false
	}
}

// ExternalID returns the federated identity provider's subject id, if this
// account is linked to one.
func (u *User) ExternalID() (string, bool) {
	switch c := u.Credential.(type) {
	case FederatedCredential:
		return c.ExternalID, true
	case LinkedCredential:
		return c.ExternalID, true
	default:
		return "", false
	}
}

// SetPassword replaces the stored password hash, preserving a federated link
// if one exists.
func (u *User) SetPassword(hash string) {
	if ext, ok := u.ExternalID(); ok {
		u.Credential = LinkedCredential{Hash: hash, ExternalID: ext}
		return
	}
	u.Credential = PasswordCredential{Hash: hash}
}

// LinkExternalID attaches a federated identity to this account. A password
// account becomes a linked account; re-linking a federated account replaces
// the external id.
func (u *User) LinkExternalID(externalID string) {
	if hash, ok := u.PasswordHash(); ok {
		u.Credential = LinkedCredential{Hash: hash, ExternalID: externalID}
		return
	}
	u.Credential = FederatedCredential{ExternalID: externalID}
}

// UserStats is the per-user learning statistics row created alongside every
// account. The review fields are maintained by the study endpoints, outside
// the auth core.
type UserStats struct {
	UserID         string     `json:"user_id"`
	CardsReviewed  int        `json:"cards_reviewed"`
	ReviewStreak   int        `json:"review_streak"`
	LastReviewedAt *time.Time `json:"last_reviewed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
