// Package credentials implements the typed credential sum type and the
// store that persists it scoped by provider-id (C3). Values are never
// logged or included in Debug output with the secret exposed.
package credentials

import (
	"fmt"
	"time"
)

// Kind discriminates which variant of Credential is populated.
type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindOAuth  Kind = "oauth"
	KindDevice Kind = "device"
)

// Credential is the sum type `ApiKey{key} | OAuth{access_token,
// refresh_token?, expires_at?} | Device{...}` from the data model.
// Exactly the fields for Kind are meaningful; the others are zero.
type Credential struct {
	Kind Kind `json:"kind"`

	// ApiKey
	Key string `json:"key,omitempty"`

	// OAuth
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`

	// Device (device-code flow, e.g. GitHub Copilot)
	DeviceCode      string     `json:"device_code,omitempty"`
	UserCode        string     `json:"user_code,omitempty"`
	VerificationURI string     `json:"verification_uri,omitempty"`
	PollInterval    int        `json:"poll_interval,omitempty"`
	DeviceExpiresAt *time.Time `json:"device_expires_at,omitempty"`
}

// APIKey builds an ApiKey credential.
func APIKey(key string) Credential {
	return Credential{Kind: KindAPIKey, Key: key}
}

// OAuthCredential builds an OAuth credential.
func OAuthCredential(accessToken, refreshToken string, expiresAt *time.Time) Credential {
	return Credential{Kind: KindOAuth, AccessToken: accessToken, RefreshToken: refreshToken, ExpiresAt: expiresAt}
}

// Expired reports whether an OAuth credential's expiry has passed.
// Non-OAuth credentials are never expired.
func (c Credential) Expired(now time.Time) bool {
	return c.Kind == KindOAuth && c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// Refreshable reports whether this credential can be refreshed (OAuth
// with a refresh token present).
func (c Credential) Refreshable() bool {
	return c.Kind == KindOAuth && c.RefreshToken != ""
}

// String implements fmt.Stringer with the secret body replaced by a
// fixed-width placeholder, so any accidental %s/%v formatting of a
// Credential never leaks it. String, not Error: Credential is a value
// type, not an error.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{kind=%s, value=[REDACTED]}", c.Kind)
}

// GoString backs %#v formatting the same way String backs %v/%s, so
// reflection-based Debug dumps (go-spew, %#v) don't bypass the
// redaction either.
func (c Credential) GoString() string {
	return c.String()
}
