// Package doorlock defines the records shared by the grant, credential and setup flows
package doorlock

import (
	"strings"
	"time"
)

// UnlimitedUses marks a grant that is never exhausted
const UnlimitedUses = -1

// Integration is one connected home-automation hub and its OAuth credentials
type Integration struct {
	ID                   string    `json:"id"`
	Owner                string    `json:"owner"`
	BaseURL              string    `json:"base_url"`
	ClientSecret         Secret    `json:"client_secret"`
	AccessToken          Secret    `json:"access_token"`
	RefreshToken         Secret    `json:"refresh_token"`
	AccessTokenExpiresAt time.Time `json:"access_token_expires_at"`
}

// Configured reports whether the authorization-code exchange has completed.
// An integration without a refresh token is still pending setup.
func (i *Integration) Configured() bool {
	return !i.RefreshToken.Empty()
}

// AccessTokenExpired reports whether the cached access token is no longer usable at now
func (i *Integration) AccessTokenExpired(now time.Time) bool {
	return !i.AccessTokenExpiresAt.After(now)
}

// Lock is a physical lock reachable through an integration
type Lock struct {
	ID                  string `json:"id"`
	IdentificationToken string `json:"identification_token"`
	IntegrationID       string `json:"integration_id"`
	EntityID            string `json:"entity_id"`
}

// Grant is a bearer credential permitting a lock to be opened within a window
type Grant struct {
	ID         string    `json:"id"`
	Token      string    `json:"-"`
	LockID     string    `json:"lock_id"`
	NotBefore  time.Time `json:"not_before"`
	NotAfter   time.Time `json:"not_after"`
	UsageLimit int       `json:"usage_limit"`
}

// Unlimited reports whether the grant carries the unlimited sentinel
func (g *Grant) Unlimited() bool {
	return g.UsageLimit == UnlimitedUses
}

// HasUsesLeft reports whether at least one redemption remains
func (g *Grant) HasUsesLeft() bool {
	return g.Unlimited() || g.UsageLimit > 0
}

// Within reports whether now lies strictly inside the grant window.
// Both bounds are exclusive.
func (g *Grant) Within(now time.Time) bool {
	return now.After(g.NotBefore) && now.Before(g.NotAfter)
}

// NormalizeBaseURL trims whitespace and trailing slashes so a hub maps to one record
func NormalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}
