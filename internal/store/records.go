package store

import (
	"time"

	"github.com/wrale/doorlock-proxy/internal/doorlock"
)

// integrationRecord is the persisted form of an integration. Secrets are stored
// as plain strings here because doorlock.Secret redacts itself when marshaled.
type integrationRecord struct {
	ID                   string    `json:"id"`
	Owner                string    `json:"owner"`
	BaseURL              string    `json:"base_url"`
	ClientSecret         string    `json:"client_secret,omitempty"`
	AccessToken          string    `json:"access_token,omitempty"`
	RefreshToken         string    `json:"refresh_token,omitempty"`
	AccessTokenExpiresAt time.Time `json:"access_token_expires_at"`
}

func toIntegrationRecord(i *doorlock.Integration) integrationRecord {
	return integrationRecord{
		ID:                   i.ID,
		Owner:                i.Owner,
		BaseURL:              i.BaseURL,
		ClientSecret:         i.ClientSecret.Reveal(),
		AccessToken:          i.AccessToken.Reveal(),
		RefreshToken:         i.RefreshToken.Reveal(),
		AccessTokenExpiresAt: i.AccessTokenExpiresAt,
	}
}

func (r integrationRecord) integration() *doorlock.Integration {
	return &doorlock.Integration{
		ID:                   r.ID,
		Owner:                r.Owner,
		BaseURL:              r.BaseURL,
		ClientSecret:         doorlock.NewSecret(r.ClientSecret),
		AccessToken:          doorlock.NewSecret(r.AccessToken),
		RefreshToken:         doorlock.NewSecret(r.RefreshToken),
		AccessTokenExpiresAt: r.AccessTokenExpiresAt,
	}
}

// grantRecord is the persisted form of a grant; the domain type hides Token from JSON
type grantRecord struct {
	ID         string    `json:"id"`
	Token      string    `json:"token"`
	LockID     string    `json:"lock_id"`
	NotBefore  time.Time `json:"not_before"`
	NotAfter   time.Time `json:"not_after"`
	UsageLimit int       `json:"usage_limit"`
}

func toGrantRecord(g *doorlock.Grant) grantRecord {
	return grantRecord{
		ID:         g.ID,
		Token:      g.Token,
		LockID:     g.LockID,
		NotBefore:  g.NotBefore,
		NotAfter:   g.NotAfter,
		UsageLimit: g.UsageLimit,
	}
}

func (r grantRecord) grant() *doorlock.Grant {
	return &doorlock.Grant{
		ID:         r.ID,
		Token:      r.Token,
		LockID:     r.LockID,
		NotBefore:  r.NotBefore,
		NotAfter:   r.NotAfter,
		UsageLimit: r.UsageLimit,
	}
}
