// Package store persists integrations, locks and grants
package store

import (
	"context"
	"errors"

	"github.com/wrale/doorlock-proxy/internal/doorlock"
)

// ErrExhausted indicates a grant has no redemptions left
var ErrExhausted = errors.New("grant usage exhausted")

// Store defines the record store shared by all flows. Implementations must be
// read-your-writes consistent; no multi-record transactions are required.
type Store interface {
	// GetIntegration loads an integration by ID
	GetIntegration(ctx context.Context, id string) (*doorlock.Integration, error)

	// GetIntegrationByBaseURL loads an integration by its unique hub URL
	GetIntegrationByBaseURL(ctx context.Context, baseURL string) (*doorlock.Integration, error)

	// FindOrCreateIntegration returns the integration registered for candidate.BaseURL,
	// creating it from candidate when none exists. created reports which happened.
	FindOrCreateIntegration(ctx context.Context, candidate *doorlock.Integration) (integration *doorlock.Integration, created bool, err error)

	// SaveIntegration atomically replaces the mutable fields of an integration
	SaveIntegration(ctx context.Context, integration *doorlock.Integration) error

	// GetLock loads a lock by ID
	GetLock(ctx context.Context, id string) (*doorlock.Lock, error)

	// GetLockByIdentificationToken loads a lock by its public identification token
	GetLockByIdentificationToken(ctx context.Context, token string) (*doorlock.Lock, error)

	// SaveLock creates or replaces a lock
	SaveLock(ctx context.Context, lock *doorlock.Lock) error

	// GetGrant loads a grant by ID
	GetGrant(ctx context.Context, id string) (*doorlock.Grant, error)

	// GetGrantByToken loads a grant by its bearer token
	GetGrantByToken(ctx context.Context, token string) (*doorlock.Grant, error)

	// SaveGrant creates or replaces a grant
	SaveGrant(ctx context.Context, grant *doorlock.Grant) error

	// ConsumeGrantUse decrements the usage limit of a grant only while it is
	// above zero and returns the remaining uses. Unlimited grants are left
	// untouched. Returns ErrExhausted when no use is left.
	ConsumeGrantUse(ctx context.Context, grantID string) (int, error)

	// CheckHealth verifies the storage backend is healthy
	CheckHealth(ctx context.Context) error
}
