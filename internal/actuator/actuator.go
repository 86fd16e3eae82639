// Package actuator drives locks through their integration's hub
package actuator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wrale/doorlock-proxy/internal/doorlock"
	"github.com/wrale/doorlock-proxy/internal/hub"
)

// Store is the subset of store.Store the actuator needs
type Store interface {
	GetIntegration(ctx context.Context, id string) (*doorlock.Integration, error)
}

// TokenSource yields a valid access token for an integration
type TokenSource interface {
	AccessToken(ctx context.Context, integ *doorlock.Integration) (doorlock.Secret, error)
}

// HubClient performs the hub API calls
type HubClient interface {
	States(ctx context.Context, baseURL, accessToken string) ([]hub.Entity, error)
	OpenLock(ctx context.Context, baseURL, accessToken, entityID string) (int, error)
}

// LockSummary describes one openable lock entity
type LockSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Actuator opens and lists locks
type Actuator struct {
	store  Store
	tokens TokenSource
	hub    HubClient
	logger *zap.Logger
}

// Option configures an Actuator
type Option func(*Actuator)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(a *Actuator) {
		a.logger = l
	}
}

// New creates an Actuator
func New(s Store, tokens TokenSource, client HubClient, opts ...Option) *Actuator {
	a := &Actuator{
		store:  s,
		tokens: tokens,
		hub:    client,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Open asks the hub to open lock and returns the hub's status code. It is
// called after a use has been consumed and does not retry.
func (a *Actuator) Open(ctx context.Context, lock *doorlock.Lock) (int, error) {
	integ, err := a.store.GetIntegration(ctx, lock.IntegrationID)
	if err != nil {
		return 0, fmt.Errorf("loading integration for lock %s: %w", lock.ID, err)
	}

	token, err := a.tokens.AccessToken(ctx, integ)
	if err != nil {
		return 0, fmt.Errorf("obtaining access token: %w", err)
	}

	status, err := a.hub.OpenLock(ctx, integ.BaseURL, token.Reveal(), lock.EntityID)
	if err != nil {
		a.logger.Warn("open lock failed",
			zap.String("lock_id", lock.ID),
			zap.Error(err),
		)
		return 0, err
	}

	a.logger.Info("open lock forwarded",
		zap.String("lock_id", lock.ID),
		zap.String("entity_id", lock.EntityID),
		zap.Int("status", status),
	)
	return status, nil
}

// ListOpenable returns the hub's lock entities that support opening. Only the
// integration's owner may list.
func (a *Actuator) ListOpenable(ctx context.Context, integrationID, caller string) ([]LockSummary, error) {
	integ, err := a.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, fmt.Errorf("loading integration: %w", err)
	}
	if integ.Owner != caller {
		return nil, doorlock.ErrForbidden
	}

	token, err := a.tokens.AccessToken(ctx, integ)
	if err != nil {
		return nil, fmt.Errorf("obtaining access token: %w", err)
	}

	entities, err := a.hub.States(ctx, integ.BaseURL, token.Reveal())
	if err != nil {
		return nil, err
	}

	locks := make([]LockSummary, 0, len(entities))
	for _, e := range entities {
		if !e.OpenableLock() {
			continue
		}
		locks = append(locks, LockSummary{ID: e.EntityID, Name: e.Attributes.FriendlyName})
	}
	return locks, nil
}
