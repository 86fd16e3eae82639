// Package credential keeps integration access tokens valid
package credential

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wrale/doorlock-proxy/internal/clock"
	"github.com/wrale/doorlock-proxy/internal/doorlock"
	"github.com/wrale/doorlock-proxy/internal/hub"
)

// Store persists refreshed credentials
type Store interface {
	SaveIntegration(ctx context.Context, integration *doorlock.Integration) error
}

// TokenClient performs the refresh-token grant against a hub
type TokenClient interface {
	RefreshToken(ctx context.Context, baseURL, refreshToken, clientSecret string) (*hub.Token, error)
}

// Refresher hands out valid access tokens, refreshing expired ones first
type Refresher struct {
	store   Store
	hub     TokenClient
	clock   clock.Clock
	logger  *zap.Logger
	timeout time.Duration
	group   singleflight.Group
}

// DefaultRefreshTimeout bounds a shared refresh, which outlives the caller that started it
const DefaultRefreshTimeout = 30 * time.Second

// NewRefresher creates a Refresher
func NewRefresher(store Store, client TokenClient, opts ...Option) *Refresher {
	r := &Refresher{
		store:   store,
		hub:     client,
		clock:   clock.Real(),
		logger:  zap.NewNop(),
		timeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AccessToken returns a usable access token for integ. A cached token that has
// not expired is returned without side effects. An expired one is refreshed,
// the whole record is saved once, and integ is updated in place.
//
// Concurrent refreshes of the same integration within this process share one
// upstream call; across processes the hub's refresh-token semantics decide.
// The shared call is detached from any single caller's cancellation, and each
// caller stops waiting when its own ctx is done.
func (r *Refresher) AccessToken(ctx context.Context, integ *doorlock.Integration) (doorlock.Secret, error) {
	if !integ.Configured() {
		return "", doorlock.ErrSetupPending
	}
	if !integ.AccessTokenExpired(r.clock.Now()) {
		return integ.AccessToken, nil
	}

	snapshot := *integ
	flightCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(integ.ID, func() (any, error) {
		ctx, cancel := context.WithTimeout(flightCtx, r.timeout)
		defer cancel()
		return r.refresh(ctx, &snapshot)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return "", res.Err
	}

	updated := res.Val.(*doorlock.Integration)
	*integ = *updated
	if res.Shared {
		r.logger.Debug("shared access token refresh", zap.String("integration_id", integ.ID))
	}
	return integ.AccessToken, nil
}

func (r *Refresher) refresh(ctx context.Context, integ *doorlock.Integration) (*doorlock.Integration, error) {
	token, err := r.hub.RefreshToken(ctx, integ.BaseURL, integ.RefreshToken.Reveal(), integ.ClientSecret.Reveal())
	if err != nil {
		r.logger.Warn("access token refresh failed",
			zap.String("integration_id", integ.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("refreshing access token: %w", err)
	}

	updated := *integ
	updated.AccessToken = doorlock.NewSecret(token.AccessToken)
	updated.AccessTokenExpiresAt = r.clock.Now().Add(token.ExpiresIn)
	if token.RefreshToken != "" {
		updated.RefreshToken = doorlock.NewSecret(token.RefreshToken)
	}

	if err := r.store.SaveIntegration(ctx, &updated); err != nil {
		return nil, fmt.Errorf("saving refreshed credentials: %w", err)
	}

	r.logger.Info("refreshed access token",
		zap.String("integration_id", updated.ID),
		zap.Time("expires_at", updated.AccessTokenExpiresAt),
	)
	return &updated, nil
}
