// Package setup runs the authorization-code flow that connects a hub
package setup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wrale/doorlock-proxy/internal/clock"
	"github.com/wrale/doorlock-proxy/internal/doorlock"
	"github.com/wrale/doorlock-proxy/internal/hub"
	"github.com/wrale/doorlock-proxy/internal/state"
)

// Store is the subset of store.Store the flow needs
type Store interface {
	GetIntegrationByBaseURL(ctx context.Context, baseURL string) (*doorlock.Integration, error)
	FindOrCreateIntegration(ctx context.Context, candidate *doorlock.Integration) (*doorlock.Integration, bool, error)
	SaveIntegration(ctx context.Context, integration *doorlock.Integration) error
}

// HubClient builds authorization URLs and exchanges codes
type HubClient interface {
	AuthorizeURL(baseURL, state string) string
	ExchangeCode(ctx context.Context, baseURL, code, clientSecret string) (*hub.Token, error)
}

// StateCodec signs and verifies the state parameter
type StateCodec interface {
	Encode(p state.Payload) (string, error)
	Decode(value string) (state.Payload, error)
}

// Request starts setup for one hub
type Request struct {
	BaseURL          string
	FrontendCallback string
	ClientSecret     string // optional; the owner may replace it until setup completes
	Owner            string
}

// Flow implements setup begin and completion
type Flow struct {
	store  Store
	hub    HubClient
	codec  StateCodec
	clock  clock.Clock
	logger *zap.Logger
}

// Option configures a Flow
type Option func(*Flow)

// WithClock sets the time source used to compute token expiry
func WithClock(c clock.Clock) Option {
	return func(f *Flow) {
		f.clock = c
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(f *Flow) {
		f.logger = l
	}
}

// NewFlow creates a setup flow
func NewFlow(store Store, client HubClient, codec StateCodec, opts ...Option) *Flow {
	f := &Flow{
		store:  store,
		hub:    client,
		codec:  codec,
		clock:  clock.Real(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Begin registers the hub if needed and returns the URL the user must visit to
// authorize this service. Returns ErrAlreadyConfigured once setup has completed
// and doorlock.ErrForbidden when another owner registered the hub first.
func (f *Flow) Begin(ctx context.Context, req Request) (string, error) {
	integ, created, err := f.store.FindOrCreateIntegration(ctx, &doorlock.Integration{
		Owner:        req.Owner,
		BaseURL:      doorlock.NormalizeBaseURL(req.BaseURL),
		ClientSecret: doorlock.NewSecret(req.ClientSecret),
	})
	if err != nil {
		return "", fmt.Errorf("registering integration: %w", err)
	}

	if integ.Configured() {
		return "", ErrAlreadyConfigured
	}
	if integ.Owner != req.Owner {
		return "", doorlock.ErrForbidden
	}

	if created {
		f.logger.Info("integration registered",
			zap.String("integration_id", integ.ID),
			zap.String("base_url", integ.BaseURL),
		)
	} else if req.ClientSecret != "" && req.ClientSecret != integ.ClientSecret.Reveal() {
		integ.ClientSecret = doorlock.NewSecret(req.ClientSecret)
		if err := f.store.SaveIntegration(ctx, integ); err != nil {
			return "", fmt.Errorf("updating client secret: %w", err)
		}
		f.logger.Info("pending integration client secret replaced",
			zap.String("integration_id", integ.ID),
		)
	}

	value, err := f.codec.Encode(state.Payload{
		BaseURL:          integ.BaseURL,
		FrontendCallback: req.FrontendCallback,
	})
	if err != nil {
		return "", fmt.Errorf("encoding state: %w", err)
	}

	return f.hub.AuthorizeURL(integ.BaseURL, value), nil
}

// Complete handles the authorization callback: it exchanges code for the
// initial tokens, persists them and returns the frontend URL to redirect to.
// Nothing is persisted when the exchange fails.
func (f *Flow) Complete(ctx context.Context, stateValue, code string) (string, error) {
	payload, err := f.codec.Decode(stateValue)
	if err != nil {
		return "", fmt.Errorf("decoding state: %w", err)
	}

	integ, err := f.store.GetIntegrationByBaseURL(ctx, payload.BaseURL)
	if err != nil {
		if errors.Is(err, doorlock.ErrNotFound) {
			return "", fmt.Errorf("integration for %s: %w", payload.BaseURL, err)
		}
		return "", fmt.Errorf("loading integration: %w", err)
	}

	token, err := f.hub.ExchangeCode(ctx, integ.BaseURL, code, integ.ClientSecret.Reveal())
	if err != nil {
		f.logger.Warn("authorization code exchange failed",
			zap.String("integration_id", integ.ID),
			zap.Error(err),
		)
		return "", err
	}

	integ.AccessToken = doorlock.NewSecret(token.AccessToken)
	integ.RefreshToken = doorlock.NewSecret(token.RefreshToken)
	integ.AccessTokenExpiresAt = f.clock.Now().Add(token.ExpiresIn)

	if err := f.store.SaveIntegration(ctx, integ); err != nil {
		return "", fmt.Errorf("saving credentials: %w", err)
	}

	f.logger.Info("integration configured",
		zap.String("integration_id", integ.ID),
		zap.Time("expires_at", integ.AccessTokenExpiresAt),
	)
	return payload.FrontendCallback, nil
}
