// Package grant decides whether a bearer grant may open a lock
package grant

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wrale/doorlock-proxy/internal/clock"
	"github.com/wrale/doorlock-proxy/internal/doorlock"
	"github.com/wrale/doorlock-proxy/internal/store"
)

// ErrDenied is returned for every refused redemption. The reason is logged, never returned.
var ErrDenied = errors.New("grant denied")

// Store is the subset of store.Store the validator needs
type Store interface {
	GetLockByIdentificationToken(ctx context.Context, token string) (*doorlock.Lock, error)
	GetGrantByToken(ctx context.Context, token string) (*doorlock.Grant, error)
	ConsumeGrantUse(ctx context.Context, grantID string) (int, error)
}

// Validator admits or refuses grant redemptions
type Validator struct {
	store  Store
	clock  clock.Clock
	logger *zap.Logger
}

// Option configures a Validator
type Option func(*Validator)

// WithClock sets the time source for window checks
func WithClock(c clock.Clock) Option {
	return func(v *Validator) {
		v.clock = c
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) {
		v.logger = l
	}
}

// NewValidator creates a Validator
func NewValidator(s Store, opts ...Option) *Validator {
	v := &Validator{
		store:  s,
		clock:  clock.Real(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Redeem checks grantToken against the lock identified by identificationToken
// and returns the lock when the redemption is admitted. Admitting a limited
// grant consumes one use before the caller opens the lock; the use is not
// given back if opening fails. Store failures other than missing records are
// returned wrapped so callers can tell them apart from a denial.
func (v *Validator) Redeem(ctx context.Context, identificationToken, grantToken string) (*doorlock.Lock, error) {
	lock, err := v.store.GetLockByIdentificationToken(ctx, identificationToken)
	if err != nil {
		return nil, v.deny(err, "unknown lock")
	}

	g, err := v.store.GetGrantByToken(ctx, grantToken)
	if err != nil {
		return nil, v.deny(err, "unknown grant", zap.String("lock_id", lock.ID))
	}

	fields := []zap.Field{zap.String("lock_id", lock.ID), zap.String("grant_id", g.ID)}

	if g.LockID != lock.ID {
		return nil, v.deny(nil, "grant belongs to another lock", fields...)
	}

	now := v.clock.Now()
	if !g.Within(now) {
		return nil, v.deny(nil, "outside validity window",
			append(fields, zap.Time("not_before", g.NotBefore), zap.Time("not_after", g.NotAfter))...)
	}

	if !g.HasUsesLeft() {
		return nil, v.deny(nil, "usage exhausted", fields...)
	}

	if !g.Unlimited() {
		remaining, err := v.store.ConsumeGrantUse(ctx, g.ID)
		if err != nil {
			if errors.Is(err, store.ErrExhausted) {
				return nil, v.deny(nil, "usage exhausted by concurrent redemption", fields...)
			}
			return nil, fmt.Errorf("consuming grant use: %w", err)
		}
		fields = append(fields, zap.Int("remaining_uses", remaining))
	}

	v.logger.Debug("grant admitted", fields...)
	return lock, nil
}

// deny logs reason and returns ErrDenied. Missing records are denials; any
// other lookup error is surfaced.
func (v *Validator) deny(err error, reason string, fields ...zap.Field) error {
	if err != nil && !errors.Is(err, doorlock.ErrNotFound) {
		return fmt.Errorf("checking grant: %w", err)
	}
	v.logger.Debug("grant denied", append(fields, zap.String("reason", reason))...)
	return ErrDenied
}
