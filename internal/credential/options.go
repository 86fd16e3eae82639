package credential

import (
	"time"

	"go.uber.org/zap"

	"github.com/wrale/doorlock-proxy/internal/clock"
)

// Option configures a Refresher
type Option func(*Refresher)

// WithClock sets the time source used for expiry checks
func WithClock(c clock.Clock) Option {
	return func(r *Refresher) {
		r.clock = c
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Refresher) {
		r.logger = l
	}
}

// WithTimeout bounds each upstream refresh and the save that follows it
func WithTimeout(d time.Duration) Option {
	return func(r *Refresher) {
		if d > 0 {
			r.timeout = d
		}
	}
}
