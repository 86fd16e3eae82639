// Package identity authenticates end users by bearer JWT
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/wrale/doorlock-proxy/internal/clock"
)

// ErrUnauthenticated indicates a missing, malformed or invalid bearer token
var ErrUnauthenticated = errors.New("unauthenticated")

// DefaultLeeway tolerates clock skew between issuer and verifier
const DefaultLeeway = time.Minute

// User is the authenticated caller
type User struct {
	ID string
}

// Verifier checks HS256 bearer tokens issued by the identity provider
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	clock  clock.Clock
}

// Option configures a Verifier
type Option func(*Verifier)

// WithIssuer requires the iss claim to match issuer
func WithIssuer(issuer string) Option {
	return func(v *Verifier) {
		v.issuer = issuer
	}
}

// WithClock sets the time source for expiry checks
func WithClock(c clock.Clock) Option {
	return func(v *Verifier) {
		v.clock = c
	}
}

// NewVerifier creates a Verifier for tokens signed with secret
func NewVerifier(secret []byte, opts ...Option) (*Verifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	v := &Verifier{
		secret: secret,
		leeway: DefaultLeeway,
		clock:  clock.Real(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify validates raw and returns the user named by its subject
func (v *Verifier) Verify(raw string) (*User, error) {
	parsed, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: parse token: %v", ErrUnauthenticated, err)
	}

	var claims jwt.Claims
	if err := parsed.Claims(v.secret, &claims); err != nil {
		return nil, fmt.Errorf("%w: verify token: %v", ErrUnauthenticated, err)
	}

	expected := jwt.Expected{Issuer: v.issuer, Time: v.clock.Now()}
	if err := claims.ValidateWithLeeway(expected, v.leeway); err != nil {
		return nil, fmt.Errorf("%w: validate claims: %v", ErrUnauthenticated, err)
	}
	if claims.Expiry == nil {
		return nil, fmt.Errorf("%w: token has no expiry", ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	return &User{ID: claims.Subject}, nil
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying user
func NewContext(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// FromContext returns the user stored by the middleware
func FromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(contextKey{}).(*User)
	return user, ok && user != nil
}
