// Package state encodes the OAuth state parameter carried through the hub's
// authorization redirect
package state

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wrale/doorlock-proxy/internal/clock"
)

// ErrInvalidState indicates a state value that is malformed, tampered with or too old
var ErrInvalidState = errors.New("invalid state")

// DefaultMaxAge bounds how long an authorization round trip may take
const DefaultMaxAge = time.Hour

// Payload is the data carried in the state parameter
type Payload struct {
	BaseURL          string `json:"base_url"`
	FrontendCallback string `json:"frontend_callback"`
}

type envelope struct {
	Payload
	IssuedAt int64 `json:"iat"`
}

// Codec signs and verifies state values. The signature only keeps a forged
// callback from steering the redirect; it authenticates nobody.
type Codec struct {
	secret []byte
	maxAge time.Duration
	clock  clock.Clock
}

// Option configures a Codec
type Option func(*Codec)

// WithMaxAge overrides DefaultMaxAge
func WithMaxAge(d time.Duration) Option {
	return func(c *Codec) {
		c.maxAge = d
	}
}

// WithClock sets the time source
func WithClock(cl clock.Clock) Option {
	return func(c *Codec) {
		c.clock = cl
	}
}

// NewCodec creates a Codec signing with secret
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("state secret must be at least 32 bytes")
	}
	c := &Codec{
		secret: secret,
		maxAge: DefaultMaxAge,
		clock:  clock.Real(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Encode returns a URL-safe state value for p
func (c *Codec) Encode(p Payload) (string, error) {
	data, err := json.Marshal(envelope{Payload: p, IssuedAt: c.clock.Now().Unix()})
	if err != nil {
		return "", fmt.Errorf("encoding state: %w", err)
	}

	body := base64.RawURLEncoding.EncodeToString(data)
	return body + "." + base64.RawURLEncoding.EncodeToString(c.sign(body)), nil
}

// Decode verifies value and returns the payload it carries
func (c *Codec) Decode(value string) (Payload, error) {
	body, sig, ok := strings.Cut(value, ".")
	if !ok || body == "" || sig == "" {
		return Payload{}, ErrInvalidState
	}

	actualSig, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return Payload{}, ErrInvalidState
	}
	if !hmac.Equal(c.sign(body), actualSig) {
		return Payload{}, ErrInvalidState
	}

	data, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Payload{}, ErrInvalidState
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if env.BaseURL == "" || env.FrontendCallback == "" {
		return Payload{}, fmt.Errorf("%w: incomplete payload", ErrInvalidState)
	}

	issued := time.Unix(env.IssuedAt, 0)
	if c.clock.Now().Sub(issued) > c.maxAge {
		return Payload{}, fmt.Errorf("%w: expired", ErrInvalidState)
	}

	return env.Payload, nil
}

func (c *Codec) sign(body string) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(body))
	return h.Sum(nil)
}
