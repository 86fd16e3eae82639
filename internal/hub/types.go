// Package hub talks to a Home Assistant style hub: its OAuth token endpoint and REST API
package hub

import (
	"errors"
	"strings"
	"time"
)

// Common errors returned by the client
var (
	// ErrUpstreamAuth indicates the hub rejected or garbled a token exchange or refresh
	ErrUpstreamAuth = errors.New("hub authorization failed")

	// ErrUpstream indicates a hub API call could not be completed
	ErrUpstream = errors.New("hub request failed")
)

// FeatureOpen is the supported_features bit of lock entities that can be opened
const FeatureOpen = 1

// Token is the result of a token endpoint call
type Token struct {
	AccessToken  string
	RefreshToken string // empty when the hub did not issue one
	ExpiresIn    time.Duration
}

// Entity is one element of the /api/states response
type Entity struct {
	EntityID   string     `json:"entity_id"`
	State      string     `json:"state"`
	Attributes Attributes `json:"attributes"`
}

// Attributes holds the entity attributes this service reads
type Attributes struct {
	FriendlyName      string `json:"friendly_name"`
	SupportedFeatures int    `json:"supported_features"`
}

// OpenableLock reports whether the entity is a lock supporting the open service
func (e Entity) OpenableLock() bool {
	return strings.HasPrefix(e.EntityID, "lock.") && e.Attributes.SupportedFeatures&FeatureOpen != 0
}
