// Package lock serves grant redemption
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wrale/doorlock-proxy/cmd/doorlock-proxy/handlers/common"
	"github.com/wrale/doorlock-proxy/internal/doorlock"
	"github.com/wrale/doorlock-proxy/internal/grant"
	"github.com/wrale/doorlock-proxy/internal/validation"
)

const maxBodyBytes = 4 << 10

// Redeemer checks a grant against a lock
type Redeemer interface {
	Redeem(ctx context.Context, identificationToken, grantToken string) (*doorlock.Lock, error)
}

// Opener actuates a lock
type Opener interface {
	Open(ctx context.Context, lock *doorlock.Lock) (int, error)
}

// OpenHandler processes POST /locks/{token}/open
type OpenHandler struct {
	validator Redeemer
	actuator  Opener
	logger    *zap.Logger
}

// Config contains open handler configuration
type Config struct {
	Validator Redeemer
	Actuator  Opener
	Logger    *zap.Logger
}

type openRequest struct {
	Token string `json:"token"`
}

// New creates an open handler
func New(cfg Config) *OpenHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenHandler{
		validator: cfg.Validator,
		actuator:  cfg.Actuator,
		logger:    logger,
	}
}

// ServeHTTP redeems the grant and opens the lock. Every refusal, including a
// malformed request, is a bare 403 so callers learn nothing about why.
func (h *OpenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identificationToken := chi.URLParam(r, "token")

	var req openRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		forbidden(w)
		return
	}
	if validation.ValidateToken("token", identificationToken) != nil || validation.ValidateToken("token", req.Token) != nil {
		forbidden(w)
		return
	}

	lock, err := h.validator.Redeem(r.Context(), identificationToken, req.Token)
	if err != nil {
		if errors.Is(err, grant.ErrDenied) {
			forbidden(w)
			return
		}
		h.logger.Error("redeeming grant failed", zap.Error(err))
		common.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	status, err := h.actuator.Open(r.Context(), lock)
	if err != nil {
		h.logger.Error("opening lock failed",
			zap.String("lock_id", lock.ID),
			zap.Error(err),
		)
		common.WriteError(w, http.StatusBadGateway, "Hub request failed")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
}

func forbidden(w http.ResponseWriter) {
	common.WriteError(w, http.StatusForbidden, "Forbidden")
}
