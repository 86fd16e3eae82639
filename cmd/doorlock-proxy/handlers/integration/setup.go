// Package integration serves the hub setup and lock listing endpoints
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/wrale/doorlock-proxy/cmd/doorlock-proxy/handlers/common"
	"github.com/wrale/doorlock-proxy/internal/doorlock"
	"github.com/wrale/doorlock-proxy/internal/identity"
	"github.com/wrale/doorlock-proxy/internal/setup"
	"github.com/wrale/doorlock-proxy/internal/validation"
)

const maxBodyBytes = 64 << 10

// SetupFlow starts the authorization-code flow
type SetupFlow interface {
	Begin(ctx context.Context, req setup.Request) (string, error)
}

// SetupHandler processes POST /integration/setup
type SetupHandler struct {
	flow   SetupFlow
	logger *zap.Logger
}

// SetupConfig contains setup handler configuration
type SetupConfig struct {
	Flow   SetupFlow
	Logger *zap.Logger
}

type setupRequest struct {
	BaseURL          string `json:"baseURL"`
	FrontendCallback string `json:"frontendCallback"`
	ClientSecret     string `json:"clientSecret"`
}

type setupResponse struct {
	AuthURL string `json:"authUrl"`
}

// NewSetup creates a setup handler
func NewSetup(cfg SetupConfig) *SetupHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SetupHandler{flow: cfg.Flow, logger: logger}
}

// ServeHTTP registers the hub and replies with the authorization URL
func (h *SetupHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		common.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req setupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		common.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validation.ValidateBaseURL(req.BaseURL); err != nil {
		common.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.ValidateCallbackURL(req.FrontendCallback); err != nil {
		common.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	authURL, err := h.flow.Begin(r.Context(), setup.Request{
		BaseURL:          req.BaseURL,
		FrontendCallback: req.FrontendCallback,
		ClientSecret:     req.ClientSecret,
		Owner:            user.ID,
	})
	switch {
	case errors.Is(err, setup.ErrAlreadyConfigured):
		common.WriteJSON(w, http.StatusOK, common.ErrorResponse{Message: "Already setup"})
	case errors.Is(err, doorlock.ErrForbidden):
		common.WriteError(w, http.StatusForbidden, "Forbidden")
	case err != nil:
		h.logger.Error("beginning setup failed", zap.Error(err))
		common.WriteError(w, http.StatusInternalServerError, "Internal server error")
	default:
		common.WriteJSON(w, http.StatusCreated, setupResponse{AuthURL: authURL})
	}
}
