package integration

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/wrale/doorlock-proxy/cmd/doorlock-proxy/handlers/common"
	"github.com/wrale/doorlock-proxy/internal/doorlock"
	"github.com/wrale/doorlock-proxy/internal/hub"
	"github.com/wrale/doorlock-proxy/internal/state"
	"github.com/wrale/doorlock-proxy/internal/validation"
)

// CompleteFlow finishes the authorization-code flow
type CompleteFlow interface {
	Complete(ctx context.Context, state, code string) (string, error)
}

// CallbackHandler processes GET /integration/callback
type CallbackHandler struct {
	flow   CompleteFlow
	logger *zap.Logger
}

// CallbackConfig contains callback handler configuration
type CallbackConfig struct {
	Flow   CompleteFlow
	Logger *zap.Logger
}

// NewCallback creates a callback handler
func NewCallback(cfg CallbackConfig) *CallbackHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallbackHandler{flow: cfg.Flow, logger: logger}
}

// ServeHTTP exchanges the code and redirects to the frontend callback
func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	stateValue, code := query.Get("state"), query.Get("code")
	if err := validation.ValidateRequired("state", stateValue); err != nil {
		common.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.ValidateRequired("code", code); err != nil {
		common.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	redirect, err := h.flow.Complete(r.Context(), stateValue, code)
	switch {
	case err == nil:
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, redirect, http.StatusTemporaryRedirect)
	case errors.Is(err, state.ErrInvalidState):
		common.WriteError(w, http.StatusBadRequest, "Invalid state")
	case errors.Is(err, doorlock.ErrNotFound):
		common.WriteError(w, http.StatusNotFound, "Integration not found")
	case errors.Is(err, hub.ErrUpstreamAuth):
		h.logger.Warn("code exchange rejected", zap.Error(err))
		common.WriteError(w, http.StatusBadGateway, "Authorization with the hub failed")
	default:
		h.logger.Error("completing setup failed", zap.Error(err))
		common.WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}
