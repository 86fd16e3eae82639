package integration

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wrale/doorlock-proxy/cmd/doorlock-proxy/handlers/common"
	"github.com/wrale/doorlock-proxy/internal/actuator"
	"github.com/wrale/doorlock-proxy/internal/doorlock"
	"github.com/wrale/doorlock-proxy/internal/hub"
	"github.com/wrale/doorlock-proxy/internal/identity"
)

// LockLister lists openable locks of an integration
type LockLister interface {
	ListOpenable(ctx context.Context, integrationID, caller string) ([]actuator.LockSummary, error)
}

// LocksHandler processes GET /integration/{id}/locks
type LocksHandler struct {
	lister LockLister
	logger *zap.Logger
}

// LocksConfig contains locks handler configuration
type LocksConfig struct {
	Lister LockLister
	Logger *zap.Logger
}

// NewLocks creates a locks handler
func NewLocks(cfg LocksConfig) *LocksHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocksHandler{lister: cfg.Lister, logger: logger}
}

// ServeHTTP lists the openable locks for the integration's owner
func (h *LocksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		common.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	integrationID := chi.URLParam(r, "id")
	locks, err := h.lister.ListOpenable(r.Context(), integrationID, user.ID)
	switch {
	case err == nil:
		common.WriteJSON(w, http.StatusOK, locks)
	case errors.Is(err, doorlock.ErrForbidden):
		common.WriteError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, doorlock.ErrNotFound):
		common.WriteError(w, http.StatusNotFound, "Integration not found")
	case errors.Is(err, doorlock.ErrSetupPending):
		common.WriteError(w, http.StatusConflict, "Integration setup pending")
	case errors.Is(err, hub.ErrUpstream), errors.Is(err, hub.ErrUpstreamAuth):
		h.logger.Warn("listing locks failed upstream",
			zap.String("integration_id", integrationID),
			zap.Error(err),
		)
		common.WriteError(w, http.StatusBadGateway, "Hub request failed")
	default:
		h.logger.Error("listing locks failed",
			zap.String("integration_id", integrationID),
			zap.Error(err),
		)
		common.WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}
