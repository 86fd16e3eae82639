package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/wrale/doorlock-proxy/cmd/doorlock-proxy/handlers/health"
	"github.com/wrale/doorlock-proxy/cmd/doorlock-proxy/handlers/integration"
	"github.com/wrale/doorlock-proxy/cmd/doorlock-proxy/handlers/lock"
	"github.com/wrale/doorlock-proxy/internal/actuator"
	"github.com/wrale/doorlock-proxy/internal/credential"
	"github.com/wrale/doorlock-proxy/internal/grant"
	"github.com/wrale/doorlock-proxy/internal/hub"
	"github.com/wrale/doorlock-proxy/internal/identity"
	"github.com/wrale/doorlock-proxy/internal/setup"
	"github.com/wrale/doorlock-proxy/internal/state"
	"github.com/wrale/doorlock-proxy/internal/store"
)

type server struct {
	cfg    Config
	router *chi.Mux
	logger *zap.Logger
}

// dependencies are the long-lived clients main builds from Config
type dependencies struct {
	store    store.Store
	hub      *hub.Client
	codec    *state.Codec
	verifier *identity.Verifier
}

func newServer(cfg Config, deps dependencies, logger *zap.Logger) *server {
	refresher := credential.NewRefresher(deps.store, deps.hub,
		credential.WithTimeout(2*cfg.HubTimeout),
		credential.WithLogger(logger.Named("credential")))
	flow := setup.NewFlow(deps.store, deps.hub, deps.codec,
		setup.WithLogger(logger.Named("setup")))
	validator := grant.NewValidator(deps.store,
		grant.WithLogger(logger.Named("grant")))
	act := actuator.New(deps.store, refresher, deps.hub,
		actuator.WithLogger(logger.Named("actuator")))

	srv := &server{
		cfg:    cfg,
		router: chi.NewRouter(),
		logger: logger,
	}

	srv.router.Use(middleware.RealIP)
	srv.router.Use(requestLogger(logger.Named("http")))
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(middleware.Timeout(cfg.RequestTimeout))

	srv.router.Method(http.MethodGet, "/health",
		health.New(map[string]health.Checker{"store": deps.store}).
			WithVersion(Version).
			WithLogger(logger.Named("health")))

	srv.router.Method(http.MethodGet, "/integration/callback", integration.NewCallback(integration.CallbackConfig{
		Flow:   flow,
		Logger: logger,
	}))

	srv.router.Group(func(r chi.Router) {
		r.Use(identity.Middleware(deps.verifier, logger.Named("identity")))
		r.Method(http.MethodPost, "/integration/setup", integration.NewSetup(integration.SetupConfig{
			Flow:   flow,
			Logger: logger,
		}))
		r.Method(http.MethodGet, "/integration/{id}/locks", integration.NewLocks(integration.LocksConfig{
			Lister: act,
			Logger: logger,
		}))
	})

	srv.router.Method(http.MethodPost, "/locks/{token}/open", lock.New(lock.Config{
		Validator: validator,
		Actuator:  act,
		Logger:    logger,
	}))

	return srv
}
