package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"coachwire/internal/api"
	"coachwire/internal/assessment"
	"coachwire/internal/config"
	"coachwire/internal/gateway"
	"coachwire/internal/pipeline"
	"coachwire/internal/registry"
	"coachwire/internal/store"
	"coachwire/pkg/interfaces"
)

// Application wires the components in dependency order:
// Store -> Pipeline -> Registry -> Assessor -> API + Gateway -> HTTP.
type Application struct {
	config     *config.Config
	store      interfaces.SessionStore
	pipeline   *pipeline.Pipeline
	registry   *registry.Registry
	assessor   *assessment.Assessor
	apiServer  *api.Server
	httpServer *http.Server
	log        *logrus.Entry
}

func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sessionStore, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	pl := pipeline.FromConfig(cfg.Pipeline)
	reg := registry.New(pl, sessionStore, cfg.Session.IdleExpiry)
	assessor := assessment.New(pl, sessionStore)

	apiServer := api.NewServer(sessionStore, reg, assessor)
	wsHandler := gateway.NewHandler(reg, sessionStore, cfg.WebSocket)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.Handle("/ws", wsHandler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      sessionStore,
		pipeline:   pl,
		registry:   reg,
		assessor:   assessor,
		apiServer:  apiServer,
		httpServer: httpServer,
		log:        logrus.WithField("component", "app"),
	}, nil
}

// Start brings the HTTP server up and verifies it bound before returning.
func (app *Application) Start(ctx context.Context) error {
	app.log.WithField("addr", app.httpServer.Addr).Info("starting")

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info("started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order:
// HTTP -> Registry -> Store.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("shutting down")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.WithError(err).Warn("HTTP server shutdown error")
	}

	app.registry.Close()

	if err := app.store.Close(); err != nil {
		app.log.WithError(err).Warn("store shutdown error")
	}

	app.log.Info("shutdown complete")
	return nil
}

// Addr returns the bound server address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
