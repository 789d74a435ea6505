package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"cmelive/internal/access"
	"cmelive/internal/api"
	"cmelive/internal/auth"
	"cmelive/internal/config"
	"cmelive/internal/database"
	"cmelive/internal/gateway"
	"cmelive/internal/room"
	"cmelive/internal/scheduler"
	pkgdatabase "cmelive/pkg/database"
)

// Application wires all components and owns their lifecycle.
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	registry   *room.Registry
	gateway    *gateway.Gateway
	scheduler  *scheduler.Scheduler
	httpServer *http.Server
}

// NewApplication builds the component graph in dependency order:
// database, auth, access, registry, gateway, API, scheduler, HTTP.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	verifier := auth.NewVerifier(dbManager, []byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	resolver := access.NewResolver(dbManager)
	registry := room.NewRegistry(cfg.Room.ChatHistoryLimit)

	gw := gateway.NewGateway(verifier, resolver, dbManager, registry, cfg.WebSocket)
	apiServer := api.NewServer(dbManager, dbManager, verifier, registry, dbManager, gw.HandleWebSocket)
	sched := scheduler.NewScheduler(dbManager, cfg.Scheduler.Interval)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		registry:   registry,
		gateway:    gw,
		scheduler:  sched,
		httpServer: httpServer,
	}, nil
}

// Start launches the scheduler and the HTTP server, returning once the
// server has begun accepting connections.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting cmelive on %s", app.httpServer.Addr)

	app.scheduler.Start(ctx)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.scheduler.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("cmelive started")
		return nil
	case <-ctx.Done():
		app.scheduler.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order: HTTP, scheduler,
// database.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down cmelive")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.scheduler.Stop()

	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("cmelive shutdown complete")
	return nil
}
