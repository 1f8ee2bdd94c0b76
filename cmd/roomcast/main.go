package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomcast/internal/api"
	"roomcast/internal/config"
	"roomcast/internal/quota"
	"roomcast/internal/room"
	"roomcast/internal/store"
)

// Application coordinates all system components in dependency order:
// store -> quota -> rooms -> API -> HTTP.
type Application struct {
	config     *config.Config
	store      *store.Store
	rooms      *room.Manager
	httpServer *http.Server
}

// NewApplication builds the component graph from a validated configuration.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	messageStore, err := store.Open(&store.Config{
		Path:            cfg.Store.Path,
		MaxConnections:  cfg.Store.MaxConnections,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	quotaService := quota.NewService(messageStore, cfg.Quota.Penalty, cfg.Quota.Grace)

	// Sessions consume quota through HTTP when a remote endpoint is
	// configured, otherwise straight through the in-process service.
	consume := quota.ServiceConsumer(quotaService)
	if cfg.Quota.Endpoint != "" {
		consume = quota.NewClient(cfg.Quota.Endpoint).Consume
	}

	rooms := room.NewManager(ctx, messageStore, consume, room.Options{
		HistoryLimit:      cfg.Room.HistoryLimit,
		BroadcastSelfJoin: cfg.Room.BroadcastSelfJoin,
	})

	apiServer := api.NewServer(rooms, messageStore, quota.NewHandler(quotaService))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      messageStore,
		rooms:      rooms,
		httpServer: httpServer,
	}, nil
}

// Start brings the HTTP listener up and reports early startup failures.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting roomcast on %s", app.httpServer.Addr)

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
		log.Printf("roomcast started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down roomcast")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.rooms.Shutdown()

	if err := app.store.Close(); err != nil {
		log.Printf("Store shutdown error: %v", err)
	}

	log.Printf("roomcast shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.LoadConfigWithPrecedence(os.Getenv("ROOMCAST_CONFIG_FILE"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := NewApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	appErrCh := make(chan error, 1)
	go func() {
		if err := app.Start(ctx); err != nil {
			appErrCh <- err
		}
	}()

	select {
	case err := <-appErrCh:
		return fmt.Errorf("application error: %w", err)
	case sig := <-signalCh:
		log.Printf("Received signal %v, shutting down gracefully", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		return app.Stop(shutdownCtx)
	}
}
