package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"relayd/internal/api"
	"relayd/internal/config"
	"relayd/internal/presence"
	"relayd/internal/ratelimit"
	"relayd/internal/relay"
	"relayd/internal/routecache"
	"relayd/internal/websocket"
)

const version = "2.0.0"

// Application coordinates all relay components with explicit dependency
// injection. Initialization order: registry, limiter, route cache, channels,
// router, websocket handler, API, HTTP server.
type Application struct {
	config     *config.Config
	registry   *presence.Registry
	limiter    *ratelimit.Limiter
	routes     *routecache.Cache
	channels   *websocket.Channels
	router     *relay.Router
	apiServer  *api.Server
	httpServer *http.Server
	logger     zerolog.Logger

	cancelBackground context.CancelFunc
}

// NewApplication validates the configuration and wires every component.
func NewApplication(cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	registry := presence.NewRegistry()
	limiter := ratelimit.NewLimiter()
	routes := routecache.NewCache(cfg.RouteCache.TTL, cfg.RouteCache.MaxEntries)
	channels := websocket.NewChannels()

	router := relay.NewRouter(registry, limiter, routes, channels, cfg.Privacy, logger)
	wsHandler := websocket.NewHandler(channels, router, cfg.WebSocket, logger)
	apiServer := api.NewServer(registry, cfg.Privacy, version, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)
	mux.Handle("/health", apiServer)
	mux.Handle("/users/", apiServer)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		registry:   registry,
		limiter:    limiter,
		routes:     routes,
		channels:   channels,
		router:     router,
		apiServer:  apiServer,
		httpServer: httpServer,
		logger:     logger,
	}, nil
}

// Start launches the background maintenance loops and the HTTP server, and
// verifies the server came up before returning.
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info().
		Str("addr", app.httpServer.Addr).
		Bool("tls", app.config.TLS.Enabled()).
		Bool("privacy", app.config.Privacy).
		Str("version", version).
		Msg("starting relay")

	bgCtx, cancel := context.WithCancel(context.Background())
	app.cancelBackground = cancel

	go app.routes.StartSweeper(bgCtx, app.config.RouteCache.SweepInterval)
	go app.limiter.StartCleanup(bgCtx, time.Minute)

	serverErrCh := make(chan error, 1)
	go func() {
		var err error
		if app.config.TLS.Enabled() {
			err = app.httpServer.ListenAndServeTLS(app.config.TLS.CertFile, app.config.TLS.KeyFile)
		} else {
			err = app.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		cancel()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info().Msg("relay started")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Stop shuts the HTTP server down gracefully and stops the background loops.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info().Msg("shutting down relay")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if app.cancelBackground != nil {
		app.cancelBackground()
	}

	app.logger.Info().Msg("relay shutdown complete")
	return nil
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("relay exited")
	}
}

func run(logger zerolog.Logger) error {
	configPath := os.Getenv("RELAY_CONFIG_FILE")
	cfg := config.LoadConfigWithPrecedence(configPath)

	app, err := NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		return app.Stop(shutdownCtx)
	}
}
