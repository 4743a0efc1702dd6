package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"realtime-chat/internal/auth"
	"realtime-chat/internal/config"
	"realtime-chat/internal/database"
	"realtime-chat/internal/handlers"
	"realtime-chat/internal/notify"
	"realtime-chat/internal/presence"
	"realtime-chat/internal/services"
	"realtime-chat/internal/websocket"
	"realtime-chat/pkg/logger"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat server",
	RunE:  runServe,
}

type notifier interface {
	websocket.Notifier
	Close() error
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.NewPostgresDB(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	// Initialize presence
	store, closeStore, err := newPresenceStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// Initialize message hand-off
	var msgNotifier notifier = notify.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		msgNotifier = notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		logger.Info("Publishing messages to Kafka topic %s", cfg.Kafka.Topic)
	}
	defer func() {
		if err := msgNotifier.Close(); err != nil {
			logger.Error("Failed to close notifier: %v", err)
		}
	}()

	// Initialize services
	authService := auth.NewService(db, cfg.JWT)
	registry := websocket.NewRegistry()
	presenceService := services.NewPresenceService(store, registry)

	// Initialize WebSocket gateway
	gateway := websocket.NewGateway(websocket.Deps{
		Verifier: authService,
		Rooms:    registry,
		Presence: store,
		Messages: db,
		Notifier: msgNotifier,
	}, websocket.Options{
		WriteWait:       cfg.WebSocket.WriteWait,
		PongWait:        cfg.WebSocket.PongWait,
		PingPeriod:      cfg.WebSocket.PingPeriod,
		SendBuffer:      cfg.WebSocket.SendBuffer,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		RatePerSecond:   cfg.WebSocket.RatePerSecond,
		RateBurst:       cfg.WebSocket.RateBurst,
		PresenceRefresh: cfg.Presence.RefreshInterval,
		PersistTimeout:  cfg.Database.PersistTimeout,
	})

	// Initialize handlers
	wsHandlers := handlers.NewWebSocketHandlers(gateway, cfg.Server.AllowedOrigins)
	presenceHandlers := handlers.NewPresenceHandlers(presenceService, authService)
	healthHandlers := handlers.NewHealthHandlers(gateway)
	var adminHandlers *handlers.AdminHandlers
	if cfg.Admin.Token != "" {
		adminHandlers = handlers.NewAdminHandlers(gateway, cfg.Admin.Token)
	}

	// Setup routes
	mux := http.NewServeMux()
	setupRoutes(mux, wsHandlers, presenceHandlers, healthHandlers, adminHandlers)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("🚀 Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("📡 WebSocket endpoint: ws://localhost%s/ws/{room_id}", cfg.Server.Port)
	printAPIEndpoints(adminHandlers != nil)

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal to gracefully shutdown
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error: %v", err)
	}
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.Error("Gateway shutdown error: %v", err)
	}
	return nil
}

// newPresenceStore picks Redis when REDIS_URL is set and process memory
// otherwise.
func newPresenceStore(ctx context.Context, cfg *config.Config) (presence.Store, func(), error) {
	if cfg.Redis.URL == "" {
		store := presence.NewMemoryStore(
			presence.WithTTL(cfg.Presence.TTL),
			presence.WithSweepInterval(cfg.Presence.SweepInterval),
		)
		logger.Info("Using in-memory presence store")
		return store, func() { _ = store.Close() }, nil
	}

	rdb, err := presence.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Using Redis presence store")
	return presence.NewRedisStore(rdb, cfg.Presence.TTL), func() { _ = rdb.Close() }, nil
}

func setupRoutes(mux *http.ServeMux, wsHandlers *handlers.WebSocketHandlers, presenceHandlers *handlers.PresenceHandlers, healthHandlers *handlers.HealthHandlers, adminHandlers *handlers.AdminHandlers) {
	// WebSocket routes
	mux.HandleFunc("GET /ws", wsHandlers.HandleWebSocket)
	mux.HandleFunc("GET /ws/{room_id}", wsHandlers.HandleWebSocket)

	// Presence routes
	mux.HandleFunc("GET /users/online", presenceHandlers.ListOnline)
	mux.HandleFunc("GET /users/online/{user_id}", presenceHandlers.UserStatus)
	mux.HandleFunc("GET /rooms/{room_id}/active", presenceHandlers.RoomRoster)

	// Admin routes
	if adminHandlers != nil {
		mux.HandleFunc("POST /admin/users/{user_id}/disconnect", adminHandlers.DisconnectUser)
	}

	mux.HandleFunc("GET /health", healthHandlers.Health)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func printAPIEndpoints(admin bool) {
	logger.Info("🔗 API endpoints:")
	logger.Info("   GET  /ws/{room_id}?token=")
	logger.Info("   GET  /users/online")
	logger.Info("   GET  /users/online/{user_id}")
	logger.Info("   GET  /rooms/{room_id}/active")
	if admin {
		logger.Info("   POST /admin/users/{user_id}/disconnect")
	}
	logger.Info("   GET  /health")
}
