package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/api"
	"github.com/vdavid/chatsync/internal/auth"
	"github.com/vdavid/chatsync/internal/config"
	"github.com/vdavid/chatsync/internal/crypto"
	"github.com/vdavid/chatsync/internal/db"
	"github.com/vdavid/chatsync/internal/logging"
	"github.com/vdavid/chatsync/internal/platform"
	"github.com/vdavid/chatsync/internal/scheduler"
	"github.com/vdavid/chatsync/internal/syncer"
	ws "github.com/vdavid/chatsync/internal/websocket"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.CloseConnection(pool)

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}
	logger.Info("database ready")

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return fmt.Errorf("failed to create encryptor: %w", err)
	}
	store := db.NewStore(pool, encryptor)

	factory, browserPool := platform.NewFactoryFromConfig(cfg, logger)
	reconciler := syncer.New(store, syncer.PlatformDrivers(factory), cfg.SyncMode, logger)
	hub := ws.NewHub(10, logger)
	sched := scheduler.New(reconciler, store, hub, scheduler.ConfigFrom(cfg), logger)

	if cfg.APIToken == "" {
		logger.Warn("CHATSYNC_API_TOKEN is not set, the API will reject every request")
	}
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewServer(cfg, store, sched, hub, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("chatsync server starting",
			zap.String("address", server.Addr),
			zap.String("environment", cfg.Environment),
			zap.String("sync_mode", string(cfg.SyncMode)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := sched.Stop(); err != nil {
		logger.Warn("failed to close browser sessions", zap.Error(err))
	}
	if browserPool != nil {
		browserPool.Close()
	}
	return runErr
}

// NewServer creates and returns a new HTTP handler for the chatsync API server.
func NewServer(cfg *config.Config, accounts api.AccountReader, runner api.SyncRunner, hub *ws.Hub, logger *zap.Logger) http.Handler {
	logger = logging.OrNop(logger)
	authenticator := auth.NewAuthenticator(cfg.APIToken, logger)

	syncHandler := api.NewSyncHandler(runner, accounts, logger)
	accountsHandler := api.NewAccountsHandler(accounts, logger)
	wsHandler := api.NewWebSocketHandler(hub, authenticator, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", handleRoot)

	mux.Handle("POST /api/v1/accounts/{id}/sync", authenticator.RequireAuth(http.HandlerFunc(syncHandler.TriggerSync)))
	mux.Handle("GET /api/v1/accounts/{id}", authenticator.RequireAuth(http.HandlerFunc(accountsHandler.GetAccount)))
	// WebSocket handler handles its own authentication via query parameter
	// (since browsers can't set headers on WebSocket connections).
	mux.HandleFunc("GET /api/v1/ws", wsHandler.Handle)

	return mux
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "chatsync API is running")
}
