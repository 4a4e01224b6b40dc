// Command synctool runs one-off sync cycles and manages platform accounts.
// Every sync it runs uses a fresh browser session that is torn down afterwards.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vdavid/chatsync/internal/config"
	"github.com/vdavid/chatsync/internal/crypto"
	"github.com/vdavid/chatsync/internal/db"
	"github.com/vdavid/chatsync/internal/logging"
	"github.com/vdavid/chatsync/internal/platform"
	"github.com/vdavid/chatsync/internal/syncer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(openBackend)
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openBackend wires the database and an ephemeral reconciler from the environment.
func openBackend(ctx context.Context) (*backend, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.SyncMode = config.ModeEphemeral

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store := db.NewStore(pool, encryptor)

	factory, _ := platform.NewFactoryFromConfig(cfg, logger)
	reconciler := syncer.New(store, syncer.PlatformDrivers(factory), cfg.SyncMode, logger)

	return &backend{
		accounts:        store,
		syncer:          reconciler,
		migrate:         func(ctx context.Context) error { return db.Migrate(ctx, pool) },
		initialDaysBack: cfg.InitialDaysBack,
		close: func() error {
			err := reconciler.Close()
			_ = logger.Sync()
			db.CloseConnection(pool)
			return err
		},
	}, nil
}
