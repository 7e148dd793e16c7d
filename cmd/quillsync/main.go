package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/quillworks/quillsync/internal/config"
	"github.com/quillworks/quillsync/internal/crypto"
	"github.com/quillworks/quillsync/internal/engine"
	"github.com/quillworks/quillsync/internal/logging"
	"github.com/quillworks/quillsync/internal/pathdb"
	"github.com/quillworks/quillsync/internal/remote"
	"github.com/quillworks/quillsync/internal/vaultfs"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.WithWorkspace(logging.NewLogger(cfg.Environment), cfg.WorkspaceID)
	logger.Info("quillsync starting",
		slog.String("version", Version),
		slog.String("workspace_dir", cfg.WorkspaceDir),
		slog.Bool("updates", cfg.EnableUpdates),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pathdb.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading path database: %w", err)
	}
	defer db.Close()

	if err := db.InitWorkspace(cfg.WorkspaceID); err != nil {
		return fmt.Errorf("initializing workspace buckets: %w", err)
	}

	workspace, err := vaultfs.New(cfg.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("opening workspace: %w", err)
	}

	filter, err := engine.LoadIgnoreFilter(cfg.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("loading ignore rules: %w", err)
	}

	logger.Info("deriving encryption key")

	key, err := crypto.DeriveKey(cfg.Password, cfg.Salt)
	if err != nil {
		return fmt.Errorf("deriving key: %w", err)
	}

	keyHash := crypto.KeyHash(key)
	logger.Debug("key derived", slog.String("keyhash_prefix", keyHash[:16]))

	cipher, err := crypto.NewCipher(key)
	if err != nil {
		return fmt.Errorf("creating cipher: %w", err)
	}

	crypto.ZeroKey(key)

	store := remote.NewClient(remote.ClientConfig{
		BaseURL:     cfg.RemoteURL,
		Token:       cfg.Token,
		WorkspaceID: cfg.WorkspaceID,
		KeyHash:     keyHash,
	}, cipher)

	eng := engine.New(engine.Config{
		WorkspaceID: cfg.WorkspaceID,
		Logger:      logger,
		DB:          db,
		Store:       store,
		FS:          workspace,
		Filter:      filter,
	})

	watcher := engine.NewWatcher(cfg.WorkspaceDir, filter, logger, eng.Trigger)
	eng.SetWatcher(watcher)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Run(gctx, cfg.SyncInterval)
	})

	g.Go(func() error {
		return watcher.Run(gctx)
	})

	if cfg.EnableUpdates {
		listener := remote.NewListener(cfg.RemoteURL, cfg.Token, cfg.WorkspaceID, logger, eng.NotifyRemoteUpdate)
		g.Go(func() error {
			return listener.Run(gctx)
		})
	}

	err = g.Wait()
	if err != nil && ctx.Err() != nil {
		logger.Info("quillsync stopped")
		return nil
	}

	return err
}
