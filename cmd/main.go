package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/pelusa-v/duochat/internal/chat"
	"github.com/pelusa-v/duochat/internal/config"
	"github.com/pelusa-v/duochat/internal/handlers"
	"github.com/pelusa-v/duochat/internal/history"
	"github.com/pelusa-v/duochat/internal/housekeeping"
	"github.com/pelusa-v/duochat/internal/logger"
	"github.com/pelusa-v/duochat/internal/metrics"
	"github.com/pelusa-v/duochat/internal/presence"
	"github.com/pelusa-v/duochat/internal/store"
	"github.com/pelusa-v/duochat/internal/upload"
)

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	configPath := flag.String("config", "./config.yaml", "path to the YAML config file")
	addr := flag.String("addr", "", "listen address, overrides server.addr")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("config_loaded", "path", *configPath, "addr", cfg.Server.Addr, "db_path", cfg.Storage.DBPath)

	if err := run(cfg, log); err != nil {
		log.Error("server_exit", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	st, err := store.Open(cfg.Storage.DBPath, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("store_close_failed", "error", err)
		}
	}()

	uploads, err := upload.New(cfg.Storage.ScratchDir, cfg.Storage.UploadsDir, cfg.Server.PublicPath, log)
	if err != nil {
		return err
	}

	m := metrics.New()
	reg := presence.New()
	hist := history.New(st, cfg.History.PageSize)
	dispatcher := chat.NewDispatcher(st, hist, reg, chat.NewManager(log, m), m, log, chat.Options{
		SendBuffer:   cfg.Client.SendBuffer,
		WriteTimeout: cfg.Client.WriteTimeout.Duration(),
		FrameRPS:     cfg.Client.RPS(),
		FrameBurst:   cfg.Client.FrameBurst,
	})
	app := handlers.New(dispatcher, reg, hist, uploads, m, log, handlers.Options{
		PublicPath:   cfg.Server.PublicPath,
		UploadsDir:   cfg.Storage.UploadsDir,
		MaxBodySize:  cfg.Server.MaxBodySize.Int64(),
		MaxFrameSize: cfg.Client.MaxFrameSize.Int64(),
	}).App()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server_listening", "addr", cfg.Server.Addr)
		return app.Listen(cfg.Server.Addr)
	})

	if cfg.Housekeeping.IsEnabled() {
		runner, err := housekeeping.New(cfg.Housekeeping.Cron, log, m,
			housekeeping.ReapUploads(uploads, cfg.Housekeeping.ScratchRetention.Duration(), m),
			housekeeping.EvictPresence(reg, cfg.Presence.OfflineTTL.Duration()),
		)
		if err != nil {
			return err
		}
		g.Go(func() error { return runner.Start(gctx) })
	} else {
		log.Info("housekeeping_disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown_started")
		dispatcher.Manager().CloseAll()
		return app.ShutdownWithTimeout(20 * time.Second)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("shutdown_complete")
	return nil
}
