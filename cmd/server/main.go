package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/christopherjohns/groupchat/internal/auth"
	"github.com/christopherjohns/groupchat/internal/config"
	"github.com/christopherjohns/groupchat/internal/logging"
	"github.com/christopherjohns/groupchat/internal/server"
	"github.com/christopherjohns/groupchat/internal/storage"
	"github.com/christopherjohns/groupchat/internal/user"
	"github.com/christopherjohns/groupchat/internal/ws"
	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "groupchat: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := storage.Open(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error(context.Background(), "failed to close storage", "err", err)
		}
	}()

	creds := user.NewCredentialStore(stores.Users, user.NewBcryptHasher(cfg.Auth.BcryptCost))

	hub := ws.NewHub(log,
		ws.WithMaxConns(cfg.Chat.MaxConns),
		ws.WithIdleTimeout(cfg.Chat.IdleTimeout),
		ws.WithSendBuffer(cfg.Chat.SendBuffer),
		ws.WithWriteTimeout(cfg.Chat.WriteTimeout),
	)
	gateway := ws.NewHandler(hub, stores.Messages, log,
		ws.WithHistoryLimit(cfg.Chat.HistoryLimit),
		ws.WithReadLimit(cfg.Chat.ReadLimit),
		ws.WithOriginPatterns(cfg.HTTP.AllowedOrigins...),
	)

	srv := server.New(cfg.HTTP, hub, gateway, auth.NewHandler(creds, log), log)

	log.Info(ctx, "starting groupchat", "addr", cfg.HTTP.Addr, "storage", stores.Driver)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	log.Info(context.Background(), "stopped")
	return nil
}
