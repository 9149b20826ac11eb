package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ragchat/internal/api"
	"ragchat/internal/app/bootstrap"
	"ragchat/internal/platform/config"
	applog "ragchat/internal/platform/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	if err := cfg.EnsureDirs(); err != nil {
		applog.Fatalf("❌ Failed to prepare data directories: %v", err)
	}

	applog.Infof("✅ Config loaded (provider: %s, model: %s, embedding: %s/%s, device: %s)",
		cfg.Model.Provider, cfg.Model.Name, cfg.Embedding.Provider, cfg.Embedding.Model, cfg.Device)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Minute)
	pipeline, err := bootstrap.NewPipeline(initCtx, cfg)
	initCancel()
	if err != nil {
		applog.Fatalf("❌ Pipeline initialization failed: %v", err)
	}

	sessions := bootstrap.NewSessionStore(context.Background(), cfg)

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	server := api.NewServer(serverConfig, pipeline, sessions)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Errorf("❌ Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && err.Error() != "http: Server closed" {
		applog.Fatalf("❌ Server error: %v", err)
	}

	applog.Info("👋 Server stopped")
}
