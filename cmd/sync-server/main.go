package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"possync/internal/config"
	"possync/internal/logging"
	"possync/internal/microservices/admin"
	"possync/internal/microservices/mirror"
	udp "possync/internal/microservices/udp-server"
	"possync/internal/microservices/websocket"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("could not load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.New(cfg.LogOptions())
	if err != nil {
		log.Fatalf("could not build logger: %v", err)
	}
	defer logger.Sync()

	server, err := udp.NewServer(cfg.ServerConfig(), logger)
	if err != nil {
		log.Fatalf("Failed to create UDP server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	// Optional Redis mirror of every broadcast tick
	if cfg.RedisAddr != "" {
		m, err := mirror.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisChannel, logger)
		if err != nil {
			log.Fatalf("Failed to start Redis mirror: %v", err)
		}
		defer m.Close()
		server.AddObserver(m)
		logger.Info("redis_mirror_enabled", zap.String("addr", cfg.RedisAddr), zap.String("channel", cfg.RedisChannel))
	}

	// Admin HTTP + WebSocket observer feed
	if cfg.AdminEnabled {
		hub := websocket.NewHub(logger)
		server.AddObserver(hub)

		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			adminServer := admin.NewServer(cfg.AdminAddr, admin.NewHandler(server, hub, logger))
			if err := adminServer.Run(ctx); err != nil {
				logger.Error("admin_server_failed", zap.Error(err))
			}
		}()
	}

	logger.Info("sync_server_starting",
		zap.String("addr", server.LocalAddr().String()),
		zap.String("env", cfg.GoEnv),
	)

	if err := server.Run(ctx); err != nil {
		logger.Error("sync_server_failed", zap.Error(err))
	}
	stop()
	wg.Wait()
	logger.Info("sync_server_stopped")
}
