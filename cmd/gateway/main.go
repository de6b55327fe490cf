package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dileep-u-k/agent-gateway/internal/app"
	"github.com/dileep-u-k/agent-gateway/internal/gateway"
	"github.com/dileep-u-k/agent-gateway/internal/llm"
	"github.com/dileep-u-k/agent-gateway/internal/tools"
	"github.com/dileep-u-k/agent-gateway/internal/vault"
	"github.com/dileep-u-k/agent-gateway/internal/version"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

// main is the composition root: it parses the command line and hands off
// to the selected command.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := buildApp().Run(os.Args); err != nil {
		log.Fatalf("❌ FATAL: %v", err)
	}
}

// runServe wires every service, starts the gateway and blocks until
// SIGINT/SIGTERM. SIGHUP reloads the settings document.
func runServe(ctx context.Context, cfg *AppConfig) error {
	info := version.Get()
	log.Printf("🚀 Starting %s | Version: %s | Commit: %s", version.AppName, info.Version, info.GitCommit)
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	rdb, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	store, closer, err := openStore(cfg, rdb)
	if err != nil {
		return fmt.Errorf("failed to open settings store: %w", err)
	}
	if closer != nil {
		defer closeQuietly(closer)
	}

	files, err := vault.NewDirFS(cfg.VaultDir)
	if err != nil {
		return fmt.Errorf("failed to open vault: %w", err)
	}

	gw := app.New(app.Options{
		Store:           store,
		Host:            cfg.Host,
		PortOverride:    cfg.PortOverride,
		ShutdownTimeout: shutdownTimeout,
		Profiler:        llm.NewProfiler(rdb),
		Builtins: tools.BuiltinDeps{
			Vault:      files,
			NewsAPIKey: cfg.NewsAPIKey,
			WeatherURL: cfg.WeatherURL,
		},
	})
	log.Println("✅ All services initialized.")

	if err := startGateway(ctx, gw); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(quit)

wait:
	for {
		select {
		case sig := <-quit:
			if sig != syscall.SIGHUP {
				break wait
			}
			log.Println("🔄 Reloading settings...")
			if err := gw.Reload(ctx); err != nil {
				log.Printf("❌ Reload failed: %v", err)
			}
		case <-ctx.Done():
			break wait
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	log.Println("👋 Gateway exited gracefully.")
	return nil
}

// startGateway starts the application. A socket that cannot be bound is
// reported and leaves the process running, so a SIGHUP can retry.
func startGateway(ctx context.Context, gw *app.App) error {
	err := gw.Start(ctx)
	if errors.Is(err, gateway.ErrBind) {
		log.Printf("⚠️ %v; fix the address or free the port and send SIGHUP to retry.", err)
		return nil
	}
	return err
}

func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		log.Printf("Error closing settings store: %v", err)
	}
}
