// Command livecoding runs the room server: bootstrap REST API, WebSocket
// sessions, periodic persistence, and idle-room eviction.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marnikitta/livecoding/internal/config"
	"github.com/marnikitta/livecoding/internal/httpapi"
	"github.com/marnikitta/livecoding/internal/persistence"
	"github.com/marnikitta/livecoding/internal/registry"
	"github.com/marnikitta/livecoding/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file (optional; env vars and defaults otherwise)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("startup: failed to load config: %v", err)
		return 1
	}

	if err := os.MkdirAll(cfg.PersistDir, 0o755); err != nil {
		log.Printf("startup: persistence directory %s inaccessible: %v", cfg.PersistDir, err)
		return 1
	}

	store := persistence.NewStore(cfg.PersistDir)
	reg := registry.New(cfg, store)

	if err := reg.RestoreAll(); err != nil {
		log.Printf("startup: failed to restore rooms from %s: %v", cfg.PersistDir, err)
		return 1
	}
	log.Printf("startup: restored %d rooms from %s", reg.RoomCount(), cfg.PersistDir)

	reg.StartSweeper(cfg.RegistrySweepInterval)
	defer reg.StopSweeper()

	flushPool := worker.NewPool(1)
	flushCtx, cancelFlush := context.WithCancel(context.Background())
	go worker.RunEvery(flushCtx, flushPool, cfg.RoomsFlushInterval, func(ctx context.Context) error {
		reg.FlushAll(ctx)
		return nil
	})
	defer func() {
		cancelFlush()
		flushPool.Shutdown()
	}()

	router := httpapi.NewRouter(cfg, reg, time.Now())
	server := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: router.Handler(),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("livecoding: listening on %s", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Printf("startup: server failed to start: %v", err)
		return 1
	case <-quit:
		log.Println("livecoding: shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("livecoding: shutdown error: %v", err)
	}

	flushDeadline, cancelFlushDeadline := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFlushDeadline()
	reg.FlushAll(flushDeadline)

	log.Println("livecoding: shutdown complete")
	return 0
}
