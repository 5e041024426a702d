package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/weavehub/weave/internal/agents"
	"github.com/weavehub/weave/internal/backend"
	"github.com/weavehub/weave/internal/config"
	"github.com/weavehub/weave/internal/engine"
	"github.com/weavehub/weave/internal/persist"
	"github.com/weavehub/weave/internal/router"
	"github.com/weavehub/weave/internal/store"
)

func main() {
	cfg := config.Load()

	adapter, err := persist.Open(cfg)
	if err != nil {
		log.Fatalf("persistence open: %v", err)
	}
	defer adapter.Close()

	st := store.New(adapter)
	if err := st.Hydrate(context.Background()); err != nil {
		log.Fatalf("hydrate: %v", err)
	}
	log.Printf("store hydrated (driver=%s)", cfg.StoreDriver)

	directory, err := agents.LoadDirectory(cfg.AgentsFile)
	if err != nil {
		log.Fatalf("agents: %v", err)
	}
	if count := len(directory.List()); count > 0 {
		log.Printf("agent directory loaded: %d agents", count)
	}

	completer := backend.NewHTTPCompleter(cfg.BackendBaseURL, cfg.BackendAPIKey, cfg.BackendModel, cfg.BackendTimeout)

	// Tool capabilities are supplied by embedding applications. The server
	// binary runs without one: detected calls are not executed, completions
	// pass through as plain assistant messages.
	eng := engine.New(st, completer, nil, directory, cfg.HistoryWindow, cfg.CancelDelay)
	watchdog := engine.NewWatchdog(st, eng, cfg.RunTimeout, cfg.WatchdogInterval)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router.New(st, eng, directory),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // event streams need unlimited write timeout
		IdleTimeout:  120 * time.Second,
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	go watchdog.Start(rootCtx)

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("weave listening on :%s (backend=%s model=%s)", cfg.Port, cfg.BackendBaseURL, cfg.BackendModel)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-done
	log.Println("shutting down...")
	rootCancel()
	eng.Shutdown()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	log.Println("stopped")
}
