package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridpoint-io/meterwms/internal/config"
	"github.com/gridpoint-io/meterwms/internal/handlers"
	"github.com/gridpoint-io/meterwms/internal/inventory"
	"github.com/gridpoint-io/meterwms/internal/remote"
	"github.com/gridpoint-io/meterwms/internal/store"
	"github.com/gridpoint-io/meterwms/internal/sync"
	"github.com/gridpoint-io/meterwms/internal/utils"
	"github.com/gridpoint-io/meterwms/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg := config.LoadAgent()

	// 2. Open the durable local store
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open local store: %v", err)
	}

	// 3. Remote service client (may be unconfigured; the agent then
	// runs fully offline)
	rc := remote.NewClient(cfg.RemoteURL, cfg.RemoteToken)

	// 4. Connectivity monitor and sync engine
	monitor := sync.NewMonitor(rc, sync.MonitorConfig{
		ProbeTimeout: cfg.ProbeTimeout,
		Retry:        utils.DefaultRetry,
		Interval:     cfg.CheckInterval,
	})
	engine := sync.NewEngine(st, rc, monitor, sync.EngineConfig{
		OpTimeout:        cfg.OpTimeout,
		AutoSyncInterval: cfg.SyncInterval,
	})

	// 5. Dashboard event hub
	hub := websocket.NewHub()
	go hub.Run()
	engine.SetNotifier(hub)
	monitor.SetOnChange(hub.NotifyConnection)

	// 6. Inventory facade and HTTP router
	inv := inventory.NewFacade(st, rc, monitor, engine)
	router := handlers.NewRouter(inv, hub)

	// Initial connectivity check so the first queue drain does not wait
	// for the background loop.
	if status := monitor.Check(context.Background()); status == sync.StatusOnline {
		log.Println("✅ Remote service reachable")
		if err := inv.RefreshData(context.Background()); err != nil {
			log.Printf("⚠️ Initial refresh failed: %v", err)
		}
	} else {
		log.Println("⚠️ Starting offline; changes will be queued")
	}

	monitor.Start()
	if cfg.AutoSync {
		engine.Start()
	}

	// 7. Start server with graceful shutdown
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Printf("🚀 Agent starting on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	engine.Stop()
	monitor.Stop()

	log.Println("🛑 Closing local store...")
	if err := st.Close(); err != nil {
		log.Printf("Store close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
