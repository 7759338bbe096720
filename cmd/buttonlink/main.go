package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"buttonlink/internal/api"
	"buttonlink/internal/bridge"
	"buttonlink/internal/config"
	"buttonlink/internal/lifecycle"
	"buttonlink/internal/logger"
	"buttonlink/internal/peripheral"
	"buttonlink/internal/store"
	"buttonlink/internal/version"
	"buttonlink/internal/view"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfgManager := config.NewManager(*configPath)
	if err := cfgManager.Load(); err != nil {
		log.Printf("[WARN] Failed to load config: %v\nAttempting to create a default config...", err)
		if mkErr := os.MkdirAll(filepath.Dir(*configPath), 0755); mkErr != nil {
			log.Fatalf("Failed to create config directory: %v", mkErr)
		}
		if saveErr := cfgManager.Save(); saveErr != nil {
			log.Fatalf("Failed to create default config: %v", saveErr)
		}
		log.Printf("[INFO] Default config created at %s", *configPath)
	}

	cfg := cfgManager.Get()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logger.Init(cfg.Logging.FilePath, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.Debug); err != nil {
		log.Printf("[WARN] Failed to initialize file logging: %v (continuing with stdout only)", err)
		if err := logger.Init("", 0, 0, cfg.Logging.Debug); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	}
	defer logger.Get().Close()

	logger.Printf("Starting %s on port %d", version.Info(), cfg.Web.Port)

	backend := peripheral.NewBackend(time.Duration(cfg.BLE.OpTimeoutSeconds) * time.Second)
	if bz, err := peripheral.NewBlueZNotifier(); err != nil {
		logger.Warn("BlueZ notification fallback unavailable: %v", err)
	} else {
		backend.UseBlueZNotifier(bz)
		defer bz.Close()
	}

	deviceStore := store.NewFileStore(cfg.Device.StatePath)
	machine := lifecycle.New(backend, deviceStore, time.Duration(cfg.BLE.ScanDurationSeconds)*time.Second)

	eventBridge := bridge.New(backend, machine)
	eventBridge.Start()
	defer eventBridge.Stop()

	machine.Start()
	machine.RequestStart()

	wsHub := api.NewHub()
	go wsHub.Run()
	defer wsHub.Close()

	// Push every machine transition to connected UI clients.
	go func() {
		for snap := range machine.Updates() {
			wsHub.Broadcast("state", view.Project(snap))
		}
	}()

	handler := api.NewHandler(machine, wsHub)
	handler.SetVersion(version.GetVersion())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed: %v", err)
		}
	}()

	logger.Printf("Server started at http://localhost:%d", cfg.Web.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("Shutting down...")

	machine.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error: %v", err)
	}
}
