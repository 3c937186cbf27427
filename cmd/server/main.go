package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/codyseavey/plebmtg/internal/api"
	"github.com/codyseavey/plebmtg/internal/config"
	"github.com/codyseavey/plebmtg/internal/database"
	"github.com/codyseavey/plebmtg/internal/services"
)

func main() {
	cfgFile := flag.String("config", "", "config file (default searches ./plebmtg.yaml and ./config/plebmtg.yaml)")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ConfigureLogging(); err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}

	if err := database.Initialize(cfg.Database.Driver, cfg.Database.DSN); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	db := database.GetDB()

	analysis, err := services.NewAnalysisFromConfig(db, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize analysis service: %v", err)
	}
	results := services.NewResultsService(db, cfg.Server.SimilarCacheSize)
	exporter := services.NewExportService(db)

	interval, err := cfg.RefreshEvery()
	if err != nil {
		log.Fatalf("Invalid refresh interval: %v", err)
	}
	worker := services.NewRefreshWorker(analysis, results, interval)

	// Create a cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start refresh worker in background with panic recovery
	go func() {
		for {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Errorf("PANIC in refresh worker: %v - restarting in 30 seconds", r)
					}
				}()
				worker.Start(ctx)
			}()

			select {
			case <-ctx.Done():
				return // Graceful shutdown
			case <-time.After(30 * time.Second):
				log.Info("Refresh worker restarting after panic recovery...")
			}
		}
	}()

	router := api.SetupRouter(cfg, results, worker, exporter)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Infof("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// Cancel the context to stop the refresh worker
	cancel()

	// Give outstanding requests a deadline to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}
