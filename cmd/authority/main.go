package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chinyang09/pilotlog/internal/authority"
	"github.com/chinyang09/pilotlog/internal/config"
	"github.com/chinyang09/pilotlog/internal/observability"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize telemetry
	ctx := context.Background()
	telemetry, err := observability.Initialize(ctx, observability.NewConfig("pilotlog-authority", version))
	if err != nil {
		log.Printf("Warning: telemetry initialization failed: %v", err)
	}

	// Initialize the record store
	var recordStore authority.RecordStore
	if cfg.Authority.UsePostgres() {
		log.Println("Using PostgreSQL record store")
		recordStore, err = authority.OpenPostgres(cfg.Authority.DatabaseURL)
	} else {
		log.Println("Using SQLite record store")
		recordStore, err = authority.OpenSQLite(cfg.Authority.DatabasePath)
	}
	if err != nil {
		log.Fatalf("Failed to open record store: %v", err)
	}
	defer recordStore.Close()

	handler := authority.NewHandler(recordStore)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware("pilotlog-authority"))
	if cfg.Authority.APIKeyHash != "" {
		r.Use(authority.APIKeyAuth(cfg.Authority.APIKeyHash))
	} else {
		log.Println("Warning: no API key hash configured, running unauthenticated")
	}

	// Routes
	r.Get("/health", handler.Health)
	r.Route("/api/sync/{collection}", func(r chi.Router) {
		r.Post("/push", handler.Push)
		r.Get("/pull", handler.Pull)
	})

	// Create server
	srv := &http.Server{
		Addr:         cfg.Authority.ListenAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Logbook authority starting on %s", cfg.Authority.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down authority...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if telemetry != nil {
		telemetry.Shutdown(shutdownCtx)
	}

	log.Println("Authority stopped")
}
