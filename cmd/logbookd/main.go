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

	"github.com/chinyang09/pilotlog/internal/broadcast"
	"github.com/chinyang09/pilotlog/internal/config"
	"github.com/chinyang09/pilotlog/internal/crud"
	"github.com/chinyang09/pilotlog/internal/handlers"
	"github.com/chinyang09/pilotlog/internal/hub"
	"github.com/chinyang09/pilotlog/internal/observability"
	"github.com/chinyang09/pilotlog/internal/remote"
	"github.com/chinyang09/pilotlog/internal/store"
	"github.com/chinyang09/pilotlog/internal/syncer"
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
	telemetry, err := observability.Initialize(ctx, observability.NewConfig("pilotlog-daemon", version))
	if err != nil {
		log.Printf("Warning: telemetry initialization failed: %v", err)
	}

	// Open the local store
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open local store: %v", err)
	}
	defer st.Close()

	// Wire the sync stack
	crudService := crud.NewService(st)
	authority := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIToken,
		time.Duration(cfg.Sync.TimeoutSeconds)*time.Second)
	broadcaster := broadcast.New(false)
	engine := syncer.NewEngine(st, crudService, authority, broadcaster,
		syncer.WithTimeout(time.Duration(cfg.Sync.TimeoutSeconds)*time.Second),
		syncer.WithMaxRetries(cfg.Sync.MaxRetries),
	)

	// Event hub for UI collaborators
	eventHub := hub.New()
	go eventHub.Run()
	unbind := eventHub.Bind(broadcaster)
	defer unbind()

	// Initialize handlers
	recordHandler := handlers.NewRecordHandler(crudService)
	syncHandler := handlers.NewSyncHandler(engine)
	healthHandler := handlers.NewHealthHandler()

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware("pilotlog-daemon"))
	if httpMetrics, err := observability.NewHTTPMetrics(); err == nil {
		r.Use(observability.MetricsMiddleware(httpMetrics))
	}

	// Routes
	r.Get("/health", healthHandler.HealthCheck)

	r.Route("/api/{collection}", func(r chi.Router) {
		r.Get("/", recordHandler.List)
		r.Post("/", recordHandler.Create)
		r.Get("/{id}", recordHandler.Get)
		r.Patch("/{id}", recordHandler.Update)
		r.Delete("/{id}", recordHandler.Delete)
	})

	r.Post("/api/sync/trigger", syncHandler.Trigger)
	r.Get("/api/sync/status", syncHandler.Status)
	r.Get("/ws", eventHub.ServeWS(func() hub.Event {
		return hub.Event{
			Type:    hub.EventSyncStatus,
			Payload: map[string]string{"status": string(broadcaster.Status())},
		}
	}))

	// Background loops: periodic sync and connectivity probing
	loopCtx, stopLoops := context.WithCancel(ctx)
	defer stopLoops()
	go connectivityLoop(loopCtx, authority, broadcaster)
	go syncLoop(loopCtx, engine, broadcaster, time.Duration(cfg.Sync.IntervalMinutes)*time.Minute)

	// Create server
	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Pilot logbook daemon starting on %s", cfg.ListenAddress)
		log.Printf("Local database: %s", cfg.DatabasePath)
		log.Printf("Remote authority: %s", cfg.Remote.BaseURL)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down daemon...")
	stopLoops()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if telemetry != nil {
		telemetry.Shutdown(shutdownCtx)
	}

	log.Println("Daemon stopped")
}

// connectivityLoop probes the authority's health endpoint and feeds the
// broadcaster. A transition to online triggers an immediate pass so queued
// work drains as soon as the network returns.
func connectivityLoop(ctx context.Context, client *remote.Client, bc *broadcast.Broadcaster) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := client.Ping(probeCtx)
			cancel()
			bc.SetOnline(err == nil)
		}
	}
}

// syncLoop triggers a full pass on a timer and whenever connectivity returns
func syncLoop(ctx context.Context, engine *syncer.Engine, bc *broadcast.Broadcaster, interval time.Duration) {
	wake := make(chan struct{}, 1)
	unsubscribe := bc.Subscribe(func(status broadcast.Status) {
		if status == broadcast.StatusOnline {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runPass := func() {
		if !bc.Online() {
			return
		}
		if _, err := engine.Sync(ctx); err != nil && err != syncer.ErrSyncInProgress {
			observability.Warnf("scheduled sync failed: %v", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runPass()
		case <-wake:
			runPass()
		}
	}
}
