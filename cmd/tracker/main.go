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
	chimw "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/geotrack/tracker/internal/config"
	"github.com/geotrack/tracker/internal/handlers"
	"github.com/geotrack/tracker/internal/middleware"
	"github.com/geotrack/tracker/internal/observability"
	"github.com/geotrack/tracker/internal/repository"
	"github.com/geotrack/tracker/internal/services"
)

const serviceVersion = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	telemetry, err := observability.Initialize(ctx, observability.NewConfig("geotrack-tracker", serviceVersion))
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}

	metrics, err := observability.NewPipelineMetrics()
	if err != nil {
		log.Fatalf("Failed to create pipeline metrics: %v", err)
	}
	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		log.Fatalf("Failed to create HTTP metrics: %v", err)
	}

	// Device cache database
	var cache repository.DeviceCacheRepo
	if cfg.UsePostgres() {
		log.Println("Using PostgreSQL device cache")
		db, err := repository.NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
		}
		defer db.Close()
		cache = repository.NewDeviceCacheRepository(db)
	} else {
		log.Println("Using SQLite device cache")
		db, err := repository.NewSQLiteDB(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite database: %v", err)
		}
		defer db.Close()
		cache = repository.NewDeviceCacheRepository(db)
	}

	// Core pipeline
	store := services.NewDeviceStore()
	hub := services.NewStreamHub(metrics)
	surface := services.NewStreamSurface(hub)
	renderer := services.NewMapRenderer(surface, services.WithTrails(cfg.Tracking.ShowTrails))
	if err := renderer.Init(); err != nil {
		log.Fatalf("Failed to initialize map renderer: %v", err)
	}

	conn := services.NewConnectionManager(services.ConnectionConfig{
		URL:               cfg.Push.URL,
		Token:             cfg.API.Token,
		HandshakeTimeout:  time.Duration(cfg.Push.HandshakeTimeoutSeconds) * time.Second,
		HeartbeatInterval: time.Duration(cfg.Push.HeartbeatSeconds) * time.Second,
		RetryDelay:        time.Duration(cfg.Push.RetryDelaySeconds) * time.Second,
		MaxRetries:        cfg.Push.MaxRetries,
	}, metrics)

	api := services.NewAPIClient(cfg.API.BaseURL, cfg.API.Token,
		time.Duration(cfg.API.TimeoutSeconds)*time.Second)

	var geo *services.GeolocationService
	if cfg.Tracking.LocateURL != "" {
		source := services.NewHTTPPositionSource(cfg.Tracking.LocateURL, cfg.API.Token)
		geo = services.NewGeolocationService(source, nil, nil)
	}

	notifier := services.NewOfflineNotifier(
		cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Sender, cfg.SMTP.Password, cfg.SMTP.Recipients)

	tracking := services.NewTrackingService(services.TrackingConfig{
		UserID:         cfg.Tracking.UserID,
		LocalDeviceID:  cfg.Tracking.LocalDeviceID,
		SweepInterval:  time.Duration(cfg.Tracking.SweepIntervalSeconds) * time.Second,
		ReportInterval: time.Duration(cfg.Tracking.ReportIntervalSeconds) * time.Second,
	}, store, conn, renderer, geo, api, cache, notifier, hub, metrics)

	if err := tracking.Start(ctx); err != nil {
		log.Fatalf("Failed to start tracking service: %v", err)
	}

	// Handlers
	deviceHandler := handlers.NewDeviceHandler(store, tracking, api)
	connectionHandler := handlers.NewConnectionHandler(tracking, renderer)
	streamHandler := handlers.NewStreamHandler(hub)
	healthHandler := handlers.NewHealthHandler()

	// Router
	r := chi.NewRouter()

	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(observability.TracingMiddleware("geotrack-tracker"))
	r.Use(observability.MetricsMiddleware(httpMetrics))
	r.Use(middleware.APIKeyAuth(cfg.Security.APIKey, cfg.Security.APIKeyHeader))

	r.Get("/health", healthHandler.HealthCheck)
	r.Get("/api/health", healthHandler.HealthCheck)
	r.Get("/swagger/*", httpSwagger.Handler())

	r.Route("/api/devices", func(r chi.Router) {
		r.Get("/", deviceHandler.List)
		r.Post("/", deviceHandler.Register)
		r.Get("/{id}", deviceHandler.GetByID)
		r.Delete("/{id}", deviceHandler.Delete)
		r.Get("/{id}/history", deviceHandler.History)
		r.Post("/{id}/track", deviceHandler.StartTracking)
		r.Post("/{id}/untrack", deviceHandler.StopTracking)
	})

	r.Get("/api/connection", connectionHandler.State)
	r.Post("/api/connection/reconnect", connectionHandler.Reconnect)
	r.Post("/api/logout", connectionHandler.Logout)
	r.Get("/api/markers", connectionHandler.Markers)
	r.Get("/api/ws", streamHandler.HandleConnection)

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("GeoTrack tracker starting on %s", cfg.ServerAddress)
		log.Printf("Tracking API: %s", cfg.API.BaseURL)
		log.Printf("Push channel: %s", cfg.Push.URL)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down tracker...")

	tracking.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		log.Printf("Telemetry shutdown error: %v", err)
	}

	log.Println("Tracker stopped")
}
