//	@title			Photo Journal API
//	@version		1.0
//	@description	Upload service for a photo journal: presigned write credentials, read URLs, and photo records.
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT Bearer token. Format: **Bearer {token}**

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/photojournal/service/internal/config"
	"github.com/photojournal/service/internal/db"
	"github.com/photojournal/service/internal/logging"
	appMiddleware "github.com/photojournal/service/internal/middleware"
	"github.com/photojournal/service/internal/photo"
	"github.com/photojournal/service/internal/reconcile"
	"github.com/photojournal/service/internal/resolver"
	"github.com/photojournal/service/internal/storage"
	"github.com/photojournal/service/internal/upload"

	_ "github.com/photojournal/service/docs/swagger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("object storage init failed")
	}

	// Wire dependencies: repository → service → handler
	res := resolver.New(store, cfg.Storage.PublicBase, cfg.Upload.ReadExpiry)
	resolverHandler := resolver.NewHandler(res)

	photoRepo := photo.NewRepository(pool)
	photoSvc := photo.NewService(photoRepo, res)
	photoHandler := photo.NewHandler(photoSvc)

	uploadSvc := upload.NewService(store, photoRepo, upload.Options{
		MaxSize:     cfg.Upload.MaxSize,
		WriteExpiry: cfg.Upload.WriteExpiry,
	})
	uploadHandler := upload.NewHandler(uploadSvc)

	var sweeper *reconcile.Sweeper
	if cfg.Sweep.Interval > 0 {
		sweeper = reconcile.NewSweeper(store, photoRepo, cfg.Upload.DefaultFolder, cfg.Sweep.Interval, cfg.Sweep.MinAge)
		sweeper.Start(ctx)
	}

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(appMiddleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Swagger UI at http://localhost:8080/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// Read URLs are public, as image tags cannot send a bearer token.
	r.Get("/presigned-url", resolverHandler.PresignedURL)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(appMiddleware.RequireAuth(cfg.JWTSecret))

		r.Route("/uploads", func(r chi.Router) {
			r.Post("/credentials", uploadHandler.IssueCredential)
			r.Post("/objects", uploadHandler.StoreObject)
			r.Delete("/objects", uploadHandler.DeleteObject)
		})

		r.Route("/photos", func(r chi.Router) {
			r.Post("/", photoHandler.Create)
			r.Get("/", photoHandler.List)
			r.Get("/{id}", photoHandler.Get)
			r.Delete("/{id}", photoHandler.Delete)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Str("storage", cfg.Storage.Driver).Msg("server listening")
		log.Info().Msgf("swagger UI at http://localhost:%s/swagger/", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	if sweeper != nil {
		sweeper.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
