package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/canvastodo/card-server-go/internal/auth"
	"github.com/canvastodo/card-server-go/internal/canvas"
	"github.com/canvastodo/card-server-go/internal/card"
	"github.com/canvastodo/card-server-go/internal/config"
	"github.com/canvastodo/card-server-go/internal/database"
	"github.com/canvastodo/card-server-go/internal/events"
	"github.com/canvastodo/card-server-go/internal/handler"
	"github.com/canvastodo/card-server-go/internal/middleware"
	"github.com/canvastodo/card-server-go/internal/redis"
	"github.com/canvastodo/card-server-go/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")
	}

	var backend store.Store
	switch cfg.StoreBackend {
	case config.StoreBackendRedis:
		backend = store.NewRedisStore(redisClient.Client)
	case config.StoreBackendPostgres:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to create schema")
		}
		cancel()
		log.Info().Msg("database connected")

		backend = store.NewPostgresStore(db.DB)
	default:
		backend = store.NewMemoryStore()
	}

	if cfg.EncryptionKey != "" {
		sealed, err := store.NewSealedStore(backend, cfg.EncryptionKey)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to derive storage key")
		}
		backend = sealed
	}
	log.Info().
		Str("backend", cfg.StoreBackend).
		Bool("encrypted", cfg.EncryptionKey != "").
		Msg("session storage ready")

	broker := events.NewBroker(redisClient)
	defer broker.Close()

	var limiter middleware.Limiter = middleware.NewRateLimiter()
	if redisClient != nil {
		limiter = middleware.NewRedisRateLimiter(redisClient.Client)
	}

	tokens := auth.NewOAuthClient(cfg.CanvasBaseURL, cfg.CanvasClientID, cfg.Scopes(), nil)
	canvasClient := canvas.NewClient(cfg.CanvasBaseURL, nil)

	host := card.NewHost(cfg, backend, broker, tokens, canvasClient)
	profileAuthMiddleware := middleware.NewProfileAuthMiddleware(cfg.ProfileSigningKey, isProduction)
	cardHandler := handler.NewCardHandler(host, profileAuthMiddleware)

	csrfMiddleware := middleware.NewCSRFMiddleware(isProduction)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction, cfg.FrameAncestors...)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(limiter, cfg.RateLimitPerMin)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"cards":     host.Count(),
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1/profiles/{profileID}", func(r chi.Router) {
		r.Use(securityHeadersMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Use(csrfMiddleware.Handler)
		r.Mount("/", cardHandler.Routes())
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	// Closing the cards ends their event streams so Shutdown can drain.
	host.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
