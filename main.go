package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"ledgerwork-backend/auth"
	"ledgerwork-backend/container"
	"ledgerwork-backend/escrow"
	"ledgerwork-backend/middleware"
	"ledgerwork-backend/ratelimit"
	"ledgerwork-backend/reconciler"
	storage "ledgerwork-backend/storage/marketplace"
)

type apiKeyBackend interface {
	auth.APIKeyValidator
	auth.APIKeyIssuer
	Seed(key, source string)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := envDefault("LEDGERWORK_PORT", "3001")
	dsn := os.Getenv("LEDGERWORK_DB_DSN")

	// Store: Postgres when a DSN is configured, in-memory otherwise.
	var store storage.Store
	var keys apiKeyBackend
	if dsn != "" {
		pg, err := storage.NewPGStore(ctx, dsn)
		if err != nil {
			log.Fatalf("failed to init postgres store: %v", err)
		}
		store = pg
		pgKeys, err := auth.NewPGAPIKeyStore(ctx, dsn)
		if err != nil {
			log.Fatalf("failed to init api key store: %v", err)
		}
		keys = pgKeys
		log.Println("Using Postgres store")
	} else {
		store = storage.NewMemoryStore()
		keys = auth.NewAPIKeyStore()
		log.Println("Using in-memory store (set LEDGERWORK_DB_DSN for Postgres)")
	}
	defer store.Close()
	keys.Seed(os.Getenv("LEDGERWORK_API_KEY"), "seed")

	// Rate limiter with a background window sweeper.
	limiter := ratelimit.NewLimiter(envInt("LEDGERWORK_RATE_MAX", 60),
		time.Duration(envInt("LEDGERWORK_RATE_WINDOW_SEC", 60))*time.Second)
	limiter.StartSweeper(ctx, 5*time.Minute)

	chain := escrow.NewClientFromEnv()

	rec := reconciler.New(store, chain, reconciler.Config{
		Workers:     envInt("LEDGERWORK_RECONCILER_WORKERS", 4),
		MaxAttempts: envInt("LEDGERWORK_RELEASE_MAX_ATTEMPTS", 3),
		RetryBase:   time.Duration(envInt("LEDGERWORK_RELEASE_RETRY_BASE_SEC", 2)) * time.Second,
	}, uuid.NewString)

	registry := prometheus.NewRegistry()
	limiter.Register(registry)
	rec.Register(registry)

	rec.Start(ctx)
	defer rec.Stop()
	rec.StartExpirySweeper(ctx, time.Duration(envInt("LEDGERWORK_EXPIRY_SWEEP_SEC", 60))*time.Second)

	c := container.NewContainer(container.Deps{
		Store:   store,
		Escrow:  chain,
		Health:  chain,
		Limiter: limiter,
		Keys:    keys,
		Issuer:  keys,
		Sink:    rec,
	})

	handler := middleware.Recovery(
		middleware.Logging(
			middleware.CORS(
				middleware.SecurityHeaders(
					setupRoutes(c, limiter, keys, registry),
				),
			),
		),
	)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", port)
		log.Printf("API endpoints at: http://localhost:%s/api/", port)
		log.Printf("Metrics at: http://localhost:%s/metrics", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return def
}
