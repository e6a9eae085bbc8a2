package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kasirkita/backend/internal/cache"
	"kasirkita/backend/internal/catalog"
	"kasirkita/backend/internal/config"
	"kasirkita/backend/internal/httpapi"
	"kasirkita/backend/internal/metrics"
	"kasirkita/backend/internal/service"
	"kasirkita/backend/internal/store"
	badgerstore "kasirkita/backend/internal/store/badger"
	"kasirkita/backend/internal/store/memory"
	pgstore "kasirkita/backend/internal/store/postgres"
)

func main() {
	configFile := flag.String("config", "", "optional yaml config file, watched for tunable reloads")
	flag.Parse()

	cfg, settings, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	loc := cfg.Location()
	closers := make([]func() error, 0, 3)

	var repo store.Repository
	switch cfg.StoreBackend {
	case "postgres":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, loc)
		if err != nil {
			log.Fatalf("postgres unavailable (%v); refusing to start with a fallback store", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	case "badger":
		bg, err := badgerstore.Open(cfg.BadgerDir, loc)
		if err != nil {
			log.Fatalf("badger unavailable (%v); refusing to start with a fallback store", err)
		}
		repo = bg
		closers = append(closers, bg.Close)
		log.Println("repository: badger")
	default:
		repo = memory.NewSeeded(loc)
		log.Println("repository: in-memory (seeded)")
	}

	catalogCache := cache.CatalogCache(cache.NoopCatalogCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCatalogCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			catalogCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	m := metrics.New()

	snapshot := catalog.NewSnapshot()
	feed := catalog.NewFeed(repo, snapshot, catalogCache,
		time.Duration(cfg.CatalogCacheTTLSeconds)*time.Second,
		time.Duration(cfg.CatalogRefreshSeconds)*time.Second)

	// Run performs the initial refresh before entering its ticker loop.
	feedCtx, feedCancel := context.WithCancel(context.Background())
	defer feedCancel()
	go feed.Run(feedCtx)

	svc := service.New(repo, snapshot, settings, m)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:    cfg.AllowedOrigin,
		Location:         loc,
		MetricsHandler:   m.Handler(),
		LoginMaxAttempts: cfg.LoginMaxAttempts,
		LoginWindow:      time.Duration(cfg.LoginWindowSeconds) * time.Second,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	feedCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("auth_secret must be set and at least 32 characters")
	}
	return nil
}
