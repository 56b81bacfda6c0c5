package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/in-nis/school-portal/internal/api"
	"github.com/in-nis/school-portal/internal/auth"
	"github.com/in-nis/school-portal/internal/calendar"
	"github.com/in-nis/school-portal/internal/config"
	"github.com/in-nis/school-portal/internal/cron"
	"github.com/in-nis/school-portal/internal/db"
	"github.com/in-nis/school-portal/internal/schoolapi"
	"github.com/in-nis/school-portal/internal/sessionstore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, using system env")
	}

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store    *db.Store
		terms    calendar.Repository = calendar.NewMemoryRepository()
		checks   []func(context.Context) error
		sessions sessionstore.Store
		purger   cron.Purger
	)

	if cfg.DBUrl != "" {
		var err error
		store, err = db.Open(cfg.DBUrl)
		if err != nil {
			log.Fatalf("db connection failed: %v", err)
		}
		defer store.Close()
		terms = store
		checks = append(checks, func(context.Context) error { return store.Ping() })
	}

	switch cfg.SessionBackend {
	case "redis":
		if cfg.RedisAddr == "" {
			log.Fatal("SESSION_BACKEND=redis needs REDIS_ADDR")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := client.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
		sessions = sessionstore.NewRedis(client, cfg.CookieMaxAge)
		checks = append(checks, func(ctx context.Context) error { return client.Ping(ctx).Err() })

	case "db":
		if store == nil {
			log.Fatal("SESSION_BACKEND=db needs DATABASE_URL")
		}
		sessions = sessionstore.NewDatabase(store, cfg.CookieMaxAge)
		purger = cron.PurgerFunc(store.PurgeExpiredSnapshots)

	default:
		mem := sessionstore.NewMemory(cfg.CookieMaxAge)
		sessions = mem
		purger = cron.PurgerFunc(func(_ context.Context, now time.Time) (int64, error) {
			return int64(mem.Purge(now)), nil
		})
	}
	log.Printf("✅ Sessions stored in %s", cfg.SessionBackend)

	client := schoolapi.New(cfg.SchoolAPIURL, cfg.SchoolAPITimeout)
	registry := auth.NewRegistry(func(id string) *auth.Resolver {
		return auth.NewResolver(client, sessionstore.For(sessions, id))
	})

	cron.ReloadCalendar(cfg, terms)
	scheduler, err := cron.StartJobs(cfg, cron.Jobs{Calendar: terms, Registry: registry, Purger: purger})
	if err != nil {
		log.Fatalf("cron init failed: %v", err)
	}
	defer scheduler.Stop()

	r := api.SetupRouter(cfg, api.Deps{
		Registry: registry,
		Calendar: terms,
		School:   client,
		Health: func(ctx context.Context) error {
			for _, check := range checks {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("Server running on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
