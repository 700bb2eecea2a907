package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/querygate/querygate/internal/app"
	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/database"
	"github.com/querygate/querygate/internal/events"
	"github.com/querygate/querygate/internal/httpserver"
	"github.com/querygate/querygate/internal/redisclient"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var dbPool *pgxpool.Pool
	if cfg.Database.URL != "" {
		if cfg.Database.RunMigrations {
			if err := database.RunMigrations(ctx, cfg.Database); err != nil {
				log.Fatalf("run migrations: %v", err)
			}
		}

		dbPool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("connect database: %v", err)
		}
		defer dbPool.Close()
	}

	redisClient := redisclient.New(cfg.Redis)
	if err := redisclient.Ping(ctx, redisClient); err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer redisClient.Close()

	container, err := app.NewContainer(ctx, cfg, redisClient, dbPool)
	if err != nil {
		log.Fatalf("build container: %v", err)
	}
	defer container.Shutdown(context.Background())

	container.HealthMon.Start(ctx)
	if cfg.Events.Enabled {
		startEventSweeper(ctx, container.Events, cfg.Events)
	}

	server, err := httpserver.New(container)
	if err != nil {
		log.Fatalf("construct server: %v", err)
	}

	if err := server.Listen(ctx); err != nil && err != context.Canceled {
		log.Fatalf("server stopped: %v", err)
	}
}

// startEventSweeper trims the guardrail event log to the configured
// retention window once an hour.
func startEventSweeper(ctx context.Context, svc *events.Service, cfg config.EventsConfig) {
	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	go func() {
		defer ticker.Stop()
		run := func() {
			purged, err := svc.Purge(ctx, time.Now().UTC().Add(-retention))
			if err != nil {
				log.Printf("event sweeper error: %v", err)
			} else if purged > 0 {
				log.Printf("event sweeper purged %d rows", purged)
			}
		}
		run()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
