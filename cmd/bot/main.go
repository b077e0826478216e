package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"media-conversion-bot/internal/admission"
	"media-conversion-bot/internal/api"
	"media-conversion-bot/internal/artifact"
	"media-conversion-bot/internal/chat"
	"media-conversion-bot/internal/config"
	"media-conversion-bot/internal/convert"
	"media-conversion-bot/internal/notify"
	"media-conversion-bot/internal/queue"
	"media-conversion-bot/internal/ratelimit"
	"media-conversion-bot/internal/reward"
	"media-conversion-bot/internal/session"
	"media-conversion-bot/internal/store"
	"media-conversion-bot/internal/telemetry"
	"media-conversion-bot/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment")
	}
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	sessions := session.NewStore(redisClient, cfg.SessionTTL)
	limiter := ratelimit.NewBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	var notifier notify.Notifier
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.WebhookURL)
	} else {
		log.Println("no NOTIFY_WEBHOOK_URL configured, logging notifications")
		notifier = notify.NewLogger()
	}

	work, err := artifact.NewWorkspace(cfg.WorkDir)
	if err != nil {
		log.Fatalf("init workspace: %v", err)
	}
	archive, err := artifact.NewS3Archive(ctx, cfg)
	if err != nil {
		log.Fatalf("init s3 archive: %v", err)
	}
	var archiver worker.Archiver
	if archive != nil {
		archiver = archive
	}

	engine := convert.NewYtdlpEngine(cfg.YtdlpPath, cfg.ProduceTimeout)
	gate := queue.NewGate(cfg.GlobalSlots)
	runner := worker.NewRunner(cfg, st, gate, engine, notifier, work, archiver)
	registry := queue.NewRegistry(runner.Run)

	admit := admission.New(cfg, st)
	flow := chat.NewFlow(cfg, st, sessions, admit, notifier, func(t queue.Task) {
		registry.Enqueue(ctx, t)
	})

	rewards := reward.NewScheduler(cfg.DailyReward, st, notifier)
	go rewards.Run(ctx)

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				telemetry.QueueDepthGauge.Set(float64(registry.Depth()))
			}
		}
	}()

	server := api.New(cfg, st, limiter, registry, gate, chat.Handler(flow))
	log.Printf("listening on :%s (concurrency=%d daily_limit=%d cooldown=%s)",
		cfg.HTTPPort, cfg.GlobalSlots, cfg.DailyLimit, cfg.Cooldown)
	if err := api.Run(ctx, ":"+cfg.HTTPPort, server.Router()); err != nil {
		log.Printf("http server stopped: %v", err)
	}

	// Let in-flight conversions settle before the process exits.
	registry.Wait()
}
