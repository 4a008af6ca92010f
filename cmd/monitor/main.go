// Command monitor runs spec §4.6's Queue Monitor (C8): the periodic
// metrics-collection and scale recommendation loop the Scaling Controller
// reads from. Lifecycle grounded on the teacher's cmd/api/main.go.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Harshaan-Chugh/rabbitreels/internal/bus"
	"github.com/Harshaan-Chugh/rabbitreels/internal/cache"
	"github.com/Harshaan-Chugh/rabbitreels/internal/config"
	"github.com/Harshaan-Chugh/rabbitreels/internal/jobmanager"
	"github.com/Harshaan-Chugh/rabbitreels/internal/logging"
	"github.com/Harshaan-Chugh/rabbitreels/internal/notify"
	"github.com/Harshaan-Chugh/rabbitreels/internal/queuemonitor"
	"github.com/Harshaan-Chugh/rabbitreels/internal/store"
)

func main() {
	cfg, err := config.Load[config.QueueMonitorConfig]()
	if err != nil {
		panic(err)
	}
	log := logging.New("monitor", cfg.LogLevel, cfg.Environment)
	log.Info().Msg("starting rabbitreels queue monitor")

	st, err := store.Open(cfg.PostgresURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer st.Close()

	cacheClient, err := cache.New(cfg.RedisAddr, cfg.RedisPassword, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer cacheClient.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	messageBus := bus.New(rdb, log)

	ledger := store.NewLedger(st)
	notifier := notify.New(os.Getenv("SLACK_WEBHOOK_URL"), "#rabbitreels-ops", log)
	// The Queue Monitor only reads processing_jobs/workers_with_jobs off the
	// Manager (spec §4.6 step 2); it never transitions a job, so the
	// recovery-loop-only timeouts are irrelevant here.
	jobs := jobmanager.New(st, cacheClient, messageBus, ledger, notifier, log, time.Hour, 5*time.Minute)

	mon := queuemonitor.New(rdb, cacheClient, jobs, queuemonitor.Config{
		MinWorkers:         cfg.MinWorkers,
		MaxWorkers:         cfg.MaxWorkers,
		ScaleDownThreshold: cfg.ScaleDownThreshold,
		CooldownPeriod:     time.Duration(cfg.CooldownPeriodSec) * time.Second,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interval := time.Duration(cfg.MetricsCollectionInterval) * time.Second
	go mon.RunLoop(ctx, interval)
	log.Info().Dur("collection_interval", interval).Msg("queue monitor loop running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	cancel()
	time.Sleep(time.Second)
	log.Info().Msg("monitor stopped")
}
