// Command worker runs spec §4.4/§2's render worker process: the Worker
// Health Monitor (C6) embedded alongside the Render Worker adapter (C10).
// Lifecycle grounded on original_source/video-creator's WorkerHealthMonitor
// start/stop sequence, adapted to Go's context-cancellation idiom in place
// of its threading.Event/signal.signal pair.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Harshaan-Chugh/rabbitreels/internal/bus"
	"github.com/Harshaan-Chugh/rabbitreels/internal/cache"
	"github.com/Harshaan-Chugh/rabbitreels/internal/capacity"
	"github.com/Harshaan-Chugh/rabbitreels/internal/config"
	"github.com/Harshaan-Chugh/rabbitreels/internal/health"
	"github.com/Harshaan-Chugh/rabbitreels/internal/jobmanager"
	"github.com/Harshaan-Chugh/rabbitreels/internal/logging"
	"github.com/Harshaan-Chugh/rabbitreels/internal/notify"
	"github.com/Harshaan-Chugh/rabbitreels/internal/store"
	"github.com/Harshaan-Chugh/rabbitreels/internal/worker"
)

// noopRenderer is the out-of-the-box Renderer until an operator wires the
// real script-generation/TTS/composition collaborators spec §1's
// Non-goals name as external. It always succeeds instantly so the control
// plane's lifecycle plumbing can be exercised end to end without them.
type noopRenderer struct{}

func (noopRenderer) Render(ctx context.Context, jobID string, payload map[string]interface{}) worker.RenderResult {
	return worker.RenderResult{Success: true, DownloadURL: "https://cdn.example.invalid/" + jobID + ".mp4"}
}

func main() {
	cfg, err := config.Load[config.WorkerConfig]()
	if err != nil {
		panic(err)
	}
	log := logging.New("worker", cfg.LogLevel, cfg.Environment)

	startedAt := time.Now()
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = health.GenerateWorkerID(startedAt)
	}
	log = log.With().Str("worker_id", workerID).Logger()
	log.Info().Msg("starting rabbitreels render worker")

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
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := messageBus.EnsureGroup(ctx, bus.QueueVideo); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure video consumer group")
	}

	ledger := store.NewLedger(st)
	notifier := notify.New("", "", log) // worker process never announces scaling/abandonment itself
	// jobTimeout/heartbeatTimeout only matter to the recovery sweep
	// (cmd/controller runs that loop, per spec §5); this Manager instance
	// is used here only for the per-job lifecycle calls.
	jobs := jobmanager.New(st, cacheClient, messageBus, ledger, notifier, log, time.Hour, 5*time.Minute)

	capacityTracker := capacity.New(cacheClient, log)
	heartbeatInterval := time.Duration(cfg.HeartbeatInterval) * time.Second
	monitor := health.New(workerID, cacheClient, capacityTracker, heartbeatInterval, cfg.HealthCheckPort, log)
	if err := monitor.Register(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to register worker")
	}

	healthServer := &http.Server{Addr: ":" + cfg.HealthCheckPort, Handler: monitor.Routes()}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server failed")
		}
	}()
	log.Info().Str("port", cfg.HealthCheckPort).Msg("health endpoints listening")

	go monitor.RunHeartbeatLoop(ctx)

	w := worker.New(workerID, messageBus, jobs, monitor, noopRenderer{}, heartbeatInterval, log)
	go w.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	// Spec §4.4's three-step graceful shutdown: stop accepting new jobs,
	// let in-flight jobs finish normally, then deregister and exit.
	monitor.BeginShutdown(ctx)
	drainDeadline := time.Now().Add(time.Duration(cfg.GracefulShutdownSec) * time.Second)
	for monitor.CurrentJobCount() > 0 && time.Now().Before(drainDeadline) {
		time.Sleep(time.Second)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthServer.Shutdown(shutdownCtx)
	if err := monitor.Deregister(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("deregister failed")
	}
	cancel()
	log.Info().Msg("worker stopped")
}
