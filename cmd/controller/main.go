// Command controller runs spec §4.7's Scaling Controller (C9) together
// with spec §4.3's Job Manager recovery loop — spec §5 explicitly allows
// the Job Manager to be "library code run inside monitor/controller
// provided operations are serialized via the KV store," and this is that
// process. Lifecycle grounded on the teacher's cmd/api/main.go.
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
	"github.com/Harshaan-Chugh/rabbitreels/internal/capacity"
	"github.com/Harshaan-Chugh/rabbitreels/internal/config"
	"github.com/Harshaan-Chugh/rabbitreels/internal/jobmanager"
	"github.com/Harshaan-Chugh/rabbitreels/internal/logging"
	"github.com/Harshaan-Chugh/rabbitreels/internal/notify"
	"github.com/Harshaan-Chugh/rabbitreels/internal/reconcile"
	"github.com/Harshaan-Chugh/rabbitreels/internal/scaling"
	"github.com/Harshaan-Chugh/rabbitreels/internal/store"
)

func main() {
	cfg, err := config.Load[config.ScalingControllerConfig]()
	if err != nil {
		panic(err)
	}
	jmCfg, err := config.Load[config.JobManagerConfig]()
	if err != nil {
		panic(err)
	}
	log := logging.New("controller", cfg.LogLevel, cfg.Environment)
	log.Info().Msg("starting rabbitreels scaling controller")

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

	jobs := jobmanager.New(st, cacheClient, messageBus, ledger, notifier, log,
		time.Duration(jmCfg.JobTimeoutSec)*time.Second, time.Duration(jmCfg.JobHeartbeatTimeoutSec)*time.Second)

	capacityTracker := capacity.New(cacheClient, log)

	var fleet scaling.FleetDriver
	switch cfg.DeploymentMode {
	case "compose", "docker":
		fleet, err = scaling.NewDockerFleet(cfg.WorkerImage, cfg.DockerNetwork, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize docker fleet driver")
		}
	default:
		log.Fatal().Str("deployment_mode", cfg.DeploymentMode).Msg("unsupported deployment mode")
	}

	controller := scaling.New(cacheClient, capacityTracker, fleet, notifier, scaling.Config{
		MinWorkers:             cfg.MinWorkers,
		MaxWorkers:             cfg.MaxWorkers,
		ScalingCheckInterval:   time.Duration(cfg.ScalingCheckIntervalSec) * time.Second,
		JobDrainTimeout:        time.Duration(cfg.JobDrainTimeoutSec) * time.Second,
		UnhealthyWorkerTimeout: time.Duration(cfg.UnhealthyWorkerTimeoutSec) * time.Second,
		CooldownPeriod:         time.Duration(cfg.JobCompletionCooldownSec) * time.Second,
		ScaleDownThreshold:     cfg.ScaleDownThreshold,
		HealthCheckPortBase:    cfg.HealthCheckPortBase,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconciler := reconcile.New(st, cacheClient, log)
	if _, err := reconciler.FullSync(ctx); err != nil {
		log.Error().Err(err).Msg("initial snapshot sync failed")
	}

	recoveryInterval := time.Duration(jmCfg.RecoveryIntervalSec) * time.Second
	go jobs.RunRecoveryLoop(ctx, recoveryInterval)
	go controller.RunLoop(ctx)
	go reconciler.RunPeriodicSync(ctx, 5*time.Minute)

	log.Info().
		Dur("scaling_check_interval", time.Duration(cfg.ScalingCheckIntervalSec)*time.Second).
		Dur("recovery_interval", recoveryInterval).
		Msg("controller loops running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	cancel()
	time.Sleep(time.Second) // let in-flight loop iterations observe cancellation
	log.Info().Msg("controller stopped")
}
