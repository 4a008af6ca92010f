// Package config loads per-component configuration from environment
// variables using struct tags, the declarative successor to the teacher's
// hand-rolled LoadConfig/getEnv pair in cmd/api/main.go.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Common holds the env vars every process reads: connection strings and
// logging knobs.
type Common struct {
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	PostgresURL   string `env:"POSTGRES_URL,required,notEmpty"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	Environment   string `env:"ENVIRONMENT" envDefault:"production"`
}

// GatewayConfig is read by cmd/gateway. Matches spec §6's HTTP API surface
// plus the billing provider and auth verification knobs. Bearer JWTs are
// issued by the external auth service named in spec §1's Non-goals and
// verified here against a shared HMAC secret (see internal/auth).
type GatewayConfig struct {
	Common
	HTTPPort            string `env:"HTTP_PORT" envDefault:"8080"`
	AuthJWTSecret       string `env:"AUTH_JWT_SECRET,required,notEmpty"`
	AuthJWTIssuer       string `env:"AUTH_JWT_ISSUER" envDefault:""`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET" envDefault:""`
	CheckoutBaseURL     string `env:"CHECKOUT_BASE_URL" envDefault:"http://localhost:8080/checkout"`
	FrontendURL         string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	ThemesConfigPath    string `env:"THEMES_CONFIG_PATH" envDefault:"config/themes.yaml"`
	SlackWebhookURL     string `env:"SLACK_WEBHOOK_URL" envDefault:""`
	WelcomeCredits      int    `env:"WELCOME_CREDITS" envDefault:"1"`
}

// WorkerConfig is read by cmd/worker. Matches spec §4.4's env vars.
type WorkerConfig struct {
	Common
	HeartbeatInterval   int    `env:"HEARTBEAT_INTERVAL" envDefault:"10"`
	HealthCheckPort     string `env:"HEALTH_CHECK_PORT" envDefault:"8000"`
	GracefulShutdownSec int    `env:"GRACEFUL_SHUTDOWN_TIMEOUT" envDefault:"300"`
	WorkerID            string `env:"WORKER_ID" envDefault:""`
}

// JobManagerConfig is read wherever the job-manager recovery loop runs
// (cmd/controller by default, per spec §5's "physically may be library
// code run inside monitor/controller").
type JobManagerConfig struct {
	Common
	JobTimeoutSec          int `env:"JOB_TIMEOUT" envDefault:"3600"`
	JobHeartbeatTimeoutSec int `env:"JOB_HEARTBEAT_TIMEOUT" envDefault:"300"`
	JobMaxRetries          int `env:"JOB_MAX_RETRIES" envDefault:"3"`
	RecoveryIntervalSec    int `env:"RECOVERY_INTERVAL" envDefault:"30"`
}

// CapacityConfig declares the capacity-tracking env vars. No process loads
// it: internal/capacity uses its own fixed constants instead.
type CapacityConfig struct {
	CapacityTrackingWindowSec int `env:"CAPACITY_TRACKING_WINDOW" envDefault:"3600"`
	PerformanceSamples        int `env:"PERFORMANCE_SAMPLES" envDefault:"10"`
}

// QueueMonitorConfig is read by cmd/monitor. Matches spec §4.6.
type QueueMonitorConfig struct {
	Common
	MinWorkers                int     `env:"MIN_WORKERS" envDefault:"1"`
	MaxWorkers                int     `env:"MAX_WORKERS" envDefault:"10"`
	ScaleDownThreshold        float64 `env:"SCALE_DOWN_THRESHOLD" envDefault:"0.5"`
	CooldownPeriodSec         int     `env:"COOLDOWN_PERIOD" envDefault:"60"`
	MetricsCollectionInterval int     `env:"METRICS_COLLECTION_INTERVAL" envDefault:"15"`
}

// ScalingControllerConfig is read by cmd/controller. Matches spec §4.7.
type ScalingControllerConfig struct {
	Common
	MinWorkers                int     `env:"MIN_WORKERS" envDefault:"1"`
	MaxWorkers                int     `env:"MAX_WORKERS" envDefault:"10"`
	ScalingCheckIntervalSec   int     `env:"SCALING_CHECK_INTERVAL" envDefault:"30"`
	JobDrainTimeoutSec        int     `env:"JOB_DRAIN_TIMEOUT" envDefault:"1800"`
	UnhealthyWorkerTimeoutSec int     `env:"UNHEALTHY_WORKER_TIMEOUT" envDefault:"300"`
	JobCompletionCooldownSec  int     `env:"JOB_COMPLETION_COOLDOWN" envDefault:"120"`
	ScaleDownThreshold        float64 `env:"SCALE_DOWN_THRESHOLD" envDefault:"0.5"`
	DockerNetwork             string  `env:"DOCKER_NETWORK" envDefault:"rabbitreels"`
	WorkerImage               string  `env:"WORKER_IMAGE" envDefault:"rabbitreels/worker:latest"`
	DeploymentMode            string  `env:"DEPLOYMENT_MODE" envDefault:"compose"`
	HealthCheckPortBase       int     `env:"HEALTH_CHECK_PORT_BASE" envDefault:"8000"`
}

// Load parses env vars into T, returning a wrapped error on missing
// required fields or type mismatches.
func Load[T any]() (*T, error) {
	var cfg T
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
