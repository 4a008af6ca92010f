// Command gateway runs spec §4.2's Submission Gateway (C5): the public
// HTTP surface for submitting render jobs, querying status, and billing.
// Lifecycle grounded on the teacher's cmd/api/main.go: load config, wire
// dependencies, serve, wait for SIGINT/SIGTERM, shut down gracefully.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Harshaan-Chugh/rabbitreels/internal/auth"
	"github.com/Harshaan-Chugh/rabbitreels/internal/bus"
	"github.com/Harshaan-Chugh/rabbitreels/internal/cache"
	"github.com/Harshaan-Chugh/rabbitreels/internal/config"
	"github.com/Harshaan-Chugh/rabbitreels/internal/gateway"
	"github.com/Harshaan-Chugh/rabbitreels/internal/jobmanager"
	"github.com/Harshaan-Chugh/rabbitreels/internal/logging"
	"github.com/Harshaan-Chugh/rabbitreels/internal/notify"
	"github.com/Harshaan-Chugh/rabbitreels/internal/paymentprovider"
	"github.com/Harshaan-Chugh/rabbitreels/internal/store"
	"github.com/Harshaan-Chugh/rabbitreels/internal/themes"
)

func main() {
	cfg, err := config.Load[config.GatewayConfig]()
	if err != nil {
		panic(err)
	}
	log := logging.New("gateway", cfg.LogLevel, cfg.Environment)
	log.Info().Str("http_port", cfg.HTTPPort).Msg("starting rabbitreels gateway")

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
	if err := messageBus.EnsureGroup(context.Background(), bus.QueueScripts); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure scripts consumer group")
	}

	ledger := store.NewLedger(st)
	notifier := notify.New(cfg.SlackWebhookURL, "#rabbitreels-ops", log)
	jobs := jobmanager.New(st, cacheClient, messageBus, ledger, notifier,
		log, time.Hour, 5*time.Minute)

	themeRegistry, err := themes.Load(cfg.ThemesConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load theme registry")
	}

	verifier, err := auth.NewVerifier(cfg.AuthJWTSecret, cfg.AuthJWTIssuer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize auth verifier")
	}

	provider := paymentprovider.New(cfg.CheckoutBaseURL, cfg.FrontendURL+"/billing/success", cfg.StripeWebhookSecret)
	prices := gateway.CreditPrices{
		10:  "price_credits_10",
		50:  "price_credits_50",
		200: "price_credits_200",
	}
	billing := gateway.NewBillingHandler(ledger, cacheClient, provider, prices, log)

	gw := gateway.New(jobs, ledger, st, messageBus, themeRegistry, billing, cfg.WelcomeCredits, log)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      gw.Routes(verifier),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("gateway http server failed")
		}
	}()
	log.Info().Str("port", cfg.HTTPPort).Msg("gateway listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown did not complete cleanly")
	}
	log.Info().Msg("gateway stopped")
}
