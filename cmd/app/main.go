// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"avante-billing/internal/config"
	"avante-billing/internal/domain/ports/adapter"
	"avante-billing/internal/domain/ports/repository"
	"avante-billing/internal/infra/adapters/events"
	payAdapters "avante-billing/internal/infra/adapters/payment"
	tele "avante-billing/internal/infra/adapters/telegram"
	"avante-billing/internal/infra/api"
	"avante-billing/internal/infra/api/apiv1"
	pg "avante-billing/internal/infra/db/postgres"
	"avante-billing/internal/infra/logging"
	"avante-billing/internal/infra/metrics"
	red "avante-billing/internal/infra/redis"
	"avante-billing/internal/infra/sched"
	"avante-billing/internal/infra/worker"
	"avante-billing/internal/usecase"
)

// Set with -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", config.DefaultPath, "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop gateway, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		bootLogger().Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		cfg.Gateway.Provider = "noop"
		logger.Warn().Msg("[DEV MODE] Enabled: payments are not sent to the gateway")
	}
	if err := cfg.ValidateServer(); err != nil {
		logger.Fatal().Err(err).Msg("config")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	health := map[string]api.HealthCheck{"postgres": pool.Ping}

	// ---- Redis (optional) ----
	var redisClient *red.Client
	if cfg.Redis.URL != "" {
		redisClient, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		health["redis"] = redisClient.Ping
	} else {
		logger.Warn().Msg("redis.url not set: no user cache, rate limiting or sweep lock")
	}

	// ---- Repositories ----
	payments := pg.NewPaymentRepo(pool)
	history := pg.NewSubscriptionRepo(pool)
	tm := pg.NewTxManager(pool)
	var userRepo repository.UserRepository = pg.NewPostgresUserRepo(pool)
	if redisClient != nil {
		userRepo = pg.NewUserRepoCacheDecorator(userRepo, redisClient, cfg.Redis.UserCacheTTL)
	}

	// ---- Gateway ----
	var gateway adapter.PaymentGateway
	switch cfg.Gateway.Provider {
	case "noop":
		gateway = payAdapters.NewNoopGateway()
	default:
		gateway, err = payAdapters.NewPiGateway(cfg.Gateway, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("payment gateway")
		}
	}
	logger.Info().Str("gateway", gateway.Name()).Str("base_url", cfg.Gateway.BaseURL).
		Str("api_key", logging.Redact(cfg.Gateway.APIKey, cfg.Runtime.Dev)).Msg("payment gateway ready")

	// ---- Events (async through the worker pool) ----
	var sink adapter.EventPublisher = events.NewLogPublisher(logger)
	if len(cfg.Events.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("kafka")
		}
		sink = kp
	}
	publisher := events.NewAsyncPublisher(ctx, sink, worker.NewPool(4, logger), logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("close event publisher")
		}
	}()

	// ---- Alerts ----
	var alerter adapter.Alerter = tele.NewLogAlerter(logger)
	if cfg.Alerts.TelegramToken != "" {
		alerter, err = tele.NewTelegramAlerter(cfg.Alerts.TelegramToken, cfg.Alerts.ChatID, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram alerter")
		}
	}

	// ---- Use cases ----
	subUC := usecase.NewSubscriptionUseCase(userRepo, history, tm, publisher, logger)
	approvalUC := usecase.NewApprovalUseCase(payments, gateway, subUC, publisher, alerter, logger)
	completionUC := usecase.NewCompletionUseCase(payments, gateway, publisher, alerter, logger)
	sweeperUC := usecase.NewSweeperUseCase(payments, gateway, publisher, alerter, cfg.Sweeper, logger)
	queryUC := usecase.NewPaymentQueryUseCase(payments)

	// ---- HTTP API ----
	deps := apiv1.Deps{
		Approval:      approvalUC,
		Completion:    completionUC,
		Sweeper:       sweeperUC,
		Payments:      queryUC,
		Subscriptions: subUC,
	}
	if cfg.Auth.JWTSecret != "" {
		deps.Auth = apiv1.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	} else {
		logger.Warn().Msg("auth.jwt_secret not set: payment API accepts unauthenticated calls")
	}
	if redisClient != nil {
		deps.Limiter = red.NewRateLimiter(redisClient)
	}
	router := api.NewRouter(cfg.HTTP, apiv1.NewServer(deps, logger), health, logger)
	server := api.NewServer(cfg.HTTP, router, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	// ---- Stale payment sweeper ----
	if cfg.Sweeper.Enabled {
		var locker sched.Locker
		if redisClient != nil {
			locker = red.NewLocker(redisClient)
		}
		sweeper := sched.NewStaleSweeper(cfg.Sweeper, sweeperUC, locker, logger)
		go func() { _ = sweeper.Run(ctx) }()
	}

	// ---- Pool stats ----
	go func() {
		t := time.NewTicker(15 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				metrics.ObservePool(pool)
			}
		}
	}()

	// ---- Graceful shutdown ----
	<-ctx.Done()
	logger.Info().Msg("shutdown requested")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}

func bootLogger() *zerolog.Logger {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	return &l
}
