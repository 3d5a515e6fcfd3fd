// Command payctl is the client side of the subscription payment handshake:
// it starts payments through the orchestrator and reconciles the pending
// marker a crashed session leaves behind.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"avante-billing/internal/config"
	"avante-billing/internal/infra/api/apiv1"
	"avante-billing/internal/infra/logging"
	red "avante-billing/internal/infra/redis"
	"avante-billing/internal/orchestrator"
)

var version = "dev"

type options struct {
	configPath string
	dev        bool
	userID     string
}

func main() {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "payctl",
		Short:         "Client-side subscription payment tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&opts.dev, "dev", false, "developer mode (console logs)")
	rootCmd.PersistentFlags().StringVarP(&opts.userID, "user", "u", "", "user id (overrides orchestrator.user_id)")

	rootCmd.AddCommand(payCmd(opts))
	rootCmd.AddCommand(pendingCmd(opts))
	rootCmd.AddCommand(resumeCmd(opts))
	rootCmd.AddCommand(cleanupCmd(opts))
	rootCmd.AddCommand(statusCmd(opts))
	rootCmd.AddCommand(subscriptionCmd(opts))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session is everything a command needs to talk to the backend.
type session struct {
	cfg     *config.Config
	log     *zerolog.Logger
	backend *orchestrator.BackendClient
	redis   *red.Client
}

func (s *session) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

func openSession(ctx context.Context, opts *options, withRedis bool) (*session, error) {
	cfg, err := config.LoadConfig(opts.configPath, opts.dev)
	if err != nil {
		return nil, err
	}
	if opts.userID != "" {
		cfg.Orchestrator.UserID = opts.userID
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	if cfg.Orchestrator.UserID == "" {
		return nil, fmt.Errorf("no user: set orchestrator.user_id or pass --user")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	// Dev setups share the server's secret; mint a token instead of asking for one.
	if cfg.Orchestrator.Token == "" && cfg.Auth.JWTSecret != "" {
		tok, err := apiv1.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Mint(cfg.Orchestrator.UserID)
		if err != nil {
			return nil, fmt.Errorf("mint token: %w", err)
		}
		cfg.Orchestrator.Token = tok
	}

	backend, err := orchestrator.NewBackendClient(cfg.Orchestrator, logger)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, log: logger, backend: backend}
	if withRedis {
		if s.redis, err = red.NewClient(ctx, &cfg.Redis); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
	}
	return s, nil
}

func (s *session) newOrchestrator(sdk orchestrator.GatewaySDK) *orchestrator.Orchestrator {
	return orchestrator.New(s.cfg.Orchestrator, sdk, s.backend, red.NewPendingMarkerRepo(s.redis), s.log)
}
