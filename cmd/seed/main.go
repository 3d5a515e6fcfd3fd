// Command seed creates development users and prints API tokens for them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"avante-billing/internal/config"
	"avante-billing/internal/domain/model"
	"avante-billing/internal/infra/api/apiv1"
	pg "avante-billing/internal/infra/db/postgres"
	"avante-billing/internal/infra/logging"
)

func main() {
	cfgPath := flag.String("config", config.DefaultPath, "path to YAML config file")
	users := flag.String("users", "dev-user-1,dev-user-2", "comma separated user ids (id or id:tier)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		fail(err, "config")
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	repo := pg.NewPostgresUserRepo(pool)

	var auth *apiv1.Authenticator
	if cfg.Auth.JWTSecret != "" {
		auth = apiv1.NewAuthenticator(cfg.Auth.JWTSecret, 24*time.Hour)
	}

	for _, entry := range strings.Split(*users, ",") {
		u, err := parseUser(entry)
		if err != nil {
			logger.Fatal().Err(err).Str("user", entry).Msg("bad user")
		}
		if u == nil {
			continue
		}
		if err := repo.Save(ctx, nil, u); err != nil {
			logger.Fatal().Err(err).Str("user", u.ID).Msg("save user")
		}
		line := fmt.Sprintf("%-16s tier=%-15s", u.ID, tierLabel(u))
		if auth != nil {
			tok, err := auth.Mint(u.ID)
			if err != nil {
				logger.Fatal().Err(err).Msg("mint token")
			}
			line += " token=" + tok
		}
		fmt.Println(line)
	}
	logger.Info().Msg("seed done")
}

func parseUser(entry string) (*model.User, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil, nil
	}
	id, tierStr, hasTier := strings.Cut(entry, ":")
	u := &model.User{ID: id, UpdatedAt: time.Now()}
	if hasTier {
		t, err := model.ParseTier(tierStr)
		if err != nil {
			return nil, err
		}
		u.Subscription = &t
	}
	return u, nil
}

func tierLabel(u *model.User) string {
	if t := u.CurrentTier(); t != "" {
		return string(t)
	}
	return "-"
}

func fail(err error, msg string) {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	l.Fatal().Err(err).Msg(msg)
}
