package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"avante-billing/internal/domain/ports/adapter"
	"avante-billing/internal/infra/metrics"
)

var _ adapter.Alerter = (*TelegramAlerter)(nil)

// sender is the slice of *tgbotapi.BotAPI used for alerts.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter posts lifecycle anomalies to an operator chat.
type TelegramAlerter struct {
	bot    sender
	chatID int64
	log    zerolog.Logger
}

func NewTelegramAlerter(token string, chatID int64, logger *zerolog.Logger) (*TelegramAlerter, error) {
	if token == "" {
		return nil, errors.New("telegram token empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newTelegramAlerter(bot, chatID, logger), nil
}

func newTelegramAlerter(bot sender, chatID int64, logger *zerolog.Logger) *TelegramAlerter {
	return &TelegramAlerter{
		bot:    bot,
		chatID: chatID,
		log:    logger.With().Str("component", "TelegramAlerter").Logger(),
	}
}

func (a *TelegramAlerter) Alert(ctx context.Context, an adapter.Anomaly) error {
	metrics.IncAnomaly(string(an.Kind))
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	msg := tgbotapi.NewMessage(a.chatID, formatAnomaly(an))
	msg.DisableWebPagePreview = true
	if _, err := a.bot.Send(msg); err != nil {
		a.log.Error().Err(err).Str("kind", string(an.Kind)).Str("payment_id", an.PaymentID).Msg("alert delivery failed")
		return fmt.Errorf("telegram: send alert: %w", err)
	}
	return nil
}

func formatAnomaly(an adapter.Anomaly) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ payment anomaly: %s\n", an.Kind)
	fmt.Fprintf(&b, "payment: %s\n", an.PaymentID)
	if an.UserID != "" {
		fmt.Fprintf(&b, "user: %s\n", an.UserID)
	}
	if an.Detail != "" {
		fmt.Fprintf(&b, "detail: %s\n", an.Detail)
	}
	return strings.TrimRight(b.String(), "\n")
}
