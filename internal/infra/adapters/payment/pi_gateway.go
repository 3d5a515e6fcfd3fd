// File: internal/infra/adapters/payment/pi_gateway.go
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"avante-billing/internal/config"
	"avante-billing/internal/domain/ports/adapter"
	"avante-billing/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*PiGateway)(nil)

// PiGateway implements adapter.PaymentGateway against the Pi Network
// server-side payments API (POST /payments/{id}/approve|complete|cancel).
type PiGateway struct {
	client *resty.Client
	log    zerolog.Logger
}

func NewPiGateway(cfg config.GatewayConfig, logger *zerolog.Logger) (*PiGateway, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gateway api key empty")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid gateway base url %q", cfg.BaseURL)
	}
	scheme := cfg.AuthScheme
	if scheme == "" {
		scheme = "Key"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Authorization", scheme+" "+cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &PiGateway{
		client: client,
		log:    logger.With().Str("component", "PiGateway").Logger(),
	}, nil
}

func (g *PiGateway) Name() string { return "pi" }

func (g *PiGateway) Approve(ctx context.Context, paymentID string) error {
	return g.post(ctx, adapter.GatewayOpApprove, paymentID, nil)
}

func (g *PiGateway) Complete(ctx context.Context, paymentID, settlementTxID string) error {
	return g.post(ctx, adapter.GatewayOpComplete, paymentID, map[string]string{"txid": settlementTxID})
}

func (g *PiGateway) Cancel(ctx context.Context, paymentID string) error {
	return g.post(ctx, adapter.GatewayOpCancel, paymentID, nil)
}

// errorEnvelope covers the shapes the gateway uses for failures.
type errorEnvelope struct {
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
	Message      string `json:"message"`
}

func (g *PiGateway) post(ctx context.Context, op, paymentID string, body any) error {
	if strings.TrimSpace(paymentID) == "" {
		return &adapter.GatewayError{Op: op, StatusCode: 400, Message: "payment id empty"}
	}

	start := time.Now()
	req := g.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post("/payments/" + url.PathEscape(paymentID) + "/" + op)
	took := time.Since(start)

	if err != nil {
		metrics.ObserveGatewayCall(g.Name(), op, "transient", took)
		g.log.Warn().Err(err).Str("op", op).Str("payment_id", paymentID).Msg("gateway unreachable")
		return &adapter.GatewayError{Op: op, PaymentID: paymentID, Err: err}
	}
	if resp.IsSuccess() {
		metrics.ObserveGatewayCall(g.Name(), op, "ok", took)
		return nil
	}

	gerr := parseGatewayError(op, paymentID, resp.StatusCode(), resp.Body())
	result := "rejected"
	switch {
	case gerr.AlreadyInState():
		result = "already"
	case gerr.Transient():
		result = "transient"
	}
	metrics.ObserveGatewayCall(g.Name(), op, result, took)
	g.log.Debug().
		Str("op", op).
		Str("payment_id", paymentID).
		Int("status", gerr.StatusCode).
		Str("code", gerr.Code).
		Str("message", gerr.Message).
		Msg("gateway returned non-2xx")
	return gerr
}

func parseGatewayError(op, paymentID string, status int, body []byte) *adapter.GatewayError {
	gerr := &adapter.GatewayError{Op: op, PaymentID: paymentID, StatusCode: status}

	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil {
		if isCodeToken(env.Error) {
			gerr.Code = env.Error
		} else if env.Error != "" {
			gerr.Message = env.Error
		}
		if env.ErrorMessage != "" {
			gerr.Message = env.ErrorMessage
		} else if env.Message != "" && gerr.Message == "" {
			gerr.Message = env.Message
		}
	}
	if gerr.Code == "" && gerr.Message == "" {
		gerr.Message = truncate(strings.TrimSpace(string(body)), 256)
	}
	return gerr
}

// isCodeToken accepts snake_case identifiers like "already_approved".
func isCodeToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
