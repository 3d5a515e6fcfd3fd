package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"avante-billing/internal/config"
	"avante-billing/internal/domain"
	"avante-billing/internal/domain/model"
	"avante-billing/internal/usecase"
)

var _ Backend = (*BackendClient)(nil)

// BackendError is a non-2xx answer from the payment API.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend: http %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status onto the service error it was produced from.
func (e *BackendError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusBadRequest:
		return domain.ErrInvalidArgument
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return domain.ErrNotAuthenticated
	case e.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case e.StatusCode == http.StatusConflict:
		if strings.Contains(e.Message, domain.ErrTerminalConflict.Error()) {
			return domain.ErrTerminalConflict
		}
		return domain.ErrNotApproved
	case e.StatusCode == http.StatusBadGateway:
		return domain.ErrGatewayUnavailable
	}
	return nil
}

// Retryable reports infrastructure failures; caller errors are never retried.
func (e *BackendError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// BackendClient calls the payment API over HTTP.
type BackendClient struct {
	client *resty.Client
	log    zerolog.Logger
}

func NewBackendClient(cfg config.OrchestratorConfig, logger *zerolog.Logger) (*BackendClient, error) {
	base, err := url.Parse(cfg.BackendURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", cfg.BackendURL)
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BackendURL, "/") + "/api/v1").
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &BackendClient{
		client: client,
		log:    logger.With().Str("component", "BackendClient").Logger(),
	}, nil
}

type outcomeBody struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	PaymentID    string `json:"paymentId,omitempty"`
	CleanedCount *int   `json:"cleanedCount,omitempty"`
}

type approveBody struct {
	PaymentID string          `json:"paymentId"`
	UserID    string          `json:"userId"`
	Amount    decimal.Decimal `json:"amount"`
	Memo      string          `json:"memo,omitempty"`
	Metadata  model.Metadata  `json:"metadata,omitempty"`
}

type completeBody struct {
	PaymentID string `json:"paymentId"`
	TxID      string `json:"txid"`
	UserID    string `json:"userId"`
}

func (c *BackendClient) Approve(ctx context.Context, req usecase.ApproveRequest) (*usecase.Outcome, error) {
	return c.post(ctx, "/payments/approve", approveBody{
		PaymentID: req.PaymentID,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Memo:      req.Memo,
		Metadata:  req.Metadata,
	})
}

func (c *BackendClient) Complete(ctx context.Context, req usecase.CompleteRequest) (*usecase.Outcome, error) {
	return c.post(ctx, "/payments/complete", completeBody{
		PaymentID: req.PaymentID,
		TxID:      req.SettlementTxID,
		UserID:    req.UserID,
	})
}

func (c *BackendClient) CleanupStale(ctx context.Context, userID string) (*usecase.Outcome, error) {
	return c.post(ctx, "/payments/cleanup-stale", map[string]string{"userId": userID})
}

// PaymentStatus reads the record through the lookup endpoint, whose body
// mirrors model.PaymentRecord.
func (c *BackendClient) PaymentStatus(ctx context.Context, paymentID string) (*model.PaymentRecord, error) {
	var rec model.PaymentRecord
	var fail outcomeBody
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&rec).
		SetError(&fail).
		Get("/payments/" + url.PathEscape(paymentID))
	if err != nil {
		return nil, fmt.Errorf("backend unreachable: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, &BackendError{StatusCode: resp.StatusCode(), Message: fail.Message}
	}
	return &rec, nil
}

// Subscription is the tier lookup answer.
type Subscription struct {
	UserID  string `json:"userId"`
	Tier    string `json:"tier"`
	History []struct {
		Plan      string     `json:"plan"`
		Duration  *int       `json:"duration"`
		StartDate time.Time  `json:"startDate"`
		EndDate   *time.Time `json:"endDate"`
	} `json:"history"`
}

func (c *BackendClient) Subscription(ctx context.Context, userID string) (*Subscription, error) {
	var sub Subscription
	var fail outcomeBody
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&sub).
		SetError(&fail).
		Get("/subscriptions/" + url.PathEscape(userID))
	if err != nil {
		return nil, fmt.Errorf("backend unreachable: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, &BackendError{StatusCode: resp.StatusCode(), Message: fail.Message}
	}
	return &sub, nil
}

func (c *BackendClient) post(ctx context.Context, path string, in any) (*usecase.Outcome, error) {
	var out outcomeBody
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(in).
		SetResult(&out).
		SetError(&out).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("backend unreachable: %w", err)
	}
	if !resp.IsSuccess() {
		c.log.Debug().Str("path", path).Int("status", resp.StatusCode()).Str("message", out.Message).Msg("backend returned non-2xx")
		return nil, &BackendError{StatusCode: resp.StatusCode(), Message: out.Message}
	}
	o := &usecase.Outcome{Success: out.Success, Message: out.Message, PaymentID: out.PaymentID}
	if out.CleanedCount != nil {
		o.CleanedCount = *out.CleanedCount
	}
	return o, nil
}

// retryable classifies a backend call failure for the retry policy.
func retryable(err error) bool {
	if errors.Is(err, errBusinessFailure) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Retryable()
	}
	return true
}
