//go:build !integration

package apiv1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avante-billing/internal/domain"
	"avante-billing/internal/domain/model"
	apiv1 "avante-billing/internal/infra/api/apiv1"
	"avante-billing/internal/usecase"
)

//
// ---------------- use case mocks ----------------
//

type mockApproval struct {
	ApproveFunc func(ctx context.Context, req usecase.ApproveRequest) (*usecase.Outcome, error)
	got         usecase.ApproveRequest
}

func (m *mockApproval) Approve(ctx context.Context, req usecase.ApproveRequest) (*usecase.Outcome, error) {
	m.got = req
	if m.ApproveFunc != nil {
		return m.ApproveFunc(ctx, req)
	}
	return &usecase.Outcome{Success: true, Message: usecase.MsgApproved, PaymentID: req.PaymentID}, nil
}

type mockCompletion struct {
	CompleteFunc func(ctx context.Context, req usecase.CompleteRequest) (*usecase.Outcome, error)
	got          usecase.CompleteRequest
}

func (m *mockCompletion) Complete(ctx context.Context, req usecase.CompleteRequest) (*usecase.Outcome, error) {
	m.got = req
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &usecase.Outcome{Success: true, Message: usecase.MsgCompleted, PaymentID: req.PaymentID}, nil
}

type mockSweeper struct {
	CleanupStaleFunc func(ctx context.Context, userID string) (*usecase.Outcome, error)
}

func (m *mockSweeper) CleanupStale(ctx context.Context, userID string) (*usecase.Outcome, error) {
	if m.CleanupStaleFunc != nil {
		return m.CleanupStaleFunc(ctx, userID)
	}
	return &usecase.Outcome{Success: true, Message: usecase.MsgCleanupDone}, nil
}

func (m *mockSweeper) SweepAll(ctx context.Context) (int, error) { return 0, nil }

type mockQuery struct {
	records map[string]*model.PaymentRecord
}

func (m *mockQuery) Get(ctx context.Context, id string) (*model.PaymentRecord, error) {
	if p, ok := m.records[id]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

type mockSubscriptions struct {
	views map[string]*usecase.SubscriptionView
}

func (m *mockSubscriptions) Current(ctx context.Context, userID string) (*usecase.SubscriptionView, error) {
	if v, ok := m.views[userID]; ok {
		return v, nil
	}
	return nil, domain.ErrNotFound
}

type mockLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

func (m *mockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return m.AllowFunc(ctx, key, limit, window)
}

//
// -------------------- test helpers --------------------
//

type harness struct {
	approval   *mockApproval
	completion *mockCompletion
	sweeper    *mockSweeper
	query      *mockQuery
	subs       *mockSubscriptions
	router     *chi.Mux
}

func newLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

func newHarness(auth *apiv1.Authenticator, limiter apiv1.RateLimiter) *harness {
	h := &harness{
		approval:   &mockApproval{},
		completion: &mockCompletion{},
		sweeper:    &mockSweeper{},
		query:      &mockQuery{records: map[string]*model.PaymentRecord{}},
		subs:       &mockSubscriptions{views: map[string]*usecase.SubscriptionView{}},
	}
	deps := apiv1.Deps{
		Approval:   h.approval,
		Completion: h.completion,
		Sweeper:    h.sweeper,
		Payments:      h.query,
		Subscriptions: h.subs,
		Auth:          auth,
	}
	if limiter != nil {
		deps.Limiter = limiter
	}
	r := chi.NewRouter()
	apiv1.RegisterAPIV1(r, apiv1.NewServer(deps, newLogger()))
	h.router = r
	return h
}

func (h *harness) do(method, path, body, token string) *httptest.ResponseRecorder {
	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) apiv1.Response {
	t.Helper()
	var resp apiv1.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp), "body=%s", rec.Body.String())
	return resp
}

const approveBody = `{"paymentId":"pay-1","userId":"user-1","amount":0.5,"memo":"Avante Maps individual subscription (monthly)","metadata":{"subscriptionTier":"individual","frequency":"monthly"}}`

//
// -------------------- tests --------------------
//

func TestApprove(t *testing.T) {
	t.Run("200 success passes the decoded request through", func(t *testing.T) {
		h := newHarness(nil, nil)

		rec := h.do(http.MethodPost, "/api/v1/payments/approve", approveBody, "")

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decodeResponse(t, rec)
		assert.True(t, resp.Success)
		assert.Equal(t, "pay-1", resp.PaymentID)
		assert.Nil(t, resp.CleanedCount)
		assert.True(t, decimal.RequireFromString("0.5").Equal(h.approval.got.Amount))
		assert.Equal(t, "individual", h.approval.got.Metadata.SubscriptionTier())
	})

	t.Run("200 with success=false on a business failure", func(t *testing.T) {
		h := newHarness(nil, nil)
		h.approval.ApproveFunc = func(ctx context.Context, req usecase.ApproveRequest) (*usecase.Outcome, error) {
			return &usecase.Outcome{Success: false, Message: usecase.MsgPaymentCancelled, PaymentID: req.PaymentID}, nil
		}

		rec := h.do(http.MethodPost, "/api/v1/payments/approve", approveBody, "")

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeResponse(t, rec)
		assert.False(t, resp.Success)
		assert.Equal(t, usecase.MsgPaymentCancelled, resp.Message)
	})

	t.Run("400 on invalid bodies", func(t *testing.T) {
		h := newHarness(nil, nil)
		for _, body := range []string{
			"",
			"{not json",
			`{"userId":"user-1","amount":1}`,
			`{"paymentId":"pay-1","userId":"user-1","amount":0}`,
			`{"paymentId":"pay-1","userId":"user-1","amount":"-3"}`,
		} {
			rec := h.do(http.MethodPost, "/api/v1/payments/approve", body, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
		}
	})

	t.Run("maps service errors onto status codes", func(t *testing.T) {
		cases := map[error]int{
			domain.ErrInvalidArgument:                                   http.StatusBadRequest,
			fmt.Errorf("%w: http 503", domain.ErrGatewayUnavailable):    http.StatusBadGateway,
			fmt.Errorf("create payment: %w", domain.ErrOperationFailed): http.StatusInternalServerError,
			errors.New("boom"):                                          http.StatusInternalServerError,
		}
		for svcErr, want := range cases {
			h := newHarness(nil, nil)
			h.approval.ApproveFunc = func(ctx context.Context, req usecase.ApproveRequest) (*usecase.Outcome, error) {
				return nil, svcErr
			}
			rec := h.do(http.MethodPost, "/api/v1/payments/approve", approveBody, "")
			assert.Equal(t, want, rec.Code, "error %v", svcErr)
			assert.False(t, decodeResponse(t, rec).Success)
		}
	})
}

func TestComplete(t *testing.T) {
	body := `{"paymentId":"pay-1","txid":"tx-1","userId":"user-1"}`

	t.Run("200 success", func(t *testing.T) {
		h := newHarness(nil, nil)
		rec := h.do(http.MethodPost, "/api/v1/payments/complete", body, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decodeResponse(t, rec).Success)
		assert.Equal(t, "tx-1", h.completion.got.SettlementTxID)
	})

	t.Run("409 when the payment is not approved", func(t *testing.T) {
		h := newHarness(nil, nil)
		h.completion.CompleteFunc = func(ctx context.Context, req usecase.CompleteRequest) (*usecase.Outcome, error) {
			return nil, domain.ErrNotApproved
		}
		rec := h.do(http.MethodPost, "/api/v1/payments/complete", body, "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("400 without a txid", func(t *testing.T) {
		h := newHarness(nil, nil)
		rec := h.do(http.MethodPost, "/api/v1/payments/complete", `{"paymentId":"pay-1","userId":"user-1"}`, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCleanupStale(t *testing.T) {
	t.Run("200 always carries cleanedCount", func(t *testing.T) {
		h := newHarness(nil, nil)
		h.sweeper.CleanupStaleFunc = func(ctx context.Context, userID string) (*usecase.Outcome, error) {
			return &usecase.Outcome{Success: true, Message: usecase.MsgCleanupDone}, nil
		}
		rec := h.do(http.MethodPost, "/api/v1/payments/cleanup-stale", `{"userId":"user-1"}`, "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeResponse(t, rec)
		require.NotNil(t, resp.CleanedCount)
		assert.Equal(t, 0, *resp.CleanedCount)
	})

	t.Run("429 when the limiter refuses", func(t *testing.T) {
		h := newHarness(nil, &mockLimiter{AllowFunc: func(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
			assert.Equal(t, "rate_limit:user-1:cleanup-stale", key)
			return false, nil
		}})
		rec := h.do(http.MethodPost, "/api/v1/payments/cleanup-stale", `{"userId":"user-1"}`, "")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("fails open when the limiter is down", func(t *testing.T) {
		h := newHarness(nil, &mockLimiter{AllowFunc: func(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
			return false, errors.New("redis down")
		}})
		rec := h.do(http.MethodPost, "/api/v1/payments/cleanup-stale", `{"userId":"user-1"}`, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestGetPayment(t *testing.T) {
	h := newHarness(nil, nil)
	txid := "tx-1"
	h.query.records["pay-1"] = &model.PaymentRecord{
		PaymentID:      "pay-1",
		UserID:         "user-1",
		Amount:         decimal.RequireFromString("1.5"),
		Status:         model.PaymentStatus{Approved: true, Completed: true, Verified: true},
		SettlementTxID: &txid,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	rec := h.do(http.MethodGet, "/api/v1/payments/pay-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got apiv1.PaymentStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.True(t, got.Status.Completed)
	assert.Equal(t, "tx-1", *got.SettlementTxID)

	rec = h.do(http.MethodGet, "/api/v1/payments/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSubscription(t *testing.T) {
	auth := apiv1.NewAuthenticator("test-secret", time.Minute)
	token, err := auth.Mint("user-1")
	require.NoError(t, err)
	h := newHarness(auth, nil)
	days := 30
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, days)
	h.subs.views["user-1"] = &usecase.SubscriptionView{
		UserID: "user-1",
		Tier:   model.TierSmallBusiness,
		History: []*model.SubscriptionHistoryEntry{
			{UserID: "user-1", Plan: model.TierSmallBusiness, Duration: &days, StartDate: start, EndDate: &end},
		},
	}

	rec := h.do(http.MethodGet, "/api/v1/subscriptions/user-1", "", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got apiv1.Subscription
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "small-business", got.Tier)
	require.Len(t, got.History, 1)
	require.NotNil(t, got.History[0].EndDate)
	assert.Equal(t, "2026-01-31T00:00:00Z", *got.History[0].EndDate)

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/v1/subscriptions/user-2", "", token).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/v1/subscriptions/user-1", "", "").Code)

	other, err := auth.Mint("ghost")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/subscriptions/ghost", "", other).Code)
}

func TestAuth(t *testing.T) {
	auth := apiv1.NewAuthenticator("test-secret", time.Minute)
	token, err := auth.Mint("user-1")
	require.NoError(t, err)
	other, err := apiv1.NewAuthenticator("other-secret", time.Minute).Mint("user-1")
	require.NoError(t, err)

	h := newHarness(auth, nil)
	h.query.records["pay-2"] = &model.PaymentRecord{PaymentID: "pay-2", UserID: "user-2"}

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodPost, "/api/v1/payments/approve", approveBody, "").Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodPost, "/api/v1/payments/approve", approveBody, other).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/payments/approve", approveBody, token).Code)

	foreign := `{"paymentId":"pay-9","userId":"user-2","amount":1}`
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/api/v1/payments/approve", foreign, token).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/payments/pay-2", "", token).Code)
}
