//go:build !integration

package orchestrator

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"avante-billing/internal/config"
	"avante-billing/internal/domain"
	"avante-billing/internal/domain/model"
	"avante-billing/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

//
// ---------------- gateway SDK ----------------
//

// fakeSDK runs script on its own goroutine, the way a real SDK delivers
// callbacks after CreatePayment returns.
type fakeSDK struct {
	mu      sync.Mutex
	created []PaymentData
	err     error
	script  func(ctx context.Context, cb Callbacks)
}

func (s *fakeSDK) CreatePayment(ctx context.Context, data PaymentData, cb Callbacks) error {
	s.mu.Lock()
	s.created = append(s.created, data)
	s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.script != nil {
		go s.script(ctx, cb)
	}
	return nil
}

func (s *fakeSDK) Created() []PaymentData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PaymentData(nil), s.created...)
}

//
// ---------------- backend ----------------
//

type MockBackend struct {
	ApproveFunc       func(ctx context.Context, req usecase.ApproveRequest) (*usecase.Outcome, error)
	CompleteFunc      func(ctx context.Context, req usecase.CompleteRequest) (*usecase.Outcome, error)
	CleanupStaleFunc  func(ctx context.Context, userID string) (*usecase.Outcome, error)
	PaymentStatusFunc func(ctx context.Context, paymentID string) (*model.PaymentRecord, error)

	mu        sync.Mutex
	approvals []usecase.ApproveRequest
	completes []usecase.CompleteRequest
	cleanups  int
}

func (m *MockBackend) Approve(ctx context.Context, req usecase.ApproveRequest) (*usecase.Outcome, error) {
	m.mu.Lock()
	m.approvals = append(m.approvals, req)
	m.mu.Unlock()
	if m.ApproveFunc != nil {
		return m.ApproveFunc(ctx, req)
	}
	return &usecase.Outcome{Success: true, Message: usecase.MsgApproved, PaymentID: req.PaymentID}, nil
}

func (m *MockBackend) Complete(ctx context.Context, req usecase.CompleteRequest) (*usecase.Outcome, error) {
	m.mu.Lock()
	m.completes = append(m.completes, req)
	m.mu.Unlock()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &usecase.Outcome{Success: true, Message: usecase.MsgCompleted, PaymentID: req.PaymentID}, nil
}

func (m *MockBackend) CleanupStale(ctx context.Context, userID string) (*usecase.Outcome, error) {
	m.mu.Lock()
	m.cleanups++
	m.mu.Unlock()
	if m.CleanupStaleFunc != nil {
		return m.CleanupStaleFunc(ctx, userID)
	}
	return &usecase.Outcome{Success: true, Message: usecase.MsgCleanupDone}, nil
}

func (m *MockBackend) PaymentStatus(ctx context.Context, paymentID string) (*model.PaymentRecord, error) {
	if m.PaymentStatusFunc != nil {
		return m.PaymentStatusFunc(ctx, paymentID)
	}
	return nil, domain.ErrNotFound
}

func (m *MockBackend) Approvals() []usecase.ApproveRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]usecase.ApproveRequest(nil), m.approvals...)
}

func (m *MockBackend) Completes() []usecase.CompleteRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]usecase.CompleteRequest(nil), m.completes...)
}

//
// ---------------- pending markers ----------------
//

type MockMarkerRepo struct {
	mu      sync.Mutex
	markers map[string]*model.PendingMarker
	saves   int
}

func NewMockMarkerRepo() *MockMarkerRepo {
	return &MockMarkerRepo{markers: make(map[string]*model.PendingMarker)}
}

func (r *MockMarkerRepo) Save(ctx context.Context, m *model.PendingMarker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.markers[m.UserID] = &cp
	r.saves++
	return nil
}

func (r *MockMarkerRepo) Find(ctx context.Context, userID string) (*model.PendingMarker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.markers[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *MockMarkerRepo) Delete(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.markers, userID)
	return nil
}

func (r *MockMarkerRepo) Get(userID string) *model.PendingMarker {
	m, _ := r.Find(context.Background(), userID)
	return m
}

func (r *MockMarkerRepo) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

//
// ---------------- fixture ----------------
//

type fixture struct {
	sdk     *fakeSDK
	backend *MockBackend
	markers *MockMarkerRepo
	orch    *Orchestrator
}

var fastRetry = RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, DelayStep: time.Millisecond}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		sdk:     &fakeSDK{},
		backend: &MockBackend{},
		markers: NewMockMarkerRepo(),
	}
	opts = append([]Option{WithRetryPolicy(fastRetry)}, opts...)
	f.orch = New(config.OrchestratorConfig{UserID: "user-1", Brand: "Avante Maps"},
		f.sdk, f.backend, f.markers, newTestLogger(), opts...)
	return f
}

func (f *fixture) start(ctx context.Context) (*Result, error) {
	return f.orch.StartSubscriptionPayment(ctx, decimal.RequireFromString("0.5"), model.TierIndividual, "monthly")
}

// happyPath approves then completes pay-1 with tx-1.
func happyPath(ctx context.Context, cb Callbacks) {
	cb.OnReadyForServerApproval("pay-1")
	cb.OnReadyForServerCompletion("pay-1", "tx-1")
}
