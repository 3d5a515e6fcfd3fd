//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"avante-billing/internal/config"
	"avante-billing/internal/domain"
	"avante-billing/internal/domain/model"
	"avante-billing/internal/domain/ports/adapter"
	"avante-billing/internal/domain/ports/repository"
	"avante-billing/internal/usecase"
)

// =============================
// Repositories
// =============================

// MockPaymentRepo is an in-memory record store with the same compare-and-set
// rules as the Postgres one.
type MockPaymentRepo struct {
	mu   sync.Mutex
	data map[string]*model.PaymentRecord

	CreateFunc        func(ctx context.Context, tx repository.Tx, p *model.PaymentRecord) error
	FindByIDFunc      func(ctx context.Context, tx repository.Tx, id string) (*model.PaymentRecord, error)
	MarkCancelledFunc func(ctx context.Context, tx repository.Tx, id, reason string) (bool, error)
	ListFunc          func(ctx context.Context, tx repository.Tx, userID string, cutoff time.Time, limit int) ([]*model.PaymentRecord, error)

	Calls struct {
		Create, MarkApproved, RecordSettlement, MarkCompleted, MarkCancelled int
	}
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{data: make(map[string]*model.PaymentRecord)}
}

func clonePayment(p *model.PaymentRecord) *model.PaymentRecord {
	c := *p
	if p.Status.Error != nil {
		e := *p.Status.Error
		c.Status.Error = &e
	}
	if p.SettlementTxID != nil {
		s := *p.SettlementTxID
		c.SettlementTxID = &s
	}
	c.Metadata = model.Metadata{}
	for k, v := range p.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// Seed stores p as-is.
func (m *MockPaymentRepo) Seed(p *model.PaymentRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[p.PaymentID] = clonePayment(p)
}

// Get returns the stored record or nil.
func (m *MockPaymentRepo) Get(id string) *model.PaymentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data[id]
	if !ok {
		return nil
	}
	return clonePayment(p)
}

func (m *MockPaymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.PaymentRecord) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, tx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls.Create++
	if _, ok := m.data[p.PaymentID]; ok {
		return domain.ErrAlreadyExists
	}
	m.data[p.PaymentID] = clonePayment(p)
	return nil
}

func (m *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentRecord, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clonePayment(p), nil
}

// cas applies mutate when guard holds for the stored record.
func (m *MockPaymentRepo) cas(id string, guard func(s model.PaymentStatus) bool, mutate func(p *model.PaymentRecord)) bool {
	p, ok := m.data[id]
	if !ok || !guard(p.Status) {
		return false
	}
	mutate(p)
	p.UpdatedAt = time.Now().UTC()
	return true
}

func (m *MockPaymentRepo) MarkApproved(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls.MarkApproved++
	return m.cas(id,
		func(s model.PaymentStatus) bool { return !s.Approved && !s.Terminal() },
		func(p *model.PaymentRecord) { p.Status.Approved = true; p.Status.Error = nil }), nil
}

func (m *MockPaymentRepo) RecordSettlementTx(ctx context.Context, tx repository.Tx, id, txid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls.RecordSettlement++
	return m.cas(id,
		func(s model.PaymentStatus) bool { return s.Approved && !s.Terminal() },
		func(p *model.PaymentRecord) { p.SettlementTxID = &txid }), nil
}

func (m *MockPaymentRepo) MarkCompleted(ctx context.Context, tx repository.Tx, id, txid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls.MarkCompleted++
	return m.cas(id,
		func(s model.PaymentStatus) bool { return s.Approved && !s.Terminal() },
		func(p *model.PaymentRecord) {
			p.Status.Completed, p.Status.Verified, p.Status.Error = true, true, nil
			p.SettlementTxID = &txid
		}), nil
}

func (m *MockPaymentRepo) MarkCancelled(ctx context.Context, tx repository.Tx, id, reason string) (bool, error) {
	if m.MarkCancelledFunc != nil {
		return m.MarkCancelledFunc(ctx, tx, id, reason)
	}
	return m.markCancelled(id, reason)
}

// markCancelled is the default MarkCancelled; overrides may fall through to it.
func (m *MockPaymentRepo) markCancelled(id, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls.MarkCancelled++
	return m.cas(id,
		func(s model.PaymentStatus) bool { return !s.Terminal() },
		func(p *model.PaymentRecord) { p.Status.Cancelled = true; p.Status.Error = &reason }), nil
}

func (m *MockPaymentRepo) ListUnresolvedOlderThan(ctx context.Context, tx repository.Tx, userID string, cutoff time.Time, limit int) ([]*model.PaymentRecord, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, tx, userID, cutoff, limit)
	}
	return m.list(userID, cutoff, limit, false), nil
}

func (m *MockPaymentRepo) ListAwaitingSettlementOlderThan(ctx context.Context, tx repository.Tx, userID string, cutoff time.Time, limit int) ([]*model.PaymentRecord, error) {
	return m.list(userID, cutoff, limit, true), nil
}

func (m *MockPaymentRepo) list(userID string, cutoff time.Time, limit int, settling bool) []*model.PaymentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PaymentRecord
	for _, p := range m.data {
		if p.Status.Terminal() || !p.CreatedAt.Before(cutoff) || p.AwaitingSettlement() != settling {
			continue
		}
		if userID != "" && p.UserID != userID {
			continue
		}
		out = append(out, clonePayment(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ---- Users ----

type MockUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User

	FindByIDFunc           func(ctx context.Context, tx repository.Tx, id string) (*model.User, error)
	UpdateSubscriptionFunc func(ctx context.Context, tx repository.Tx, id string, tier model.Tier) error
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo(users ...*model.User) *MockUserRepo {
	m := &MockUserRepo{users: make(map[string]*model.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *u
	m.users[u.ID] = &c
	return nil
}

func (m *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *MockUserRepo) UpdateSubscription(ctx context.Context, tx repository.Tx, id string, tier model.Tier) error {
	if m.UpdateSubscriptionFunc != nil {
		return m.UpdateSubscriptionFunc(ctx, tx, id, tier)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	t := tier
	u.Subscription = &t
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// Tier returns the stored tier of id, "" when unset.
func (m *MockUserRepo) Tier(id string) model.Tier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id].CurrentTier()
}

// ---- Subscription history ----

type MockHistoryRepo struct {
	mu      sync.Mutex
	Entries []*model.SubscriptionHistoryEntry

	AppendFunc func(ctx context.Context, tx repository.Tx, e *model.SubscriptionHistoryEntry) error
}

var _ repository.SubscriptionHistoryRepository = (*MockHistoryRepo)(nil)

func (m *MockHistoryRepo) Append(ctx context.Context, tx repository.Tx, e *model.SubscriptionHistoryEntry) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, tx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, e)
	return nil
}

func (m *MockHistoryRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.SubscriptionHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.SubscriptionHistoryEntry
	for _, e := range m.Entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ---- Transactions ----

// MockTxManager runs fn directly; a non-nil fn error is returned as the
// rollback would.
type MockTxManager struct {
	mu    sync.Mutex
	Calls int
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	return fn(ctx, "mock-tx")
}

// =============================
// Adapters
// =============================

type MockGateway struct {
	mu sync.Mutex

	ApproveFunc  func(ctx context.Context, id string) error
	CompleteFunc func(ctx context.Context, id, txid string) error
	CancelFunc   func(ctx context.Context, id string) error

	Calls struct {
		Approve, Complete, Cancel []string
	}
}

var _ adapter.PaymentGateway = (*MockGateway)(nil)

func (m *MockGateway) Name() string { return "mock" }

func (m *MockGateway) Approve(ctx context.Context, id string) error {
	m.mu.Lock()
	m.Calls.Approve = append(m.Calls.Approve, id)
	m.mu.Unlock()
	if m.ApproveFunc != nil {
		return m.ApproveFunc(ctx, id)
	}
	return nil
}

func (m *MockGateway) Complete(ctx context.Context, id, txid string) error {
	m.mu.Lock()
	m.Calls.Complete = append(m.Calls.Complete, id)
	m.mu.Unlock()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, id, txid)
	}
	return nil
}

func (m *MockGateway) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	m.Calls.Cancel = append(m.Calls.Cancel, id)
	m.mu.Unlock()
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, id)
	}
	return nil
}

type MockPublisher struct {
	mu     sync.Mutex
	Events []adapter.PaymentEvent

	PublishFunc func(ctx context.Context, ev adapter.PaymentEvent) error
}

var _ adapter.EventPublisher = (*MockPublisher)(nil)

func (m *MockPublisher) Publish(ctx context.Context, ev adapter.PaymentEvent) error {
	m.mu.Lock()
	m.Events = append(m.Events, ev)
	m.mu.Unlock()
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, ev)
	}
	return nil
}

func (m *MockPublisher) Close() error { return nil }

// Types lists the published event types in order.
func (m *MockPublisher) Types() []adapter.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]adapter.EventType, 0, len(m.Events))
	for _, e := range m.Events {
		out = append(out, e.Type)
	}
	return out
}

type MockAlerter struct {
	mu        sync.Mutex
	Anomalies []adapter.Anomaly
}

var _ adapter.Alerter = (*MockAlerter)(nil)

func (m *MockAlerter) Alert(ctx context.Context, a adapter.Anomaly) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Anomalies = append(m.Anomalies, a)
	return nil
}

func (m *MockAlerter) Kinds() []adapter.AnomalyKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]adapter.AnomalyKind, 0, len(m.Anomalies))
	for _, a := range m.Anomalies {
		out = append(out, a.Kind)
	}
	return out
}

// =============================
// Helpers
// =============================

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func tierPtr(t model.Tier) *model.Tier { return &t }

func gatewayErr(op string, status int, code, msg string) error {
	return &adapter.GatewayError{Op: op, PaymentID: "x", StatusCode: status, Code: code, Message: msg}
}

// fixture wires the lifecycle services over the in-memory mocks.
type fixture struct {
	payments *MockPaymentRepo
	users    *MockUserRepo
	history  *MockHistoryRepo
	tm       *MockTxManager
	gateway  *MockGateway
	events   *MockPublisher
	alerts   *MockAlerter

	subs       usecase.SubscriptionUseCase
	approval   usecase.ApprovalUseCase
	completion usecase.CompletionUseCase
	sweeper    usecase.SweeperUseCase
	clock      *fakeClock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newFixture(users ...*model.User) *fixture {
	f := &fixture{
		payments: NewMockPaymentRepo(),
		users:    NewMockUserRepo(users...),
		history:  &MockHistoryRepo{},
		tm:       &MockTxManager{},
		gateway:  &MockGateway{},
		events:   &MockPublisher{},
		alerts:   &MockAlerter{},
		clock:    &fakeClock{t: time.Now().UTC()},
	}
	logger := newTestLogger()
	f.subs = usecase.NewSubscriptionUseCase(f.users, f.history, f.tm, f.events, logger)
	f.approval = usecase.NewApprovalUseCase(f.payments, f.gateway, f.subs, f.events, f.alerts, logger)
	f.completion = usecase.NewCompletionUseCase(f.payments, f.gateway, f.events, f.alerts, logger)
	f.sweeper = usecase.NewSweeperUseCase(f.payments, f.gateway, f.events, f.alerts,
		config.SweeperConfig{StaleAfter: 10 * time.Minute, BatchSize: 100, CancelTimeout: time.Second},
		logger, usecase.WithClock(f.clock.Now))
	return f
}

func approveReq(id, user, amount string, tier model.Tier) usecase.ApproveRequest {
	meta := model.Metadata{}
	if tier != "" {
		meta[model.MetaSubscriptionTier] = string(tier)
	}
	return usecase.ApproveRequest{
		PaymentID: id,
		UserID:    user,
		Amount:    decimal.RequireFromString(amount),
		Memo:      "Avante Maps " + string(tier) + " subscription (monthly)",
		Metadata:  meta,
	}
}

// seedPayment stores an unresolved record created at createdAt.
func seedPayment(f *fixture, id, user string, createdAt time.Time, mutate func(p *model.PaymentRecord)) {
	p, err := model.NewPaymentRecord(id, user, decimal.RequireFromString("1.5"), "memo", nil, createdAt)
	if err != nil {
		panic(err)
	}
	if mutate != nil {
		mutate(p)
	}
	f.payments.Seed(p)
}
