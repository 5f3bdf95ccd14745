//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"checkout-orchestrator/internal/domain"
	"checkout-orchestrator/internal/domain/model"
	"checkout-orchestrator/internal/domain/ports/adapter"
	"checkout-orchestrator/internal/domain/ports/repository"
)

// =============================
// Adapters
// =============================

// ---- Mock Backend ----

type MockBackend struct {
	mu   sync.Mutex
	kind model.CheckoutKind

	InitiateFunc func(ctx context.Context, req *model.CheckoutRequest) (*model.PaymentIntent, error)
	FinalizeFunc func(ctx context.Context, intent *model.PaymentIntent, proof *model.Proof) (*model.ActivationResult, error)

	Calls struct {
		Initiate []*model.CheckoutRequest
		Finalize []*model.Proof
		Tokens   []string // bearer token seen by Finalize
	}
}

var _ adapter.Backend = (*MockBackend)(nil)

func NewMockBackend(kind model.CheckoutKind) *MockBackend {
	return &MockBackend{kind: kind}
}

func (m *MockBackend) Kind() model.CheckoutKind { return m.kind }

func (m *MockBackend) Initiate(ctx context.Context, req *model.CheckoutRequest) (*model.PaymentIntent, error) {
	m.mu.Lock()
	m.Calls.Initiate = append(m.Calls.Initiate, req)
	m.mu.Unlock()
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, req)
	}
	return paidIntent(), nil
}

func (m *MockBackend) Finalize(ctx context.Context, intent *model.PaymentIntent, proof *model.Proof) (*model.ActivationResult, error) {
	m.mu.Lock()
	m.Calls.Finalize = append(m.Calls.Finalize, proof)
	m.Calls.Tokens = append(m.Calls.Tokens, adapter.AuthToken(ctx))
	m.mu.Unlock()
	if m.FinalizeFunc != nil {
		return m.FinalizeFunc(ctx, intent, proof)
	}
	return &model.ActivationResult{Success: true, Entity: json.RawMessage(`{"id":"sub_1","status":"active"}`)}, nil
}

func (m *MockBackend) InitiateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls.Initiate)
}

func (m *MockBackend) FinalizeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls.Finalize)
}

func (m *MockBackend) LastProof() *model.Proof {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls.Finalize) == 0 {
		return nil
	}
	return m.Calls.Finalize[len(m.Calls.Finalize)-1]
}

func paidIntent() *model.PaymentIntent {
	return &model.PaymentIntent{
		IntentID:            "sub_1",
		Amount:              49900,
		Currency:            "INR",
		RequiresPayment:     true,
		Gateway:             "mockpay",
		GatewayClientSecret: "pi_123_secret_abc",
		GatewayPublicKey:    "pk_test",
	}
}

func freeIntent() *model.PaymentIntent {
	return &model.PaymentIntent{
		IntentID:  "sub_free",
		Gateway:   "mockpay",
		Activated: json.RawMessage(`{"id":"sub_free","status":"active"}`),
	}
}

// ---- Mock Gateway ----

type MockGateway struct {
	mu    sync.Mutex
	name  string
	opens int

	OpenFunc func(ctx context.Context, creds model.GatewayCredentials, amount int64, meta map[string]string) model.GatewayResult
	LoadErr  error
	LastMeta map[string]string
}

var _ adapter.Gateway = (*MockGateway)(nil)

func NewMockGateway(result model.GatewayResult) *MockGateway {
	return &MockGateway{
		name: "mockpay",
		OpenFunc: func(context.Context, model.GatewayCredentials, int64, map[string]string) model.GatewayResult {
			return result
		},
	}
}

// NewBlockingGateway waits for ctx cancellation or a result on release.
func NewBlockingGateway(release <-chan model.GatewayResult) (*MockGateway, <-chan struct{}) {
	opened := make(chan struct{}, 1)
	g := &MockGateway{name: "mockpay"}
	g.OpenFunc = func(ctx context.Context, _ model.GatewayCredentials, _ int64, _ map[string]string) model.GatewayResult {
		opened <- struct{}{}
		select {
		case <-ctx.Done():
			return model.GatewayCancelled()
		case r := <-release:
			return r
		}
	}
	return g, opened
}

func (g *MockGateway) Name() string { return g.name }

func (g *MockGateway) EnsureLoaded(ctx context.Context) error { return g.LoadErr }

func (g *MockGateway) Open(ctx context.Context, creds model.GatewayCredentials, amount int64, meta map[string]string) model.GatewayResult {
	g.mu.Lock()
	g.opens++
	g.LastMeta = meta
	g.mu.Unlock()
	return g.OpenFunc(ctx, creds, amount, meta)
}

func (g *MockGateway) Opens() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opens
}

// ---- Mock Notifier / Alerter ----

type sentEvent struct {
	Event     string
	Audience  string
	ClientKey string
	Payload   any
}

type MockNotifier struct {
	mu     sync.Mutex
	Events []sentEvent
}

var _ adapter.Notifier = (*MockNotifier)(nil)

func (m *MockNotifier) Notify(ctx context.Context, event string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, sentEvent{
		Event:     event,
		Audience:  adapter.Audience(ctx),
		ClientKey: adapter.RecipientClient(ctx),
		Payload:   payload,
	})
	return nil
}

func (m *MockNotifier) Sent() []sentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentEvent(nil), m.Events...)
}

type MockAlerter struct {
	mu         sync.Mutex
	Alerts     []string // payment ids
	Unresolved []int
}

var _ adapter.SupportAlerter = (*MockAlerter)(nil)

func (m *MockAlerter) AlertActivationFailure(ctx context.Context, sessionID, intentID, paymentID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, paymentID)
	return nil
}

func (m *MockAlerter) AlertUnresolved(ctx context.Context, count int, oldest time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Unresolved = append(m.Unresolved, count)
	return nil
}

func (m *MockAlerter) AlertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Alerts)
}

// =============================
// Repositories
// =============================

type memPendingRepo struct {
	mu    sync.Mutex
	store map[string]*model.PendingIntent
}

var _ repository.PendingIntentRepository = (*memPendingRepo)(nil)

func newMemPendingRepo() *memPendingRepo {
	return &memPendingRepo{store: make(map[string]*model.PendingIntent)}
}

func (m *memPendingRepo) Save(ctx context.Context, clientKey string, p *model.PendingIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.store[clientKey] = &cp
	return nil
}

func (m *memPendingRepo) Take(ctx context.Context, clientKey string) (*model.PendingIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[clientKey]
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(m.store, clientKey)
	return p, nil
}

func (m *memPendingRepo) Clear(ctx context.Context, clientKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, clientKey)
	return nil
}

func (m *memPendingRepo) Peek(clientKey string) *model.PendingIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store[clientKey]
}

type memAttemptRepo struct {
	mu      sync.Mutex
	store   map[string]model.CheckoutAttempt
	History []model.Phase
}

var _ repository.CheckoutAttemptRepository = (*memAttemptRepo)(nil)

func newMemAttemptRepo() *memAttemptRepo {
	return &memAttemptRepo{store: make(map[string]model.CheckoutAttempt)}
}

func (m *memAttemptRepo) Save(ctx context.Context, tx repository.Tx, a *model.CheckoutAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[a.ID] = *a
	m.History = append(m.History, a.Phase)
	return nil
}

func (m *memAttemptRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.CheckoutAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (m *memAttemptRepo) ListUnresolvedActivationFailures(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.CheckoutAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.CheckoutAttempt
	for _, a := range m.store {
		if a.Failure == model.FailureActivation && !a.Resolved && a.UpdatedAt.Before(olderThan) {
			cp := a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memAttemptRepo) MarkResolved(ctx context.Context, tx repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Resolved = true
	m.store[id] = a
	return nil
}

// =============================
// Infra fakes
// =============================

// syncDispatcher runs tasks inline so tests can assert side effects directly.
type syncDispatcher struct{}

func (syncDispatcher) Submit(task func(ctx context.Context) error) error {
	return task(context.Background())
}

// manualTimer captures the redirect timer so tests decide when it fires.
type manualTimer struct {
	mu      sync.Mutex
	pending []func()
	delays  []time.Duration
}

func (m *manualTimer) AfterFunc(d time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.pending)
	m.pending = append(m.pending, f)
	m.delays = append(m.delays, d)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.pending[idx] == nil {
			return false
		}
		m.pending[idx] = nil
		return true
	}
}

// Fire runs every timer that has not been stopped.
func (m *manualTimer) Fire() int {
	m.mu.Lock()
	var fs []func()
	for i, f := range m.pending {
		if f != nil {
			fs = append(fs, f)
			m.pending[i] = nil
		}
	}
	m.mu.Unlock()
	for _, f := range fs {
		f()
	}
	return len(fs)
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	unlocked chan string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]string), unlocked: make(chan string, 16)}
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", domain.ErrCheckoutInProgress
	}
	token := key + "-token"
	l.held[key] = token
	return token, nil
}

func (l *fakeLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	l.mu.Unlock()
	l.unlocked <- key
	return nil
}

type fakeLimiter struct {
	mu    sync.Mutex
	count map[string]int
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.count == nil {
		f.count = make(map[string]int)
	}
	f.count[key]++
	return f.count[key] <= limit, nil
}
