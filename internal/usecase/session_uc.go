// File: internal/usecase/session_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"checkout-orchestrator/internal/domain"
	"checkout-orchestrator/internal/domain/model"
	"checkout-orchestrator/internal/infra/logging"
	"checkout-orchestrator/internal/infra/metrics"
	red "checkout-orchestrator/internal/infra/redis"
)

// Compile-time check
var _ SessionUseCase = (*sessionUC)(nil)

// SessionUseCase maps browser sessions (client keys) to orchestrators.
type SessionUseCase interface {
	// Create starts a checkout in the background and returns immediately.
	Create(ctx context.Context, clientKey, userID string, req *model.CheckoutRequest) (*SessionView, error)
	Get(ctx context.Context, id, clientKey string) (*SessionView, error)
	Close(ctx context.Context, id, clientKey string) error
	Dismiss(ctx context.Context, id, clientKey string) error
	// Retry re-runs the last request of a session that failed retryably.
	// An empty authToken keeps the previous one.
	Retry(ctx context.Context, id, clientKey, authToken string) (*SessionView, error)
	// ResumePending returns the intent saved by a login detour, once.
	ResumePending(ctx context.Context, clientKey string) (*model.PendingIntent, error)
	// Sweep drops sessions idle for longer than olderThan.
	Sweep(ctx context.Context, olderThan time.Duration) int
	Active() int
	Shutdown(ctx context.Context) error
}

// CheckoutLocker is satisfied by *redis.RedisLocker.
type CheckoutLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

// RateLimiter is satisfied by *redis.RateLimiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type SessionConfig struct {
	LockTTL    time.Duration
	RateLimit  int
	RateWindow time.Duration
}

// SessionView is a point-in-time read of one session.
type SessionView struct {
	ID        string
	Kind      model.CheckoutKind
	State     model.State
	Settling  bool
	UpdatedAt time.Time
}

type session struct {
	orch      *Orchestrator
	kind      model.CheckoutKind
	clientKey string
	req       *model.CheckoutRequest
	running   bool
}

type sessionUC struct {
	deps     CheckoutDeps
	checkout CheckoutConfig
	cfg      SessionConfig
	locker   CheckoutLocker
	limiter  RateLimiter
	log      *zerolog.Logger
	opts     []OrchestratorOption

	mu       sync.Mutex
	sessions map[string]*session

	base  context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup
	nowFn func() time.Time
	newID func() string
}

// NewSessionUseCase builds the session registry. locker and limiter may be nil
// (single instance, no abuse protection). opts are applied to every orchestrator.
func NewSessionUseCase(deps CheckoutDeps, checkout CheckoutConfig, cfg SessionConfig, locker CheckoutLocker, limiter RateLimiter, opts ...OrchestratorOption) *sessionUC {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	base, stop := context.WithCancel(context.Background())
	return &sessionUC{
		deps:     deps,
		checkout: checkout,
		cfg:      cfg,
		locker:   locker,
		limiter:  limiter,
		log:      logger,
		opts:     opts,
		sessions: make(map[string]*session),
		base:     base,
		stop:     stop,
		nowFn:    time.Now,
		newID:    func() string { return ulid.Make().String() },
	}
}

func (u *sessionUC) Create(ctx context.Context, clientKey, userID string, req *model.CheckoutRequest) (*SessionView, error) {
	if clientKey == "" {
		return nil, fmt.Errorf("client key: %w", domain.ErrInvalidArgument)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, ok := u.deps.Backends[req.Kind]; !ok {
		return nil, fmt.Errorf("no backend for %q: %w", req.Kind, domain.ErrInvalidArgument)
	}
	if err := u.allow(ctx, clientKey); err != nil {
		return nil, err
	}

	id := u.newID()
	opts := append([]OrchestratorOption{WithUserID(userID), WithRedirectHook(u.redirected)}, u.opts...)
	s := &session{
		orch:      NewOrchestrator(id, clientKey, u.deps, u.checkout, opts...),
		kind:      req.Kind,
		clientKey: clientKey,
		req:       req,
	}
	if err := u.launch(ctx, id, s, userID); err != nil {
		return nil, err
	}

	u.mu.Lock()
	u.sessions[id] = s
	n := len(u.sessions)
	u.mu.Unlock()
	metrics.SetSessionsActive(n)

	return viewOf(id, s), nil
}

func (u *sessionUC) Get(ctx context.Context, id, clientKey string) (*SessionView, error) {
	s, err := u.lookup(id, clientKey)
	if err != nil {
		return nil, err
	}
	return viewOf(id, s), nil
}

func (u *sessionUC) Close(ctx context.Context, id, clientKey string) error {
	s, err := u.lookup(id, clientKey)
	if err != nil {
		return err
	}
	return s.orch.Close(ctx)
}

func (u *sessionUC) Dismiss(ctx context.Context, id, clientKey string) error {
	s, err := u.lookup(id, clientKey)
	if err != nil {
		return err
	}
	return s.orch.Dismiss(ctx)
}

func (u *sessionUC) Retry(ctx context.Context, id, clientKey, authToken string) (*SessionView, error) {
	s, err := u.lookup(id, clientKey)
	if err != nil {
		return nil, err
	}
	switch st := s.orch.State().(type) {
	case model.Failed:
		if !st.Kind.Retryable() {
			return nil, fmt.Errorf("%s is not retryable: %w", st.Kind, domain.ErrInvalidArgument)
		}
		if err := s.orch.Dismiss(ctx); err != nil {
			return nil, err
		}
	case model.AwaitingAuth:
		if err := s.orch.Dismiss(ctx); err != nil {
			return nil, err
		}
	case model.Idle:
	default:
		return nil, domain.ErrCheckoutInProgress
	}
	if err := u.allow(ctx, clientKey); err != nil {
		return nil, err
	}

	u.mu.Lock()
	req := *s.req
	if authToken != "" {
		req.AuthToken = authToken
	}
	s.req = &req
	u.mu.Unlock()

	if err := u.launch(ctx, id, s, ""); err != nil {
		return nil, err
	}
	return viewOf(id, s), nil
}

func (u *sessionUC) ResumePending(ctx context.Context, clientKey string) (*model.PendingIntent, error) {
	if u.deps.Pending == nil || clientKey == "" {
		return nil, nil
	}
	p, err := u.deps.Pending.Take(ctx, clientKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (u *sessionUC) Sweep(ctx context.Context, olderThan time.Duration) int {
	cutoff := u.nowFn().Add(-olderThan)

	u.mu.Lock()
	var stale []*session
	for id, s := range u.sessions {
		if s.orch.UpdatedAt().After(cutoff) {
			continue
		}
		if s.orch.Settling() {
			continue
		}
		delete(u.sessions, id)
		stale = append(stale, s)
	}
	n := len(u.sessions)
	u.mu.Unlock()

	for _, s := range stale {
		if err := s.orch.Close(ctx); err != nil {
			u.log.Warn().Err(err).Str("session_id", s.orch.ID()).Msg("sweep close failed")
		}
	}
	if len(stale) > 0 {
		metrics.SetSessionsActive(n)
		u.log.Info().Int("removed", len(stale)).Int("remaining", n).Msg("checkout sessions swept")
	}
	return len(stale)
}

func (u *sessionUC) Active() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.sessions)
}

// Shutdown aborts pending gateway waits and waits for running attempts.
// Finalizations in flight run to completion.
func (u *sessionUC) Shutdown(ctx context.Context) error {
	u.stop()
	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// launch takes the per-client lock and runs one attempt in the background.
func (u *sessionUC) launch(ctx context.Context, id string, s *session, userID string) error {
	u.mu.Lock()
	if s.running {
		u.mu.Unlock()
		return domain.ErrCheckoutInProgress
	}
	s.running = true
	req := s.req
	u.mu.Unlock()

	lockKey := red.CheckoutLockKey(s.clientKey)
	var token string
	if u.locker != nil {
		t, err := u.locker.TryLock(ctx, lockKey, u.cfg.LockTTL)
		if err != nil {
			u.mu.Lock()
			s.running = false
			u.mu.Unlock()
			return err
		}
		token = t
	}

	runCtx := logging.WithSessID(u.base, id)
	runCtx = logging.WithClientKey(runCtx, s.clientKey)
	if userID != "" {
		runCtx = logging.WithUserID(runCtx, userID)
	}
	if tid := logging.TraceID(ctx); tid != "" {
		runCtx = logging.WithTraceID(runCtx, tid)
	}

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		st, err := s.orch.Start(runCtx, req)
		if err != nil {
			u.log.Warn().Err(err).Str("session_id", id).Msg("checkout start refused")
		} else {
			logging.With(runCtx, u.log).Info().
				Str("kind", string(req.Kind)).
				Str("phase", string(st.Phase())).
				Msg("checkout attempt settled")
		}

		u.mu.Lock()
		s.running = false
		u.mu.Unlock()

		if u.locker != nil {
			uctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := u.locker.Unlock(uctx, lockKey, token); err != nil {
				u.log.Warn().Err(err).Str("session_id", id).Msg("checkout unlock failed")
			}
		}
	}()
	return nil
}

func (u *sessionUC) allow(ctx context.Context, clientKey string) error {
	if u.limiter == nil || u.cfg.RateLimit <= 0 {
		return nil
	}
	ok, err := u.limiter.Allow(ctx, red.CheckoutCreateKey(clientKey), u.cfg.RateLimit, u.cfg.RateWindow)
	if err != nil {
		// Fail open: the limiter only guards against abuse.
		u.log.Warn().Err(err).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

func (u *sessionUC) lookup(id, clientKey string) (*session, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	s, ok := u.sessions[id]
	if !ok || s.clientKey != clientKey {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

func (u *sessionUC) redirected(sessionID string, s model.Succeeded) {
	u.log.Debug().Str("session_id", sessionID).Str("redirect_to", s.RedirectTo).Msg("checkout redirected")
}

func viewOf(id string, s *session) *SessionView {
	return &SessionView{ID: id, Kind: s.kind, State: s.orch.State(), Settling: s.orch.Settling(), UpdatedAt: s.orch.UpdatedAt()}
}
