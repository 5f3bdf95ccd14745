// File: internal/usecase/checkout_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"checkout-orchestrator/internal/domain"
	"checkout-orchestrator/internal/domain/model"
	"checkout-orchestrator/internal/domain/ports/adapter"
	"checkout-orchestrator/internal/domain/ports/repository"
	"checkout-orchestrator/internal/infra/logging"
	"checkout-orchestrator/internal/infra/metrics"
)

// Message keys resolved through Messages (see internal/infra/i18n/locales).
const (
	msgLoginRequired      = "checkout.login_required"
	msgPaymentCancelled   = "checkout.payment_cancelled"
	msgInitiateFailed     = "checkout.initiate_failed"
	msgGatewayFailed      = "checkout.gateway_failed"
	msgGatewayUnavailable = "checkout.gateway_unavailable"
	msgActivationFailed   = "checkout.activation_failed"
	msgAccountFailed      = "checkout.account_activation_failed"
	msgActivateFailed     = "checkout.activate_failed"
	msgDuplicatePayment   = "checkout.duplicate_payment"
)

var defaultMessages = map[string]string{
	msgLoginRequired:      "Please login to continue",
	msgPaymentCancelled:   "Payment cancelled",
	msgInitiateFailed:     "Failed to initialize payment",
	msgGatewayFailed:      "Payment failed. Please try again.",
	msgGatewayUnavailable: "payment gateway unavailable",
	msgActivationFailed:   "Payment succeeded but failed to activate subscription. Please contact support.",
	msgAccountFailed:      "Payment succeeded but we could not create your account. Please contact support.",
	msgActivateFailed:     "Failed to activate. Please try again.",
	msgDuplicatePayment:   "This payment has already been processed.",
}

// Messages resolves user-visible message keys. *i18n.Translator satisfies it.
type Messages interface {
	T(key string, args ...interface{}) string
}

// Dispatcher runs advisory side effects off the checkout path. *worker.Pool satisfies it.
type Dispatcher interface {
	Submit(task func(ctx context.Context) error) error
}

// CheckoutConfig holds the orchestrator constants.
type CheckoutConfig struct {
	RedirectDelay time.Duration
	RedirectTo    map[model.CheckoutKind]string
	RecordTimeout time.Duration
}

// CheckoutDeps are the collaborators an Orchestrator composes. Notifier,
// Alerter, Pending, Attempts, Messages and Dispatch may be nil.
type CheckoutDeps struct {
	Backends map[model.CheckoutKind]adapter.Backend
	Gateways map[string]adapter.Gateway
	Notifier adapter.Notifier
	Alerter  adapter.SupportAlerter
	Pending  repository.PendingIntentRepository
	Attempts repository.CheckoutAttemptRepository
	Messages Messages
	Dispatch Dispatcher
	Logger   *zerolog.Logger
}

// Orchestrator is the checkout state machine for one browser session.
// Start drives one attempt on the caller's goroutine; Close, Dismiss and
// State may be called concurrently from other goroutines.
type Orchestrator struct {
	id        string
	clientKey string
	userID    string
	deps      CheckoutDeps
	cfg       CheckoutConfig
	log       *zerolog.Logger

	mu           sync.Mutex
	state        model.State
	kind         model.CheckoutKind
	attempt      uint64 // bumped on every reset; stale flows drop their transitions
	charged      bool   // the gateway accepted a success callback for this attempt
	cancel       context.CancelFunc
	stopRedirect func() bool
	finalized    map[string]struct{} // proof keys already sent to the finalizer
	record       *model.CheckoutAttempt
	updatedAt    time.Time
	onRedirect   func(sessionID string, s model.Succeeded)

	recMu sync.Mutex // serializes attempt persistence

	now       func() time.Time
	afterFunc func(time.Duration, func()) func() bool
}

type OrchestratorOption func(*Orchestrator)

// WithClock replaces time.Now and time.AfterFunc (tests).
func WithClock(now func() time.Time, afterFunc func(time.Duration, func()) func() bool) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
		if afterFunc != nil {
			o.afterFunc = afterFunc
		}
	}
}

// WithRedirectHook is called once the post-success display delay elapses.
func WithRedirectHook(fn func(sessionID string, s model.Succeeded)) OrchestratorOption {
	return func(o *Orchestrator) { o.onRedirect = fn }
}

// WithUserID tags audit records with the authenticated user.
func WithUserID(id string) OrchestratorOption {
	return func(o *Orchestrator) { o.userID = id }
}

func NewOrchestrator(sessionID, clientKey string, deps CheckoutDeps, cfg CheckoutConfig, opts ...OrchestratorOption) *Orchestrator {
	if cfg.RedirectDelay <= 0 {
		cfg.RedirectDelay = 2 * time.Second
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 3 * time.Second
	}
	base := deps.Logger
	if base == nil {
		nop := zerolog.Nop()
		base = &nop
	}
	l := base.With().Str("session_id", sessionID).Logger()

	o := &Orchestrator{
		id:        sessionID,
		clientKey: clientKey,
		deps:      deps,
		cfg:       cfg,
		log:       &l,
		state:     model.Idle{},
		finalized: make(map[string]struct{}),
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) func() bool { return time.AfterFunc(d, f).Stop },
	}
	for _, opt := range opts {
		opt(o)
	}
	o.updatedAt = o.now()
	return o
}

func (o *Orchestrator) ID() string        { return o.id }
func (o *Orchestrator) ClientKey() string { return o.clientKey }

// State returns the current state.
func (o *Orchestrator) State() model.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// UpdatedAt returns the time of the last transition.
func (o *Orchestrator) UpdatedAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.updatedAt
}

// Start runs one checkout attempt until it reaches a terminal or resting
// state and returns that state. It only starts from Idle.
func (o *Orchestrator) Start(ctx context.Context, req *model.CheckoutRequest) (model.State, error) {
	if err := req.Validate(); err != nil {
		return o.State(), err
	}
	backend, ok := o.deps.Backends[req.Kind]
	if !ok || backend == nil {
		return o.State(), fmt.Errorf("no backend for %q: %w", req.Kind, domain.ErrInvalidArgument)
	}

	o.mu.Lock()
	if _, idle := o.state.(model.Idle); !idle {
		s := o.state
		o.mu.Unlock()
		return s, domain.ErrCheckoutInProgress
	}
	if o.stopRedirect != nil {
		o.stopRedirect()
		o.stopRedirect = nil
	}
	runCtx, cancel := context.WithCancel(adapter.WithAuthToken(ctx, req.AuthToken))
	defer cancel()
	o.attempt++
	attempt := o.attempt
	o.charged = false
	o.cancel = cancel
	o.kind = req.Kind
	now := o.now()
	o.record = &model.CheckoutAttempt{
		ID:        o.id,
		ClientKey: o.clientKey,
		UserID:    o.userID,
		Kind:      req.Kind,
		PlanType:  req.PlanType,
		Amount:    req.Amount,
		CreatedAt: now,
	}
	o.setLocked(model.Initiating{})
	o.mu.Unlock()

	o.persist(runCtx, attempt, func(a *model.CheckoutAttempt) { a.Phase = model.PhaseInitiating })
	o.run(runCtx, attempt, backend, req)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attempt == attempt {
		o.cancel = nil
	}
	return o.state, nil
}

// Open resets the checkout for a fresh attempt. Same rules as Close.
func (o *Orchestrator) Open(ctx context.Context) error {
	return o.Close(ctx)
}

// Close aborts the pending gateway UI, discards intent state and returns to
// Idle without any backend call. It is refused while finalizing and from the
// moment the gateway reports a charge: finalization runs to completion.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.settlingLocked() {
		o.mu.Unlock()
		return domain.ErrCloseDuringFinalize
	}
	prev := o.state.Phase()
	o.resetLocked("")
	attempt := o.attempt
	o.mu.Unlock()

	if prev == model.PhaseInitiating || prev == model.PhaseAwaitingGateway {
		o.log.Info().Str("phase", string(prev)).Msg("checkout closed by user")
		o.persist(ctx, attempt, func(a *model.CheckoutAttempt) {
			a.Phase = model.PhaseIdle
			a.Message = "closed during " + string(prev)
		})
	}
	return nil
}

// Settling reports whether a charge is being finalized. Such an attempt
// cannot be closed.
func (o *Orchestrator) Settling() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settlingLocked()
}

func (o *Orchestrator) settlingLocked() bool {
	if _, fin := o.state.(model.Finalizing); fin {
		return true
	}
	_, waiting := o.state.(model.AwaitingGateway)
	return waiting && o.charged
}

// Dismiss leaves a terminal display state for Idle.
func (o *Orchestrator) Dismiss(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !model.IsTerminal(o.state) {
		return domain.ErrNotTerminal
	}
	o.resetLocked("")
	return nil
}

func (o *Orchestrator) run(ctx context.Context, attempt uint64, backend adapter.Backend, req *model.CheckoutRequest) {
	if req.AuthToken == "" && req.Kind.RequiresLogin() {
		o.requireAuth(ctx, attempt, req)
		return
	}

	intent, err := backend.Initiate(ctx, req)
	if err != nil {
		o.log.Warn().Err(err).Str("kind", string(req.Kind)).Msg("initiate failed")
		switch {
		case errors.Is(err, domain.ErrAuthRequired):
			o.requireAuth(ctx, attempt, req)
		case errors.Is(err, domain.ErrValidationFailed):
			o.fail(ctx, attempt, model.FailureValidation, o.serverMessage(err, msgInitiateFailed), "")
		default:
			o.fail(ctx, attempt, model.FailureServer, o.serverMessage(err, msgInitiateFailed), "")
		}
		return
	}
	if err := intent.Validate(); err != nil {
		o.log.Error().Str("intent_id", intent.IntentID).Msg("backend returned an unusable intent")
		o.fail(ctx, attempt, model.FailureServer, o.msg(msgInitiateFailed), "invalid intent")
		return
	}
	o.persist(ctx, attempt, func(a *model.CheckoutAttempt) {
		a.IntentID = intent.IntentID
		a.Amount = intent.Amount
		a.Gateway = intent.Gateway
	})

	if !intent.RequiresPayment {
		o.finalize(ctx, attempt, backend, intent, nil)
		return
	}

	gw, ok := o.deps.Gateways[intent.Gateway]
	if !ok || gw == nil {
		o.log.Error().Str("gateway", intent.Gateway).Msg("no adapter for gateway")
		o.fail(ctx, attempt, model.FailureGateway, o.msg(msgGatewayUnavailable), "")
		return
	}
	if !o.advance(attempt, model.AwaitingGateway{Intent: intent}) {
		return
	}
	o.persist(ctx, attempt, func(a *model.CheckoutAttempt) { a.Phase = model.PhaseAwaitingGateway })

	if err := gw.EnsureLoaded(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		o.log.Warn().Err(err).Str("gateway", gw.Name()).Msg("gateway failed to load")
		metrics.IncGatewayOutcome(gw.Name(), string(model.OutcomeFailed))
		o.fail(ctx, attempt, model.FailureGateway, o.msg(msgGatewayUnavailable), err.Error())
		return
	}

	creds := model.GatewayCredentials{Handle: intent.Handle(), PublicKey: intent.GatewayPublicKey}
	gctx := adapter.WithChargeReported(ctx, func() { o.markCharged(attempt) })
	res := gw.Open(gctx, creds, intent.Amount, gatewayMeta(req, intent))
	metrics.IncGatewayOutcome(gw.Name(), string(res.Outcome))

	switch res.Outcome {
	case model.OutcomeSucceeded:
		if res.Proof == nil || res.Proof.Key() == "" {
			o.fail(ctx, attempt, model.FailureGateway, o.msg(msgGatewayFailed), "success without proof")
			return
		}
		o.finalize(ctx, attempt, backend, intent, res.Proof)
	case model.OutcomeCancelled:
		if o.advance(attempt, model.Idle{Notice: o.msg(msgPaymentCancelled)}) {
			o.persist(ctx, attempt, func(a *model.CheckoutAttempt) {
				a.Phase = model.PhaseIdle
				a.Message = "payment cancelled"
			})
		}
	default:
		reason := res.Reason
		if reason == "" {
			reason = o.msg(msgGatewayFailed)
		}
		o.fail(ctx, attempt, model.FailureGateway, reason, "")
	}
}

func (o *Orchestrator) markCharged(attempt uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if attempt == o.attempt {
		o.charged = true
	}
}

// finalize runs the Finalizer once for intent. A paid attempt is finalized
// even when it was closed after the gateway reported success; it takes the
// session back if the session is idle and otherwise finalizes without
// touching the state.
func (o *Orchestrator) finalize(ctx context.Context, attempt uint64, backend adapter.Backend, intent *model.PaymentIntent, proof *model.Proof) {
	defer logging.TraceDuration(o.log, "Orchestrator.finalize")()

	o.mu.Lock()
	if attempt != o.attempt {
		if proof == nil {
			o.mu.Unlock()
			return
		}
		if _, idle := o.state.(model.Idle); idle {
			o.attempt++
			attempt = o.attempt
			o.charged = true
		}
		o.log.Warn().Str("payment_id", proof.Key()).Msg("attempt closed after the charge; finalizing anyway")
	}
	if key := proof.Key(); key != "" {
		if _, dup := o.finalized[key]; dup {
			o.setLocked(model.Failed{Kind: model.FailureServer, Message: o.msg(msgDuplicatePayment)})
			o.mu.Unlock()
			o.log.Warn().Str("payment_id", key).Msg("refusing to finalize the same proof twice")
			return
		}
		o.finalized[key] = struct{}{}
	}
	if attempt == o.attempt {
		o.setLocked(model.Finalizing{Intent: intent, Proof: proof})
	}
	o.mu.Unlock()

	// The charge has happened; finalization must outlive Close and shutdown.
	fctx := context.WithoutCancel(ctx)
	o.persist(fctx, attempt, func(a *model.CheckoutAttempt) {
		a.Phase = model.PhaseFinalizing
		a.ProofPaymentID = proof.Key()
	})

	start := time.Now()
	act, err := backend.Finalize(fctx, intent, proof)
	if err == nil && (act == nil || !act.Success) {
		msg := ""
		if act != nil {
			msg = act.Message
		}
		err = &domain.BackendError{Kind: domain.ErrServerError, Message: msg}
	}
	metrics.ObserveFinalize(string(backend.Kind()), err == nil, time.Since(start).Seconds())

	if err != nil {
		if proof == nil {
			o.log.Warn().Err(err).Str("intent_id", intent.IntentID).Msg("activation without payment failed")
			o.fail(fctx, attempt, model.FailureServer, o.serverMessage(err, msgActivateFailed), err.Error())
			return
		}
		o.log.Error().Err(err).
			Str("intent_id", intent.IntentID).
			Str("payment_id", proof.Key()).
			Msg("payment captured but activation failed")
		o.fail(fctx, attempt, model.FailureActivation, o.msg(activationFailedKey(backend.Kind())), err.Error())
		if o.deps.Alerter != nil {
			sessionID, intentID, paymentID, detail := o.id, intent.IntentID, proof.Key(), err.Error()
			o.dispatch("support_alert", func(ctx context.Context) error {
				return o.deps.Alerter.AlertActivationFailure(ctx, sessionID, intentID, paymentID, detail)
			})
		}
		return
	}

	kind := backend.Kind()
	delay := o.cfg.RedirectDelay
	succ := model.Succeeded{
		Activation: act,
		RedirectTo: o.cfg.RedirectTo[kind],
		RedirectAt: o.now().Add(delay),
	}
	if o.advance(attempt, succ) {
		o.persist(fctx, attempt, func(a *model.CheckoutAttempt) {
			a.Phase = model.PhaseSucceeded
			a.Failure = ""
			a.Message = ""
		})
	}

	if o.deps.Notifier != nil {
		event := kind.ActivationEvent()
		payload := map[string]any{kind.PayloadKey(): json.RawMessage(orNull(act.Entity))}
		audience, clientKey := o.userID, o.clientKey
		o.dispatch("notify", func(ctx context.Context) error {
			ctx = adapter.WithRecipientClient(adapter.WithAudience(ctx, audience), clientKey)
			err := o.deps.Notifier.Notify(ctx, event, payload)
			status := "sent"
			if err != nil {
				status = "error"
			}
			metrics.IncNotification(event, status)
			return err
		})
	}

	o.mu.Lock()
	if o.attempt == attempt {
		o.stopRedirect = o.afterFunc(delay, func() { o.redirect(attempt, succ) })
	}
	o.mu.Unlock()
}

func (o *Orchestrator) redirect(attempt uint64, succ model.Succeeded) {
	o.mu.Lock()
	if attempt != o.attempt {
		o.mu.Unlock()
		return
	}
	if _, ok := o.state.(model.Succeeded); !ok {
		o.mu.Unlock()
		return
	}
	o.stopRedirect = nil
	o.resetLocked("")
	hook := o.onRedirect
	o.mu.Unlock()

	if hook != nil {
		hook(o.id, succ)
	}
}

func (o *Orchestrator) requireAuth(ctx context.Context, attempt uint64, req *model.CheckoutRequest) {
	pending := model.NewPendingIntent(req, o.now())
	if !o.advance(attempt, model.AwaitingAuth{Pending: pending, Message: o.msg(msgLoginRequired)}) {
		return
	}
	if o.deps.Pending != nil && o.clientKey != "" {
		if err := o.deps.Pending.Save(ctx, o.clientKey, pending); err != nil {
			o.log.Error().Err(err).Msg("failed to persist pending intent")
		}
	}
	o.persist(ctx, attempt, func(a *model.CheckoutAttempt) { a.Phase = model.PhaseAwaitingAuth })
}

// fail moves to Failed; detail (optional) goes to the audit record only.
func (o *Orchestrator) fail(ctx context.Context, attempt uint64, kind model.FailureKind, message, detail string) {
	if !o.advance(attempt, model.Failed{Kind: kind, Message: message}) {
		return
	}
	if detail == "" {
		detail = message
	}
	o.persist(ctx, attempt, func(a *model.CheckoutAttempt) {
		a.Phase = model.PhaseFailed
		a.Failure = kind
		a.Message = detail
	})
}

// advance moves to next if attempt is still the current one.
func (o *Orchestrator) advance(attempt uint64, next model.State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if attempt != o.attempt {
		return false
	}
	o.setLocked(next)
	return true
}

func (o *Orchestrator) setLocked(next model.State) {
	prev := o.state
	o.state = next
	o.updatedAt = o.now()
	metrics.IncTransition(string(o.kind), string(prev.Phase()), string(next.Phase()))
	o.log.Debug().
		Str("from", string(prev.Phase())).
		Str("to", string(next.Phase())).
		Msg("checkout transition")
}

func (o *Orchestrator) resetLocked(notice string) {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	if o.stopRedirect != nil {
		o.stopRedirect()
		o.stopRedirect = nil
	}
	o.attempt++
	o.charged = false
	o.setLocked(model.Idle{Notice: notice})
}

func (o *Orchestrator) persist(ctx context.Context, attempt uint64, update func(a *model.CheckoutAttempt)) {
	if o.deps.Attempts == nil {
		return
	}
	o.recMu.Lock()
	defer o.recMu.Unlock()

	o.mu.Lock()
	if o.record == nil || attempt != o.attempt {
		o.mu.Unlock()
		return
	}
	update(o.record)
	o.record.UpdatedAt = o.now()
	cp := *o.record
	o.mu.Unlock()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RecordTimeout)
	defer cancel()
	if err := o.deps.Attempts.Save(sctx, repository.NoTX, &cp); err != nil {
		o.log.Warn().Err(err).Str("phase", string(cp.Phase)).Msg("failed to record checkout attempt")
	}
}

func (o *Orchestrator) dispatch(name string, task func(ctx context.Context) error) {
	run := func(ctx context.Context) error {
		if err := task(ctx); err != nil {
			o.log.Warn().Err(err).Str("task", name).Msg("advisory task failed")
			return err
		}
		return nil
	}
	if o.deps.Dispatch != nil {
		err := o.deps.Dispatch.Submit(run)
		if err == nil {
			return
		}
		o.log.Warn().Err(err).Str("task", name).Msg("dispatch rejected; running detached")
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = run(ctx)
	}()
}

func activationFailedKey(kind model.CheckoutKind) string {
	if kind == model.CheckoutKindRegistration {
		return msgAccountFailed
	}
	return msgActivationFailed
}

func (o *Orchestrator) msg(key string) string {
	if o.deps.Messages != nil {
		if s := o.deps.Messages.T(key); s != "" && s != key {
			return s
		}
	}
	if s, ok := defaultMessages[key]; ok {
		return s
	}
	return key
}

// serverMessage prefers the backend's own message, then the fallback key.
func (o *Orchestrator) serverMessage(err error, fallbackKey string) string {
	var be *domain.BackendError
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return o.msg(fallbackKey)
}

func gatewayMeta(req *model.CheckoutRequest, intent *model.PaymentIntent) map[string]string {
	meta := map[string]string{"intent_id": intent.IntentID}
	switch req.Kind {
	case model.CheckoutKindRegistration:
		meta["description"] = "Registration payment"
		if r := req.Registration; r != nil {
			meta["name"] = r.Name
			meta["email"] = r.Email
		}
	default:
		meta["description"] = "Subscription: " + req.PlanType
		if req.PlanName != "" {
			meta["description"] = "Subscription: " + req.PlanName
		}
	}
	return meta
}

func orNull(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return b
}
