//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"checkout-orchestrator/internal/domain"
	"checkout-orchestrator/internal/domain/model"
	"checkout-orchestrator/internal/domain/ports/adapter"
	"checkout-orchestrator/internal/usecase"
)

type harness struct {
	orch     *usecase.Orchestrator
	backend  *MockBackend
	gateway  *MockGateway
	notifier *MockNotifier
	alerter  *MockAlerter
	pending  *memPendingRepo
	attempts *memAttemptRepo
	timer    *manualTimer
	redirect chan model.Succeeded
}

func newHarness(t *testing.T, gw *MockGateway) *harness {
	t.Helper()
	return newKindHarness(t, model.CheckoutKindSubscription, gw, usecase.WithUserID("user-1"))
}

// newKindHarness wires a single backend of kind. Registration sessions are
// anonymous unless an option says otherwise.
func newKindHarness(t *testing.T, kind model.CheckoutKind, gw *MockGateway, opts ...usecase.OrchestratorOption) *harness {
	t.Helper()
	h := &harness{
		backend:  NewMockBackend(kind),
		gateway:  gw,
		notifier: &MockNotifier{},
		alerter:  &MockAlerter{},
		pending:  newMemPendingRepo(),
		attempts: newMemAttemptRepo(),
		timer:    &manualTimer{},
		redirect: make(chan model.Succeeded, 4),
	}
	deps := usecase.CheckoutDeps{
		Backends: map[model.CheckoutKind]adapter.Backend{kind: h.backend},
		Gateways: map[string]adapter.Gateway{gw.Name(): gw},
		Notifier: h.notifier,
		Alerter:  h.alerter,
		Pending:  h.pending,
		Attempts: h.attempts,
		Dispatch: syncDispatcher{},
	}
	cfg := usecase.CheckoutConfig{
		RedirectDelay: 2 * time.Second,
		RedirectTo: map[model.CheckoutKind]string{
			model.CheckoutKindSubscription: "/dashboard",
			model.CheckoutKindRegistration: "/parent/dashboard",
		},
	}
	opts = append(opts,
		usecase.WithClock(nil, h.timer.AfterFunc),
		usecase.WithRedirectHook(func(_ string, s model.Succeeded) { h.redirect <- s }),
	)
	h.orch = usecase.NewOrchestrator("sess-1", "client-1", deps, cfg, opts...)
	return h
}

func subscriptionRequest() *model.CheckoutRequest {
	return &model.CheckoutRequest{
		Kind:      model.CheckoutKindSubscription,
		PlanType:  "premium",
		PlanName:  "Premium",
		Amount:    49900,
		AuthToken: "jwt-token",
	}
}

func TestOrchestrator_PaidCheckoutSucceeds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, NewMockGateway(model.GatewaySucceeded(model.Proof{PaymentID: "pi_123"})))

	st, err := h.orch.Start(ctx, subscriptionRequest())
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	succ, ok := st.(model.Succeeded)
	if !ok {
		t.Fatalf("expected Succeeded, got %T", st)
	}
	if succ.RedirectTo != "/dashboard" {
		t.Errorf("RedirectTo = %q", succ.RedirectTo)
	}
	if h.gateway.Opens() != 1 {
		t.Errorf("gateway opened %d times, want 1", h.gateway.Opens())
	}
	if p := h.backend.LastProof(); p == nil || p.PaymentID != "pi_123" {
		t.Fatalf("finalize got proof %+v", p)
	}
	if tok := h.backend.Calls.Tokens[0]; tok != "jwt-token" {
		t.Errorf("finalize bearer token = %q", tok)
	}
	if got := h.gateway.LastMeta["description"]; got != "Subscription: Premium" {
		t.Errorf("gateway description = %q", got)
	}

	events := h.notifier.Sent()
	if len(events) != 1 || events[0].Event != "subscription:activated" || events[0].Audience != "user-1" {
		t.Fatalf("unexpected notifications: %+v", events)
	}

	rec, err := h.attempts.FindByID(ctx, nil, "sess-1")
	if err != nil {
		t.Fatalf("attempt record missing: %v", err)
	}
	if rec.Phase != model.PhaseSucceeded || rec.ProofPaymentID != "pi_123" || rec.IntentID != "sub_1" {
		t.Errorf("unexpected attempt record %+v", rec)
	}
}

func TestOrchestrator_RedirectReturnsToIdle(t *testing.T) {
	h := newHarness(t, NewMockGateway(model.GatewaySucceeded(model.Proof{PaymentID: "pi_123"})))
	if _, err := h.orch.Start(context.Background(), subscriptionRequest()); err != nil {
		t.Fatal(err)
	}
	if d := h.timer.delays; len(d) != 1 || d[0] != 2*time.Second {
		t.Fatalf("redirect timer delays = %v", d)
	}
	if n := h.timer.Fire(); n != 1 {
		t.Fatalf("fired %d timers", n)
	}
	if _, ok := h.orch.State().(model.Idle); !ok {
		t.Fatalf("expected Idle after redirect, got %T", h.orch.State())
	}
	select {
	case s := <-h.redirect:
		if s.RedirectTo != "/dashboard" {
			t.Errorf("hook got %q", s.RedirectTo)
		}
	default:
		t.Fatal("redirect hook not called")
	}
}

func TestOrchestrator_NoPaymentSkipsGateway(t *testing.T) {
	h := newHarness(t, NewMockGateway(model.GatewayFailed("must not open")))
	h.backend.InitiateFunc = func(context.Context, *model.CheckoutRequest) (*model.PaymentIntent, error) {
		return freeIntent(), nil
	}

	st, err := h.orch.Start(context.Background(), subscriptionRequest())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(model.Succeeded); !ok {
		t.Fatalf("expected Succeeded, got %T", st)
	}
	if h.gateway.Opens() != 0 {
		t.Error("gateway must not open when no payment is required")
	}
	if h.backend.FinalizeCount() != 1 || h.backend.LastProof() != nil {
		t.Errorf("expected one finalize without proof, got %d", h.backend.FinalizeCount())
	}
}

func TestOrchestrator_CancelNeverFinalizes(t *testing.T) {
	h := newHarness(t, NewMockGateway(model.GatewayCancelled()))

	st, err := h.orch.Start(context.Background(), subscriptionRequest())
	if err != nil {
		t.Fatalf("cancel must not error: %v", err)
	}
	idle, ok := st.(model.Idle)
	if !ok {
		t.Fatalf("expected Idle, got %T", st)
	}
	if idle.Notice != "Payment cancelled" {
		t.Errorf("notice = %q", idle.Notice)
	}
	if h.backend.FinalizeCount() != 0 {
		t.Error("finalize called after cancel")
	}
	if len(h.notifier.Sent()) != 0 {
		t.Error("notification sent after cancel")
	}
}

func TestOrchestrator_GatewayFailureReasonVerbatim(t *testing.T) {
	h := newHarness(t, NewMockGateway(model.GatewayFailed("Card declined by issuer")))

	st, _ := h.orch.Start(context.Background(), subscriptionRequest())
	f, ok := st.(model.Failed)
	if !ok {
		t.Fatalf("expected Failed, got %T", st)
	}
	if f.Kind != model.FailureGateway || f.Message != "Card declined by issuer" {
		t.Errorf("unexpected failure %+v", f)
	}
	if h.backend.FinalizeCount() != 0 {
		t.Error("finalize called after gateway failure")
	}
}

func TestOrchestrator_MissingTokenAwaitsAuth(t *testing.T) {
	h := newHarness(t, NewMockGateway(model.GatewayCancelled()))
	req := subscriptionRequest()
	req.AuthToken = ""

	st, err := h.orch.Start(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	aa, ok := st.(model.AwaitingAuth)
	if !ok {
		t.Fatalf("expected AwaitingAuth, got %T", st)
	}
	if aa.Message != "Please login to continue" {
		t.Errorf("message = %q", aa.Message)
	}
	if h.backend.InitiateCount() != 0 {
		t.Error("no backend call expected without a token")
	}
	p := h.pending.Peek("client-1")
	if p == nil || p.PlanType != "premium" || p.Amount != 49900 {
		t.Fatalf("pending intent not saved: %+v", p)
	}
}

func TestOrchestrator_UnauthorizedInitiateSavesPending(t *testing.T) {
	h := newHarness(t, NewMockGateway(model.GatewayCancelled()))
	h.backend.InitiateFunc = func(context.Context, *model.CheckoutRequest) (*model.PaymentIntent, error) {
		return nil, &domain.BackendError{Kind: domain.ErrAuthRequired, Status: 401}
	}

	st, _ := h.orch.Start(context.Background(), subscriptionRequest())
	if st.Phase() != model.PhaseAwaitingAuth {
		t.Fatalf("phase = %s", st.Phase())
	}
	if h.pending.Peek("client-1") == nil {
		t.Error("pending intent not saved on 401")
	}
}

func TestOrchestrator_InitiateErrorsSurfaceServerMessage(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind model.FailureKind
		msg  string
	}{
		{"validation", &domain.BackendError{Kind: domain.ErrValidationFailed, Status: 422, Message: "Invalid linking code"}, model.FailureValidation, "Invalid linking code"},
		{"server with message", &domain.BackendError{Kind: domain.ErrServerError, Status: 500, Message: "Plan not available"}, model.FailureServer, "Plan not available"},
		{"transport", errors.New("dial tcp: connection refused"), model.FailureServer, "Failed to initialize payment"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, NewMockGateway(model.GatewayCancelled()))
			h.backend.InitiateFunc = func(context.Context, *model.CheckoutRequest) (*model.PaymentIntent, error) {
				return nil, tc.err
			}
			st, _ := h.orch.Start(context.Background(), subscriptionRequest())
			f, ok := st.(model.Failed)
			if !ok {
				t.Fatalf("expected Failed, got %T", st)
			}
			if f.Kind != tc.kind || f.Message != tc.msg {
				t.Errorf("got %+v, want kind=%s msg=%q", f, tc.kind, tc.msg)
			}
			if h.gateway.Opens() != 0 {
				t.Error("gateway opened after initiate failure")
			}
		})
	}
}

func TestOrchestrator_ActivationFailureAfterPayment(t *testing.T) {
	h := newHarness(t, NewMockGateway(model.GatewaySucceeded(model.Proof{PaymentID: "pi_123"})))
	h.backend.FinalizeFunc = func(context.Context, *model.PaymentIntent, *model.Proof) (*model.ActivationResult, error) {
		return nil, &domain.BackendError{Kind: domain.ErrServerError, Status: 500, Message: "db down"}
	}

	st, _ := h.orch.Start(context.Background(), subscriptionRequest())
	f, ok := st.(model.Failed)
	if !ok {
		t.Fatalf("expected Failed, got %T", st)
	}
	if f.Kind != model.FailureActivation || f.Kind.Retryable() {
		t.Errorf("unexpected failure %+v", f)
	}
	if f.Message != "Payment succeeded but failed to activate subscription. Please contact support." {
		t.Errorf("message = %q", f.Message)
	}
	if h.alerter.AlertCount() != 1 {
		t.Errorf("support alerts = %d, want 1", h.alerter.AlertCount())
	}
	if len(h.notifier.Sent()) != 0 {
		t.Error("notification must only follow a successful finalize")
	}
	rec, _ := h.attempts.FindByID(context.Background(), nil, "sess-1")
	if rec == nil || rec.Failure != model.FailureActivation || rec.Message == "" {
		t.Errorf("attempt record %+v", rec)
	}
}

func TestOrchestrator_UnsuccessfulVerifyIsActivationFailure(t *testing.T) {
	h := newHarness(t, NewMockGateway(model.GatewaySucceeded(model.Proof{PaymentID: "pi_123"})))
	h.backend.FinalizeFunc = func(context.Context, *model.PaymentIntent, *model.Proof) (*model.ActivationResult, error) {
		return &model.ActivationResult{Success: false, Message: "Payment not completed"}, nil
	}
	st, _ := h.orch.Start(context.Background(), subscriptionRequest())
	if f, ok := st.(model.Failed); !ok || f.Kind != model.FailureActivation {
		t.Fatalf("expected activation failure, got %#v", st)
	}
}

func TestOrchestrator_SameProofFinalizedOnce(t *testing.T) {
	h := newHarness(t, NewMockGateway(model.GatewaySucceeded(model.Proof{PaymentID: "pi_123"})))
	ctx := context.Background()

	if _, err := h.orch.Start(ctx, subscriptionRequest()); err != nil {
		t.Fatal(err)
	}
	h.timer.Fire()

	st, err := h.orch.Start(ctx, subscriptionRequest())
	if err != nil {
		t.Fatal(err)
	}
	f, ok := st.(model.Failed)
	if !ok || f.Kind != model.FailureServer {
		t.Fatalf("expected duplicate failure, got %#v", st)
	}
	if h.backend.FinalizeCount() != 1 {
		t.Errorf("finalize called %d times for one proof", h.backend.FinalizeCount())
	}
}

func TestOrchestrator_CloseRefusedWhileFinalizing(t *testing.T) {
	h := newHarness(t, NewMockGateway(model.GatewaySucceeded(model.Proof{PaymentID: "pi_123"})))
	entered := make(chan struct{})
	release := make(chan struct{})
	h.backend.FinalizeFunc = func(ctx context.Context, _ *model.PaymentIntent, _ *model.Proof) (*model.ActivationResult, error) {
		close(entered)
		<-release
		if ctx.Err() != nil {
			t.Error("finalize context must not be cancelled")
		}
		return &model.ActivationResult{Success: true}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan model.State, 1)
	go func() {
		st, _ := h.orch.Start(ctx, subscriptionRequest())
		done <- st
	}()

	<-entered
	if err := h.orch.Close(context.Background()); !errors.Is(err, domain.ErrCloseDuringFinalize) {
		t.Fatalf("Close during finalize = %v", err)
	}
	if model.SnapshotOf(h.orch.State()).Closable {
		t.Error("snapshot must report not closable while finalizing")
	}
	cancel()
	close(release)

	select {
	case st := <-done:
		if _, ok := st.(model.Succeeded); !ok {
			t.Fatalf("expected Succeeded, got %T", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
}

func TestOrchestrator_CloseWhileAwaitingGateway(t *testing.T) {
	release := make(chan model.GatewayResult)
	gw, opened := NewBlockingGateway(release)
	h := newHarness(t, gw)

	done := make(chan model.State, 1)
	go func() {
		st, _ := h.orch.Start(context.Background(), subscriptionRequest())
		done <- st
	}()
	<-opened

	if st := h.orch.State(); st.Phase() != model.PhaseAwaitingGateway {
		t.Fatalf("phase = %s", st.Phase())
	}
	if _, err := h.orch.Start(context.Background(), subscriptionRequest()); !errors.Is(err, domain.ErrCheckoutInProgress) {
		t.Errorf("second Start = %v, want ErrCheckoutInProgress", err)
	}
	if err := h.orch.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case st := <-done:
		if _, ok := st.(model.Idle); !ok {
			t.Fatalf("expected Idle, got %T", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Close")
	}
	if h.backend.FinalizeCount() != 0 {
		t.Error("finalize called after close")
	}
	rec, _ := h.attempts.FindByID(context.Background(), nil, "sess-1")
	if rec == nil || rec.Message != "closed during awaiting_gateway" {
		t.Errorf("attempt record %+v", rec)
	}
}

func TestOrchestrator_DismissOnlyFromTerminal(t *testing.T) {
	h := newHarness(t, NewMockGateway(model.GatewayFailed("declined")))
	ctx := context.Background()

	if err := h.orch.Dismiss(ctx); !errors.Is(err, domain.ErrNotTerminal) {
		t.Fatalf("Dismiss from Idle = %v", err)
	}
	if _, err := h.orch.Start(ctx, subscriptionRequest()); err != nil {
		t.Fatal(err)
	}
	if err := h.orch.Dismiss(ctx); err != nil {
		t.Fatalf("Dismiss from Failed: %v", err)
	}
	if h.orch.State().Phase() != model.PhaseIdle {
		t.Errorf("phase = %s", h.orch.State().Phase())
	}
}

func TestOrchestrator_UnknownGatewayFails(t *testing.T) {
	h := newHarness(t, NewMockGateway(model.GatewayCancelled()))
	h.backend.InitiateFunc = func(context.Context, *model.CheckoutRequest) (*model.PaymentIntent, error) {
		in := paidIntent()
		in.Gateway = "paypal"
		return in, nil
	}
	st, _ := h.orch.Start(context.Background(), subscriptionRequest())
	f, ok := st.(model.Failed)
	if !ok || f.Kind != model.FailureGateway || f.Message != "payment gateway unavailable" {
		t.Fatalf("unexpected state %#v", st)
	}
}

func TestOrchestrator_RejectsInvalidRequest(t *testing.T) {
	h := newHarness(t, NewMockGateway(model.GatewayCancelled()))
	_, err := h.orch.Start(context.Background(), &model.CheckoutRequest{Kind: model.CheckoutKindSubscription})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
	_, err = h.orch.Start(context.Background(), &model.CheckoutRequest{
		Kind:         model.CheckoutKindRegistration,
		Registration: &model.RegistrationDetails{Flow: "child_not_created"},
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("missing backend err = %v", err)
	}
	if h.orch.State().Phase() != model.PhaseIdle {
		t.Error("invalid request must not leave Idle")
	}
}

func registrationRequest() *model.CheckoutRequest {
	return &model.CheckoutRequest{
		Kind: model.CheckoutKindRegistration,
		Registration: &model.RegistrationDetails{
			Name:     "Asha Rao",
			Email:    "asha@example.com",
			Password: "s3cret-pass",
			Flow:     "child_not_created",
		},
	}
}

func orderIntent() *model.PaymentIntent {
	return &model.PaymentIntent{
		IntentID:         "order_1",
		Amount:           99900,
		Currency:         "INR",
		RequiresPayment:  true,
		Gateway:          "mockpay",
		GatewayOrderID:   "order_1",
		GatewayPublicKey: "rzp_test_key",
	}
}

func TestOrchestrator_RegistrationRunsAnonymously(t *testing.T) {
	ctx := context.Background()
	proof := model.Proof{PaymentID: "pay_1", OrderID: "order_1", Signature: "sig_1"}
	gw := NewMockGateway(model.GatewaySucceeded(proof))
	var creds model.GatewayCredentials
	gw.OpenFunc = func(_ context.Context, c model.GatewayCredentials, _ int64, _ map[string]string) model.GatewayResult {
		creds = c
		return model.GatewaySucceeded(proof)
	}
	h := newKindHarness(t, model.CheckoutKindRegistration, gw)
	h.backend.InitiateFunc = func(context.Context, *model.CheckoutRequest) (*model.PaymentIntent, error) {
		return orderIntent(), nil
	}
	h.backend.FinalizeFunc = func(context.Context, *model.PaymentIntent, *model.Proof) (*model.ActivationResult, error) {
		return &model.ActivationResult{
			Success: true,
			Token:   "jwt-new-parent",
			Entity:  json.RawMessage(`{"id":"parent_1","email":"asha@example.com"}`),
		}, nil
	}

	st, err := h.orch.Start(ctx, registrationRequest())
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	succ, ok := st.(model.Succeeded)
	if !ok {
		t.Fatalf("expected Succeeded, got %T (%+v)", st, st)
	}
	if h.backend.InitiateCount() != 1 {
		t.Fatalf("initiate called %d times; registration must not wait for a login", h.backend.InitiateCount())
	}
	if h.pending.Peek("client-1") != nil {
		t.Error("no pending intent may be saved for an anonymous registration")
	}
	if creds.Handle != "order_1" || creds.PublicKey != "rzp_test_key" {
		t.Errorf("gateway opened with %+v", creds)
	}
	if p := h.backend.LastProof(); p == nil || *p != proof {
		t.Errorf("finalize got proof %+v", p)
	}
	if succ.Activation == nil || succ.Activation.Token != "jwt-new-parent" {
		t.Errorf("activation = %+v", succ.Activation)
	}
	if succ.RedirectTo != "/parent/dashboard" {
		t.Errorf("RedirectTo = %q", succ.RedirectTo)
	}

	events := h.notifier.Sent()
	if len(events) != 1 {
		t.Fatalf("notifications = %+v", events)
	}
	ev := events[0]
	if ev.Event != "account:activated" || ev.Audience != "" || ev.ClientKey != "client-1" {
		t.Errorf("event %q audience=%q client=%q", ev.Event, ev.Audience, ev.ClientKey)
	}
	payload, ok := ev.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type %T", ev.Payload)
	}
	raw, ok := payload["account"].(json.RawMessage)
	if !ok || !strings.Contains(string(raw), `"parent_1"`) {
		t.Errorf("account payload = %v", payload)
	}
}

func TestOrchestrator_RegistrationActivationFailureMentionsAccount(t *testing.T) {
	gw := NewMockGateway(model.GatewaySucceeded(model.Proof{PaymentID: "pay_1", OrderID: "order_1", Signature: "sig_1"}))
	h := newKindHarness(t, model.CheckoutKindRegistration, gw)
	h.backend.InitiateFunc = func(context.Context, *model.CheckoutRequest) (*model.PaymentIntent, error) {
		return orderIntent(), nil
	}
	h.backend.FinalizeFunc = func(context.Context, *model.PaymentIntent, *model.Proof) (*model.ActivationResult, error) {
		return &model.ActivationResult{Success: false, Message: "Payment verification failed"}, nil
	}

	st, _ := h.orch.Start(context.Background(), registrationRequest())
	f, ok := st.(model.Failed)
	if !ok || f.Kind != model.FailureActivation {
		t.Fatalf("expected activation failure, got %#v", st)
	}
	if f.Message != "Payment succeeded but we could not create your account. Please contact support." {
		t.Errorf("message = %q", f.Message)
	}
	if h.alerter.AlertCount() != 1 {
		t.Errorf("support alerts = %d", h.alerter.AlertCount())
	}
}

func TestOrchestrator_ChargeReportedBlocksClose(t *testing.T) {
	release := make(chan model.GatewayResult)
	gw, opened := NewBlockingGateway(release)
	inner := gw.OpenFunc
	gw.OpenFunc = func(ctx context.Context, c model.GatewayCredentials, amount int64, meta map[string]string) model.GatewayResult {
		adapter.ChargeReported(ctx)()
		return inner(ctx, c, amount, meta)
	}
	h := newHarness(t, gw)

	done := make(chan model.State, 1)
	go func() {
		st, _ := h.orch.Start(context.Background(), subscriptionRequest())
		done <- st
	}()
	<-opened

	if !h.orch.Settling() {
		t.Fatal("a reported charge must mark the session as settling")
	}
	if err := h.orch.Close(context.Background()); !errors.Is(err, domain.ErrCloseDuringFinalize) {
		t.Fatalf("Close after charge = %v", err)
	}
	release <- model.GatewaySucceeded(model.Proof{PaymentID: "pi_charged"})

	select {
	case st := <-done:
		if _, ok := st.(model.Succeeded); !ok {
			t.Fatalf("expected Succeeded, got %T", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
	if h.backend.FinalizeCount() != 1 {
		t.Errorf("finalize called %d times", h.backend.FinalizeCount())
	}
}

func TestOrchestrator_SuccessAfterCloseStillFinalizes(t *testing.T) {
	h := newHarness(t, NewMockGateway(model.GatewayCancelled()))
	h.gateway.OpenFunc = func(ctx context.Context, _ model.GatewayCredentials, _ int64, _ map[string]string) model.GatewayResult {
		// The user closes the modal while the charge is already in flight.
		if err := h.orch.Close(context.Background()); err != nil {
			t.Errorf("Close: %v", err)
		}
		return model.GatewaySucceeded(model.Proof{PaymentID: "pi_charged"})
	}

	st, err := h.orch.Start(context.Background(), subscriptionRequest())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(model.Succeeded); !ok {
		t.Fatalf("expected Succeeded, got %T", st)
	}
	if p := h.backend.LastProof(); h.backend.FinalizeCount() != 1 || p == nil || p.PaymentID != "pi_charged" {
		t.Fatalf("finalize count=%d proof=%+v", h.backend.FinalizeCount(), p)
	}
	if events := h.notifier.Sent(); len(events) != 1 || events[0].Event != "subscription:activated" {
		t.Errorf("notifications = %+v", events)
	}
	if n := h.timer.Fire(); n != 1 {
		t.Errorf("redirect timers fired = %d", n)
	}
}

func TestOrchestrator_FailedFinalizeAfterCloseAlerts(t *testing.T) {
	h := newHarness(t, NewMockGateway(model.GatewayCancelled()))
	h.gateway.OpenFunc = func(ctx context.Context, _ model.GatewayCredentials, _ int64, _ map[string]string) model.GatewayResult {
		_ = h.orch.Close(context.Background())
		return model.GatewaySucceeded(model.Proof{PaymentID: "pi_charged"})
	}
	h.backend.FinalizeFunc = func(context.Context, *model.PaymentIntent, *model.Proof) (*model.ActivationResult, error) {
		return nil, &domain.BackendError{Kind: domain.ErrServerError, Status: 502, Message: "bad gateway"}
	}

	st, _ := h.orch.Start(context.Background(), subscriptionRequest())
	if f, ok := st.(model.Failed); !ok || f.Kind != model.FailureActivation {
		t.Fatalf("expected activation failure, got %#v", st)
	}
	if h.alerter.AlertCount() != 1 {
		t.Errorf("support alerts = %d, want 1", h.alerter.AlertCount())
	}
}

func TestOrchestrator_GatewayLoadFailure(t *testing.T) {
	gw := NewMockGateway(model.GatewaySucceeded(model.Proof{PaymentID: "pi_123"}))
	gw.LoadErr = errors.New("checkout.js unreachable")
	h := newHarness(t, gw)

	st, _ := h.orch.Start(context.Background(), subscriptionRequest())
	f, ok := st.(model.Failed)
	if !ok || f.Kind != model.FailureGateway || f.Message != "payment gateway unavailable" {
		t.Fatalf("unexpected state %#v", st)
	}
	if !f.Kind.Retryable() {
		t.Error("a gateway that failed to load is retryable")
	}
	if gw.Opens() != 0 {
		t.Error("gateway opened although it failed to load")
	}
	if h.backend.FinalizeCount() != 0 {
		t.Error("finalize called without a charge")
	}
}
