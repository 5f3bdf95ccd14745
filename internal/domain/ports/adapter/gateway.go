package adapter

import (
	"context"

	"checkout-orchestrator/internal/domain/model"
)

// Gateway is the hex port for third-party hosted payment UIs (Stripe
// Elements, Razorpay Checkout). Vendor callback shapes never leak past it.
type Gateway interface {
	Name() string

	// EnsureLoaded initializes the vendor SDK handle once per process.
	// Later calls reuse the loaded handle.
	EnsureLoaded(ctx context.Context) error

	// Open presents the vendor UI and waits for exactly one of succeeded,
	// cancelled or failed. It never returns an error: load failures resolve as
	// failed with reason "payment gateway unavailable". Cancelling ctx aborts
	// the pending UI and resolves as cancelled.
	Open(ctx context.Context, creds model.GatewayCredentials, amount int64, meta map[string]string) model.GatewayResult
}

// GatewayEventKind is the vendor callback forwarded by the browser.
type GatewayEventKind string

const (
	GatewayEventSuccess GatewayEventKind = "success"
	GatewayEventDismiss GatewayEventKind = "dismiss"
	GatewayEventFailed  GatewayEventKind = "failed"
)

// GatewayEvent is the raw vendor callback, keyed by the handle the gateway was
// opened with.
type GatewayEvent struct {
	Kind   GatewayEventKind  `json:"kind"`
	Handle string            `json:"handle"`
	Fields map[string]string `json:"fields,omitempty"`
}

// CallbackReceiver accepts vendor callbacks for a gateway whose Open is waiting.
type CallbackReceiver interface {
	Name() string
	Deliver(ctx context.Context, ev GatewayEvent) error
}

type chargeReportedKey struct{}

// WithChargeReported registers fn to be called by a gateway as soon as it has
// accepted a success callback for the handle it was opened with, before the
// result is resolved. From then on a charge may exist and the attempt must be
// finalized.
func WithChargeReported(ctx context.Context, fn func()) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, chargeReportedKey{}, fn)
}

// ChargeReported returns the hook set by WithChargeReported, or a no-op.
func ChargeReported(ctx context.Context) func() {
	if fn, ok := ctx.Value(chargeReportedKey{}).(func()); ok {
		return fn
	}
	return func() {}
}
