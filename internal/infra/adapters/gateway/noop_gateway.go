package gateway

import (
	"context"
	"time"

	"checkout-orchestrator/internal/domain/model"
	"checkout-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.Gateway = (*NoopGateway)(nil)

// NoopGateway resolves every Open with a fixed result after Delay. Used by
// the demo and in development without vendor credentials.
type NoopGateway struct {
	Result model.GatewayResult
	Delay  time.Duration
}

func NewNoopGateway(result model.GatewayResult, delay time.Duration) *NoopGateway {
	return &NoopGateway{Result: result, Delay: delay}
}

func (g *NoopGateway) Name() string { return "noop" }

func (g *NoopGateway) EnsureLoaded(ctx context.Context) error { return nil }

func (g *NoopGateway) Open(ctx context.Context, creds model.GatewayCredentials, amount int64, meta map[string]string) model.GatewayResult {
	if g.Delay > 0 {
		t := time.NewTimer(g.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return model.GatewayCancelled()
		case <-t.C:
		}
	}
	res := g.Result
	if res.Outcome == model.OutcomeSucceeded && res.Proof.Key() == "" {
		res.Proof = &model.Proof{PaymentID: "noop_" + creds.Handle, OrderID: creds.Handle}
	}
	return res
}
