package gateway

import (
	"context"
	"errors"
	"sync"

	"checkout-orchestrator/internal/domain"
	"checkout-orchestrator/internal/domain/model"
	"checkout-orchestrator/internal/domain/ports/adapter"
	"checkout-orchestrator/internal/infra/metrics"
)

var (
	ErrHandleInUse    = errors.New("gateway handle already awaited")
	ErrDuplicateEvent = errors.New("gateway event already delivered")
)

// bridge hands vendor callbacks (arriving over HTTP) to the single Open call
// waiting on the same handle. The first event for a handle wins.
type bridge struct {
	name    string
	mu      sync.Mutex
	waiters map[string]*waiter
}

type waiter struct {
	ch        chan adapter.GatewayEvent
	delivered bool
	onCharge  func()
}

func newBridge(name string) *bridge {
	return &bridge{name: name, waiters: make(map[string]*waiter)}
}

// register starts waiting on handle. onCharge runs when a success event is
// accepted. release must be called when done and may be called twice.
func (b *bridge) register(handle string, onCharge func()) (<-chan adapter.GatewayEvent, func(), error) {
	if handle == "" {
		return nil, nil, domain.ErrInvalidArgument
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, busy := b.waiters[handle]; busy {
		return nil, nil, ErrHandleInUse
	}
	w := &waiter{ch: make(chan adapter.GatewayEvent, 1), onCharge: onCharge}
	b.waiters[handle] = w
	release := func() {
		b.mu.Lock()
		if b.waiters[handle] == w {
			delete(b.waiters, handle)
		}
		b.mu.Unlock()
	}
	return w.ch, release, nil
}

func (b *bridge) deliver(ev adapter.GatewayEvent) error {
	b.mu.Lock()
	w, ok := b.waiters[ev.Handle]
	if !ok {
		b.mu.Unlock()
		metrics.IncGatewayCallback(b.name, string(ev.Kind), "unmatched")
		return domain.ErrNoPendingGateway
	}
	if w.delivered {
		b.mu.Unlock()
		metrics.IncGatewayCallback(b.name, string(ev.Kind), "duplicate")
		return ErrDuplicateEvent
	}
	w.delivered = true
	if ev.Kind == adapter.GatewayEventSuccess && w.onCharge != nil {
		w.onCharge()
	}
	w.ch <- ev
	b.mu.Unlock()
	metrics.IncGatewayCallback(b.name, string(ev.Kind), "delivered")
	return nil
}

func (b *bridge) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}

// await blocks until an event for handle arrives or ctx ends. resolve maps
// the event to a result; dismiss and cancellation both resolve as cancelled.
// An event accepted before cancellation is still resolved, on a context
// detached from ctx: the payment it reports may have been captured.
func (b *bridge) await(ctx context.Context, handle string, resolve func(context.Context, adapter.GatewayEvent) model.GatewayResult) model.GatewayResult {
	events, release, err := b.register(handle, adapter.ChargeReported(ctx))
	if err != nil {
		return model.GatewayFailed(err.Error())
	}
	defer release()

	select {
	case ev := <-events:
		return resolveEvent(ctx, ev, resolve)
	case <-ctx.Done():
	}
	release()
	select {
	case ev := <-events:
		return resolveEvent(context.WithoutCancel(ctx), ev, resolve)
	default:
		return model.GatewayCancelled()
	}
}

func resolveEvent(ctx context.Context, ev adapter.GatewayEvent, resolve func(context.Context, adapter.GatewayEvent) model.GatewayResult) model.GatewayResult {
	if ev.Kind == adapter.GatewayEventDismiss {
		return model.GatewayCancelled()
	}
	return resolve(ctx, ev)
}
