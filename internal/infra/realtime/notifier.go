package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"checkout-orchestrator/internal/domain/ports/adapter"
)

// Channel is the Redis pub/sub channel checkout events travel on.
const Channel = "checkout:events"

var _ adapter.Notifier = (*Notifier)(nil)

// ErrNoRecipient is returned for a notification scoped to neither a user nor
// a client key.
var ErrNoRecipient = errors.New("realtime: notification has no recipient")

// Bus is a pub/sub transport. *redis.Client satisfies it.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error)
}

// Notifier publishes activation events so every service instance can hand
// them to its own sockets. Without a bus it broadcasts locally.
type Notifier struct {
	hub *Hub
	bus Bus
	now func() time.Time
	log *zerolog.Logger
}

func NewNotifier(hub *Hub, bus Bus, logger *zerolog.Logger) *Notifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Notifier{hub: hub, bus: bus, now: time.Now, log: logger}
}

func (n *Notifier) Notify(ctx context.Context, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	env := Envelope{
		Event:     event,
		Audience:  adapter.Audience(ctx),
		ClientKey: adapter.RecipientClient(ctx),
		Payload:   raw,
		At:        n.now().UTC(),
	}
	if !env.addressed() {
		return fmt.Errorf("%s: %w", event, ErrNoRecipient)
	}
	if n.bus == nil {
		n.hub.Broadcast(env)
		return nil
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return n.bus.Publish(ctx, Channel, frame)
}

// Relay feeds bus messages into the hub until ctx ends. It resubscribes
// after transport errors.
func (n *Notifier) Relay(ctx context.Context) {
	if n.bus == nil {
		return
	}
	backoff := time.Second
	for {
		msgs, closeFn, err := n.bus.Subscribe(ctx, Channel)
		if err != nil {
			n.log.Warn().Err(err).Dur("retry_in", backoff).Msg("realtime relay subscribe failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		n.log.Info().Str("channel", Channel).Msg("realtime relay subscribed")
		n.pump(ctx, msgs)
		_ = closeFn()
		if ctx.Err() != nil {
			return
		}
	}
}

func (n *Notifier) pump(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal(m, &env); err != nil {
				n.log.Warn().Err(err).Msg("dropping malformed realtime frame")
				continue
			}
			n.hub.Broadcast(env)
		}
	}
}
