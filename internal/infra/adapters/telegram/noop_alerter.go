package telegram

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"checkout-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.SupportAlerter = (*NoopAlerter)(nil)

// NoopAlerter logs alerts instead of sending them. Used when no Telegram
// token is configured.
type NoopAlerter struct {
	log *zerolog.Logger
}

func NewNoopAlerter(logger *zerolog.Logger) *NoopAlerter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &NoopAlerter{log: logger}
}

func (a *NoopAlerter) AlertActivationFailure(ctx context.Context, sessionID, intentID, paymentID, message string) error {
	a.log.Warn().
		Str("session_id", sessionID).
		Str("intent_id", intentID).
		Str("payment_id", paymentID).
		Str("error", message).
		Msg("[noop-telegram] activation failed after payment")
	return nil
}

func (a *NoopAlerter) AlertUnresolved(ctx context.Context, count int, oldest time.Time) error {
	a.log.Warn().Int("count", count).Time("oldest", oldest).Msg("[noop-telegram] unresolved activation failures")
	return nil
}
