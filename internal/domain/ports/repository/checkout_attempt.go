package repository

import (
	"context"
	"time"

	"checkout-orchestrator/internal/domain/model"
)

// CheckoutAttemptRepository keeps the audit trail support uses to reconcile
// captured-but-not-activated charges.
type CheckoutAttemptRepository interface {
	Save(ctx context.Context, tx Tx, a *model.CheckoutAttempt) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.CheckoutAttempt, error)
	ListUnresolvedActivationFailures(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.CheckoutAttempt, error)
	MarkResolved(ctx context.Context, tx Tx, id string) error
}
