package repository

import (
	"context"

	"checkout-orchestrator/internal/domain/model"
)

// PendingIntentRepository holds the single "pending intent" record written
// when a checkout detours through login. Take reads it once and clears it.
type PendingIntentRepository interface {
	Save(ctx context.Context, clientKey string, p *model.PendingIntent) error
	Take(ctx context.Context, clientKey string) (*model.PendingIntent, error)
	Clear(ctx context.Context, clientKey string) error
}
