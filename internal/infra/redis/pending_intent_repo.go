package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"checkout-orchestrator/internal/domain"
	"checkout-orchestrator/internal/domain/model"
	"checkout-orchestrator/internal/domain/ports/repository"
	"checkout-orchestrator/internal/infra/metrics"
)

var _ repository.PendingIntentRepository = (*PendingIntentRepo)(nil)

// Sealer encrypts records at rest. *security.EncryptionService satisfies it.
type Sealer interface {
	Seal(plaintext, aad []byte) (string, error)
	Open(b64 string, aad []byte) ([]byte, error)
}

// PendingIntentRepo stores the checkout a user left to log in, sealed and
// keyed by client key. Take is read-once.
type PendingIntentRepo struct {
	client RedisClient
	sealer Sealer
	ttl    time.Duration
}

func NewPendingIntentRepo(client RedisClient, sealer Sealer, ttl time.Duration) *PendingIntentRepo {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PendingIntentRepo{client: client, sealer: sealer, ttl: ttl}
}

func (r *PendingIntentRepo) key(clientKey string) string {
	return fmt.Sprintf("pending_subscription:%s", clientKey)
}

func (r *PendingIntentRepo) Save(ctx context.Context, clientKey string, p *model.PendingIntent) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	sealed, err := r.sealer.Seal(data, []byte(clientKey))
	if err != nil {
		metrics.IncPendingIntent("save", "error")
		return err
	}
	if err := r.client.Set(ctx, r.key(clientKey), sealed, r.ttl); err != nil {
		metrics.IncPendingIntent("save", "error")
		return err
	}
	metrics.IncPendingIntent("save", "ok")
	return nil
}

// Take returns the pending intent and removes it; ErrNotFound when absent.
func (r *PendingIntentRepo) Take(ctx context.Context, clientKey string) (*model.PendingIntent, error) {
	raw, err := r.client.GetDel(ctx, r.key(clientKey))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncPendingIntent("take", "miss")
		} else {
			metrics.IncPendingIntent("take", "error")
		}
		return nil, err
	}
	plain, err := r.sealer.Open(raw, []byte(clientKey))
	if err != nil {
		metrics.IncPendingIntent("take", "error")
		return nil, fmt.Errorf("open pending intent: %w", err)
	}
	var p model.PendingIntent
	if err := json.Unmarshal(plain, &p); err != nil {
		metrics.IncPendingIntent("take", "error")
		return nil, fmt.Errorf("decode pending intent: %w", err)
	}
	metrics.IncPendingIntent("take", "hit")
	return &p, nil
}

func (r *PendingIntentRepo) Clear(ctx context.Context, clientKey string) error {
	return r.client.Del(ctx, r.key(clientKey))
}
