package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"checkout-orchestrator/internal/domain"
	"checkout-orchestrator/internal/domain/model"
	"checkout-orchestrator/internal/domain/ports/repository"
)

var _ repository.CheckoutAttemptRepository = (*checkoutAttemptRepo)(nil)

type checkoutAttemptRepo struct {
	pool *pgxpool.Pool
}

func NewCheckoutAttemptRepo(pool *pgxpool.Pool) *checkoutAttemptRepo {
	return &checkoutAttemptRepo{pool: pool}
}

const attemptColumns = `id, client_key, user_id, kind, plan_type, intent_id, gateway, amount,
  phase, failure, message, proof_payment_id, resolved, created_at, updated_at`

// Save upserts the attempt. resolved is never cleared by a later save.
func (r *checkoutAttemptRepo) Save(ctx context.Context, tx repository.Tx, a *model.CheckoutAttempt) error {
	const q = `
INSERT INTO checkout_attempts (` + attemptColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
  user_id=$3, intent_id=$6, gateway=$7, amount=$8, phase=$9, failure=$10, message=$11,
  proof_payment_id=$12, resolved=checkout_attempts.resolved OR $13, updated_at=$15;`

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	db, err := on(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, q,
		a.ID, a.ClientKey, a.UserID, string(a.Kind), a.PlanType, a.IntentID, a.Gateway, a.Amount,
		string(a.Phase), string(a.Failure), a.Message, a.ProofPaymentID, a.Resolved, a.CreatedAt, a.UpdatedAt)
	return mapError(err)
}

func (r *checkoutAttemptRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.CheckoutAttempt, error) {
	q := `SELECT ` + attemptColumns + ` FROM checkout_attempts WHERE id=$1;`
	db, err := on(r.pool, tx)
	if err != nil {
		return nil, err
	}
	a, err := scanAttempt(db.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

// ListUnresolvedActivationFailures returns paid-but-not-activated attempts
// last touched before olderThan, oldest first.
func (r *checkoutAttemptRepo) ListUnresolvedActivationFailures(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.CheckoutAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + attemptColumns + `
  FROM checkout_attempts
 WHERE failure='activation_failed' AND resolved=FALSE AND updated_at < $1
 ORDER BY updated_at ASC
 LIMIT $2;`
	db, err := on(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(ctx, q, olderThan, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*model.CheckoutAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *checkoutAttemptRepo) MarkResolved(ctx context.Context, tx repository.Tx, id string) error {
	const q = `UPDATE checkout_attempts SET resolved=TRUE, updated_at=NOW() WHERE id=$1;`
	db, err := on(r.pool, tx)
	if err != nil {
		return err
	}
	tag, err := db.Exec(ctx, q, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanAttempt(row pgx.Row) (*model.CheckoutAttempt, error) {
	var (
		a                    model.CheckoutAttempt
		kind, phase, failure string
	)
	if err := row.Scan(&a.ID, &a.ClientKey, &a.UserID, &kind, &a.PlanType, &a.IntentID, &a.Gateway, &a.Amount,
		&phase, &failure, &a.Message, &a.ProofPaymentID, &a.Resolved, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Kind = model.CheckoutKind(kind)
	a.Phase = model.Phase(phase)
	a.Failure = model.FailureKind(failure)
	return &a, nil
}
