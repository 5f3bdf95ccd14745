package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"checkout-orchestrator/internal/domain/ports/adapter"
	"checkout-orchestrator/internal/domain/ports/repository"
	"checkout-orchestrator/internal/infra/metrics"
)

const escalationBatch = 200

// EscalationWorker periodically reports charges whose activation failed and
// that support has not resolved yet. It covers alerts lost when the process
// crashed between the failure and the alert dispatch.
type EscalationWorker struct {
	attempts repository.CheckoutAttemptRepository
	alerter  adapter.SupportAlerter
	interval time.Duration // how often to scan
	minAge   time.Duration // how old a failure must be to count
	log      *zerolog.Logger
	now      func() time.Time
}

func NewEscalationWorker(attempts repository.CheckoutAttemptRepository, alerter adapter.SupportAlerter, interval, minAge time.Duration, logger *zerolog.Logger) *EscalationWorker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if minAge <= 0 {
		minAge = 10 * time.Minute
	}
	l := logger.With().Str("component", "EscalationWorker").Logger()
	return &EscalationWorker{
		attempts: attempts,
		alerter:  alerter,
		interval: interval,
		minAge:   minAge,
		log:      &l,
		now:      time.Now,
	}
}

func (w *EscalationWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting escalation worker")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping escalation worker")
			return ctx.Err()
		case <-t.C:
			runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			_, _ = w.Tick(runCtx)
			cancel()
		}
	}
}

// Tick runs one scan and returns the number of unresolved failures found.
func (w *EscalationWorker) Tick(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.minAge)
	failed, err := w.attempts.ListUnresolvedActivationFailures(ctx, repository.NoTX, cutoff, escalationBatch)
	if err != nil {
		metrics.IncJobRun("escalation", "error")
		w.log.Error().Err(err).Msg("list unresolved activation failures")
		return 0, err
	}
	metrics.SetActivationFailuresUnresolved(len(failed))
	if len(failed) == 0 {
		metrics.IncJobRun("escalation", "ok")
		return 0, nil
	}

	oldest := failed[0].UpdatedAt
	for _, a := range failed[1:] {
		if a.UpdatedAt.Before(oldest) {
			oldest = a.UpdatedAt
		}
	}
	if err := w.alerter.AlertUnresolved(ctx, len(failed), oldest); err != nil {
		metrics.IncJobRun("escalation", "error")
		w.log.Warn().Err(err).Int("count", len(failed)).Msg("unresolved activation alert failed")
		return len(failed), err
	}
	metrics.IncJobRun("escalation", "ok")
	w.log.Info().Int("count", len(failed)).Time("oldest", oldest).Msg("unresolved activation failures reported")
	return len(failed), nil
}
