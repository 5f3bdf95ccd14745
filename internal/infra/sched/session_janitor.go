package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"checkout-orchestrator/internal/infra/metrics"
)

// Sweeper is satisfied by usecase.SessionUseCase.
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Duration) int
}

// SessionJanitor drops checkout sessions nobody has touched for ttl.
type SessionJanitor struct {
	sessions Sweeper
	interval time.Duration
	ttl      time.Duration
	log      *zerolog.Logger
}

func NewSessionJanitor(sessions Sweeper, interval, ttl time.Duration, logger *zerolog.Logger) *SessionJanitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	l := logger.With().Str("component", "SessionJanitor").Logger()
	return &SessionJanitor{sessions: sessions, interval: interval, ttl: ttl, log: &l}
}

func (j *SessionJanitor) Run(ctx context.Context) error {
	j.log.Info().Dur("interval", j.interval).Dur("ttl", j.ttl).Msg("Starting session janitor")
	t := time.NewTicker(j.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			j.log.Info().Msg("Stopping session janitor")
			return ctx.Err()
		case <-t.C:
			if n := j.sessions.Sweep(ctx, j.ttl); n > 0 {
				j.log.Debug().Int("removed", n).Msg("sessions swept")
			}
			metrics.IncJobRun("session_janitor", "ok")
		}
	}
}
