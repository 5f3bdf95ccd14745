//go:build !integration

package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"checkout-orchestrator/internal/domain/model"
	"checkout-orchestrator/internal/domain/ports/repository"
)

type fakeAttempts struct {
	repository.CheckoutAttemptRepository
	rows   []*model.CheckoutAttempt
	err    error
	cutoff time.Time
}

func (f *fakeAttempts) ListUnresolvedActivationFailures(_ context.Context, _ repository.Tx, olderThan time.Time, _ int) ([]*model.CheckoutAttempt, error) {
	f.cutoff = olderThan
	return f.rows, f.err
}

type fakeAlerter struct {
	count  int
	oldest time.Time
	calls  int
}

func (f *fakeAlerter) AlertActivationFailure(context.Context, string, string, string, string) error {
	return nil
}

func (f *fakeAlerter) AlertUnresolved(_ context.Context, count int, oldest time.Time) error {
	f.calls++
	f.count = count
	f.oldest = oldest
	return nil
}

func TestEscalationWorker_ReportsOldestUnresolved(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeAttempts{rows: []*model.CheckoutAttempt{
		{ID: "a", UpdatedAt: now.Add(-time.Hour)},
		{ID: "b", UpdatedAt: now.Add(-3 * time.Hour)},
		{ID: "c", UpdatedAt: now.Add(-2 * time.Hour)},
	}}
	alerter := &fakeAlerter{}
	logger := zerolog.Nop()
	w := NewEscalationWorker(repo, alerter, time.Minute, 10*time.Minute, &logger)
	w.now = func() time.Time { return now }

	n, err := w.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 3 || alerter.count != 3 {
		t.Fatalf("reported %d/%d, want 3", n, alerter.count)
	}
	if !alerter.oldest.Equal(now.Add(-3 * time.Hour)) {
		t.Errorf("oldest = %s", alerter.oldest)
	}
	if !repo.cutoff.Equal(now.Add(-10 * time.Minute)) {
		t.Errorf("cutoff = %s", repo.cutoff)
	}
}

func TestEscalationWorker_QuietWhenNothingPending(t *testing.T) {
	alerter := &fakeAlerter{}
	logger := zerolog.Nop()
	w := NewEscalationWorker(&fakeAttempts{}, alerter, 0, 0, &logger)
	if n, err := w.Tick(context.Background()); err != nil || n != 0 {
		t.Fatalf("Tick = %d, %v", n, err)
	}
	if alerter.calls != 0 {
		t.Error("alert sent with nothing to report")
	}
}

func TestEscalationWorker_ListError(t *testing.T) {
	logger := zerolog.Nop()
	boom := errors.New("db unavailable")
	w := NewEscalationWorker(&fakeAttempts{err: boom}, &fakeAlerter{}, 0, 0, &logger)
	if _, err := w.Tick(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

type countingSweeper struct {
	mu    sync.Mutex
	calls int
	ttl   time.Duration
}

func (s *countingSweeper) Sweep(_ context.Context, olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.ttl = olderThan
	return 1
}

func (s *countingSweeper) snapshot() (int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.ttl
}

func TestSessionJanitor_SweepsUntilCancelled(t *testing.T) {
	sw := &countingSweeper{}
	logger := zerolog.Nop()
	j := NewSessionJanitor(sw, 5*time.Millisecond, time.Hour, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if calls, _ := sw.snapshot(); calls >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("janitor never swept")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
	if _, ttl := sw.snapshot(); ttl != time.Hour {
		t.Errorf("ttl = %s", ttl)
	}
}
