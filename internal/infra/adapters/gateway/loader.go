package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"checkout-orchestrator/internal/infra/metrics"
)

// lazyLoader initializes a vendor handle once per process. Concurrent callers
// share one in-flight load. A failed load is not cached; a successful one is
// kept for the life of the process.
type lazyLoader[T any] struct {
	name    string
	timeout time.Duration
	load    func(ctx context.Context) (T, error)

	group singleflight.Group
	mu    sync.RWMutex
	val   T
	ok    bool
}

func newLazyLoader[T any](name string, timeout time.Duration, load func(ctx context.Context) (T, error)) *lazyLoader[T] {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &lazyLoader[T]{name: name, timeout: timeout, load: load}
}

func (l *lazyLoader[T]) cached() (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.val, l.ok
}

// get returns the loaded handle. The load itself runs detached from ctx so
// one caller giving up does not fail the others.
func (l *lazyLoader[T]) get(ctx context.Context) (T, error) {
	if v, ok := l.cached(); ok {
		return v, nil
	}
	ch := l.group.DoChan(l.name, func() (interface{}, error) {
		if v, ok := l.cached(); ok {
			return v, nil
		}
		lctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		v, err := l.load(lctx)
		if err != nil {
			metrics.IncGatewayLoad(l.name, "fail")
			return nil, err
		}
		l.mu.Lock()
		l.val, l.ok = v, true
		l.mu.Unlock()
		metrics.IncGatewayLoad(l.name, "ok")
		return v, nil
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
