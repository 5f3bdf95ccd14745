package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu      sync.Mutex
	pending []prometheus.Collector
	once    sync.Once
)

// register queues collectors from each file's init.
func register(cs ...prometheus.Collector) {
	mu.Lock()
	pending = append(pending, cs...)
	mu.Unlock()
}

// RegisterWith registers every queued collector on reg.
func RegisterWith(reg prometheus.Registerer) error {
	mu.Lock()
	cs := append([]prometheus.Collector(nil), pending...)
	mu.Unlock()
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister registers on the default registry; later calls are no-ops.
func MustRegister() {
	once.Do(func() {
		if err := RegisterWith(prometheus.DefaultRegisterer); err != nil {
			panic(err)
		}
	})
}

// norm keeps label values lowercase so callers cannot split series by case.
func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
