package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once
	pending      []prometheus.Collector
)

// register queues collectors from each file's init.
func register(cs ...prometheus.Collector) {
	pending = append(pending, cs...)
}

// MustRegister hands every queued collector to the default registry. Safe to
// call more than once.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(pending...)
	})
}

// norm lowercases label values so callers can pass enum names as-is.
func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
