package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"hedge/core/types"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry counting emitted market events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hedge",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of market events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Record increments the counter for the event type.
func (m *eventMetrics) Record(evt *types.Event) {
	if m == nil || evt == nil {
		return
	}
	kind := strings.TrimSpace(evt.Type)
	if kind == "" {
		kind = "unknown"
	}
	m.emitted.WithLabelValues(kind).Inc()
}
