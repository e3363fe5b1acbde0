package notifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "chatnotifier"

const (
	kindLabel   = "object_kind"
	actionLabel = "action"
	resultLabel = "result"
)

type metricCollector struct {
	processedEvents *prometheus.CounterVec
	actionResults   *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		processedEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "processed_events_total",
				Help:      "count of events processed by the event loop",
			},
			[]string{kindLabel},
		),
		actionResults: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "action_results_total",
				Help:      "count of finished actions by result",
			},
			[]string{actionLabel, resultLabel},
		),
	}
}

func (m *metricCollector) ProcessedEventsInc(kind string) {
	m.processedEvents.WithLabelValues(kind).Inc()
}

func (m *metricCollector) ActionResultInc(action, result string) {
	m.actionResults.WithLabelValues(action, result).Inc()
}
