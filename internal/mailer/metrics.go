package mailer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "chatnotifier"

var mailsMetric = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricNamespace,
		Subsystem: "mailer",
		Name:      "mails_total",
		Help:      "number of mail delivery attempts by result",
	},
	[]string{"result"},
)

var drainDurationMetric = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: metricNamespace,
		Subsystem: "mailer",
		Name:      "drain_duration_seconds",
		Help:      "duration of mail queue drains",
	},
)

const (
	resultSent   = "sent"
	resultRetry  = "retry"
	resultFailed = "failed"
)

func mailsInc(result string) {
	mailsMetric.WithLabelValues(result).Inc()
}
