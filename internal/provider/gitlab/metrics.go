package gitlab

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "chatnotifier_gitlab"

type resultLabelVal string

const (
	resultForwarded    resultLabelVal = "forwarded"
	resultIgnored      resultLabelVal = "ignored"
	resultInvalid      resultLabelVal = "invalid"
	resultUnauthorized resultLabelVal = "unauthorized"
	resultDropped      resultLabelVal = "dropped"
)

var webhookRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "webhook_requests_total",
		Help:      "count of received gitlab webhook requests by processing result",
	},
	[]string{"object_kind", "result"},
)

// kindUnsupportedLabelVal is recorded as object_kind for events that are
// not supported, the kind in the payload is not used as label value.
const kindUnsupportedLabelVal = "unsupported"

func recordRequest(kind string, result resultLabelVal) {
	webhookRequests.WithLabelValues(kind, string(result)).Inc()
}
