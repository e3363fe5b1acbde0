package gitlab

import (
	"go.uber.org/zap"

	"github.com/simplesurance/chatnotifier/internal/event"
)

// Event is a validated GitLab webhook delivery.
type Event struct {
	// DeliveryID is the unique id of the webhook delivery
	DeliveryID string
	// Type is the value of the X-Gitlab-Event header, e.g. "Push Hook".
	Type string
	// JSON is the raw webhook payload
	JSON []byte
	// Event is the decoded payload
	Event     event.Event
	LogFields []zap.Field
}
