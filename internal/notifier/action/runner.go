package action

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/simplesurance/chatnotifier/internal/event"
)

// ErrSkipped is returned by ActionConfig.Render when the action has nothing
// to do for an event.
var ErrSkipped = errors.New("action skipped")

// Event is the event an action is rendered for.
type Event interface {
	GetDeliveryID() string
	// GetPayload returns the decoded event.
	GetPayload() event.Event
	// GetJSON returns the raw webhook payload.
	GetJSON() []byte
}

type Runner interface {
	Run(ctx context.Context) error
	String() string
	LogFields() []zap.Field
}
