package notifier

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/chatnotifier/internal/event"
	"github.com/simplesurance/chatnotifier/internal/provider/gitlab"
)

// Event is processed by the event-loop and used for templating actions.
// It's public fields are accessible via template statements defined in the
// chatnotifier config file.
type Event struct {
	JSON     []byte
	Provider string

	DeliveryID string
	Kind       string
	Actor      string
	Project    string
	ProjectID  int64
	ProjectURL string
	// Ref is the git reference of push, tag push and pipeline events, it
	// is empty for other events.
	Ref string
	// IID is the project scoped id of issue and merge request events, 0
	// for other events.
	IID int64

	Payload event.Event

	LogFields []zap.Field
}

func (e *Event) String() string {
	return fmt.Sprintf("%s/%s (deliveryID: %s)", e.Provider, e.Kind, e.DeliveryID)
}

func (e *Event) GetDeliveryID() string {
	return e.DeliveryID
}

func (e *Event) GetPayload() event.Event {
	return e.Payload
}

func (e *Event) GetJSON() []byte {
	return e.JSON
}

func fromProviderEvent(ev *gitlab.Event) *Event {
	meta := ev.Event.Source()

	result := Event{
		JSON:       ev.JSON,
		Provider:   "gitlab",
		DeliveryID: ev.DeliveryID,
		Kind:       string(ev.Event.Kind()),
		Actor:      meta.Actor.String(),
		Project:    meta.Project.Name,
		ProjectID:  meta.Project.ID,
		ProjectURL: meta.Project.URL,
		Payload:    ev.Event,
		LogFields:  ev.LogFields,
	}

	switch e := ev.Event.(type) {
	case *event.Push:
		result.Ref = e.Ref
	case *event.TagPush:
		result.Ref = e.Ref
	case *event.Pipeline:
		result.Ref = e.Ref
	case *event.Issue:
		result.IID = e.IID
	case *event.MergeRequest:
		result.IID = e.IID
	}

	return &result
}
