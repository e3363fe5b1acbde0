// Package chatmsg formats chat notifications for GitLab events.
//
// Formatting is a pure function of the event: the same event always results
// in the same Message. This keeps the content of retried deliveries
// identical.
package chatmsg

import (
	"github.com/simplesurance/chatnotifier/internal/event"
)

// Attachment colors, they are fixed per event kind.
const (
	IssueColor        = "#345"
	MergeRequestColor = "#345"
	PushColor         = "#345"
	NoteColor         = "#345"
	PipelineColor     = "#d22852"
)

// Attachment is a body block rendered below the pretext by the chat client.
type Attachment struct {
	Text  string `json:"text"`
	Color string `json:"color"`
}

// Message is the chat notification for an event.
type Message struct {
	// Pretext is the single line summary of the event.
	Pretext     string       `json:"pretext"`
	Attachments []Attachment `json:"attachments"`
}

// Formatter creates messages using the markup of a chat system.
type Formatter struct {
	dialect dialect
}

var (
	// Slack formats messages for Slack incoming webhooks.
	Slack = Formatter{dialect: slackDialect{}}
	// Mattermost formats messages for Mattermost incoming webhooks.
	Mattermost = Formatter{dialect: markdownDialect{}}
)

// FormatterFor returns the Formatter for the chat system with the given
// name, supported are "slack" and "mattermost". An empty name selects Slack.
func FormatterFor(name string) (Formatter, bool) {
	switch name {
	case "", "slack":
		return Slack, true
	case "mattermost":
		return Mattermost, true
	default:
		return Formatter{}, false
	}
}

// Format creates a Slack notification for ev.
func Format(ev event.Event) (*Message, error) {
	return Slack.Format(ev)
}

// Format creates the notification for ev.
// An *event.ValidationError is returned when a field required for the
// message is missing, an *event.UnsupportedKindError when the event type is
// not supported. No partial message is returned on errors.
func (f Formatter) Format(ev event.Event) (*Message, error) {
	if ev == nil {
		return nil, &event.ValidationError{Reason: "event is nil"}
	}

	switch e := ev.(type) {
	case *event.Issue:
		if e == nil {
			break
		}
		return f.issue(e)

	case *event.MergeRequest:
		if e == nil {
			break
		}
		return f.mergeRequest(e)

	case *event.Push:
		if e == nil {
			break
		}
		return f.push(e)

	case *event.TagPush:
		if e == nil {
			break
		}
		return f.tagPush(e)

	case *event.Note:
		if e == nil {
			break
		}
		return f.note(e)

	case *event.Pipeline:
		if e == nil {
			break
		}
		return f.pipeline(e)

	default:
		return nil, &event.UnsupportedKindError{Kind: string(ev.Kind())}
	}

	return nil, &event.ValidationError{Kind: ev.Kind(), Reason: "event is nil"}
}

func noAttachments() []Attachment {
	return []Attachment{}
}

// FormatPayload decodes a GitLab webhook payload and formats it with f.
func (f Formatter) FormatPayload(payload []byte) (*Message, error) {
	ev, err := event.Decode(payload)
	if err != nil {
		return nil, err
	}

	return f.Format(ev)
}
