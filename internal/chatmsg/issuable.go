package chatmsg

import (
	"fmt"

	"github.com/simplesurance/chatnotifier/internal/event"
)

var actionVerbs = map[event.Action]string{
	event.ActionOpen:     "opened",
	event.ActionClose:    "closed",
	event.ActionReopen:   "reopened",
	event.ActionUpdate:   "updated",
	event.ActionMerge:    "merged",
	event.ActionApproved: "approved",
}

func verb(a event.Action) string {
	if v, exists := actionVerbs[a]; exists {
		return v
	}

	return string(a)
}

func (f Formatter) projectLink(p *event.Project) string {
	return f.dialect.link(p.URL, p.Name)
}

// issuableMessage creates the message for issues and merge requests.
// Only open actions get an attachment, it carries the description.
func (f Formatter) issuableMessage(
	m *event.Meta,
	noun, ref, url, title string,
	action event.Action,
	description, color string,
) *Message {
	msg := Message{
		Pretext: fmt.Sprintf(
			"%s %s %s %s in %s: %s",
			m.Actor.String(),
			verb(action),
			noun,
			f.dialect.link(url, ref),
			f.projectLink(&m.Project),
			title,
		),
		Attachments: noAttachments(),
	}

	if action == event.ActionOpen {
		msg.Attachments = append(msg.Attachments, Attachment{
			Text:  description,
			Color: color,
		})
	}

	return &msg
}

func (f Formatter) issue(ev *event.Issue) (*Message, error) {
	err := requireFields(
		ev.Kind(),
		append(
			metaFields(&ev.Meta),
			num("object_attributes.iid", ev.IID),
			str("object_attributes.url", ev.URL),
			str("object_attributes.title", ev.Title),
			str("object_attributes.action", string(ev.Action)),
		)...,
	)
	if err != nil {
		return nil, err
	}

	return f.issuableMessage(
		&ev.Meta,
		"issue", fmt.Sprintf("#%d", ev.IID), ev.URL, ev.Title,
		ev.Action,
		ev.Description, IssueColor,
	), nil
}

func (f Formatter) mergeRequest(ev *event.MergeRequest) (*Message, error) {
	err := requireFields(
		ev.Kind(),
		append(
			metaFields(&ev.Meta),
			num("object_attributes.iid", ev.IID),
			str("object_attributes.url", ev.URL),
			str("object_attributes.title", ev.Title),
			str("object_attributes.action", string(ev.Action)),
		)...,
	)
	if err != nil {
		return nil, err
	}

	return f.issuableMessage(
		&ev.Meta,
		"merge request", fmt.Sprintf("!%d", ev.IID), ev.URL, ev.Title,
		ev.Action,
		ev.Description, MergeRequestColor,
	), nil
}
