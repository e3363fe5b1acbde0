package chatmsg

import (
	"fmt"
	"strings"

	"github.com/simplesurance/chatnotifier/internal/event"
)

func humanizedStatus(status string) string {
	switch status {
	case "success":
		return "passed"
	case "failed":
		return "failed"
	case "canceled":
		return "canceled"
	default:
		return status
	}
}

func pluralSeconds(n int64) string {
	if n == 1 {
		return "second"
	}

	return "seconds"
}

func (f Formatter) pipeline(ev *event.Pipeline) (*Message, error) {
	err := requireFields(
		ev.Kind(),
		append(
			metaFields(&ev.Meta),
			num("object_attributes.id", ev.ID),
			str("object_attributes.status", ev.Status),
			str("object_attributes.ref", ev.Ref),
			str("object_attributes.url", ev.URL),
		)...,
	)
	if err != nil {
		return nil, err
	}

	refType := "branch"
	refURL := ev.Project.URL + "/commits/" + ev.Ref
	if ev.Tag {
		refType = "tag"
		refURL = ev.Project.URL + "/tags/" + ev.Ref
	}

	msg := Message{
		Pretext: fmt.Sprintf(
			"%s: Pipeline %s of %s %s by %s %s in %d %s",
			f.projectLink(&ev.Project),
			f.dialect.link(ev.URL, fmt.Sprintf("#%d", ev.ID)),
			refType,
			f.dialect.link(refURL, ev.Ref),
			ev.Actor.String(),
			humanizedStatus(ev.Status),
			ev.Duration,
			pluralSeconds(ev.Duration),
		),
		Attachments: noAttachments(),
	}

	if ev.Status == "failed" && len(ev.FailedStages) > 0 {
		msg.Attachments = append(msg.Attachments, Attachment{
			Text:  "Failed stages: " + strings.Join(ev.FailedStages, ", "),
			Color: PipelineColor,
		})
	}

	return &msg, nil
}
