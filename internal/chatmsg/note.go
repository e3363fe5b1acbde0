package chatmsg

import (
	"fmt"

	"github.com/simplesurance/chatnotifier/internal/event"
)

func noteTarget(ev *event.Note) (string, field) {
	switch ev.NoteableType {
	case event.NoteableCommit:
		return "commit " + event.ShortSHA(ev.Target.ID), str("commit.id", ev.Target.ID)
	case event.NoteableMergeRequest:
		return fmt.Sprintf("merge request !%d", ev.Target.IID), num("merge_request.iid", ev.Target.IID)
	case event.NoteableIssue:
		return fmt.Sprintf("issue #%d", ev.Target.IID), num("issue.iid", ev.Target.IID)
	case event.NoteableSnippet:
		return "snippet #" + ev.Target.ID, str("snippet.id", ev.Target.ID)
	default:
		return "", field{name: "object_attributes.noteable_type"}
	}
}

func (f Formatter) note(ev *event.Note) (*Message, error) {
	target, targetField := noteTarget(ev)

	err := requireFields(
		ev.Kind(),
		append(
			metaFields(&ev.Meta),
			str("object_attributes.url", ev.URL),
			targetField,
		)...,
	)
	if err != nil {
		return nil, err
	}

	pretext := fmt.Sprintf(
		"%s commented on %s in %s",
		ev.Actor.String(),
		f.dialect.link(ev.URL, target),
		f.projectLink(&ev.Project),
	)

	if ev.Target.Title != "" {
		pretext += ": " + f.dialect.bold(ev.Target.Title)
	}

	return &Message{
		Pretext: pretext,
		Attachments: []Attachment{{
			Text:  ev.Note,
			Color: NoteColor,
		}},
	}, nil
}
