package chatmsg

import (
	"fmt"
	"strings"

	"github.com/simplesurance/chatnotifier/internal/event"
)

func (f Formatter) push(ev *event.Push) (*Message, error) {
	err := requireFields(
		ev.Kind(),
		append(
			metaFields(&ev.Meta),
			str("ref", ev.Ref),
			str("before", ev.Before),
			str("after", ev.After),
		)...,
	)
	if err != nil {
		return nil, err
	}

	actor := ev.Actor.String()
	project := f.projectLink(&ev.Project)
	branchLink := f.dialect.link(ev.Project.URL+"/commits/"+ev.Branch, ev.Branch)

	switch {
	case ev.IsNewBranch():
		return &Message{
			Pretext:     fmt.Sprintf("%s pushed new branch %s to %s", actor, branchLink, project),
			Attachments: noAttachments(),
		}, nil

	case ev.IsRemovedBranch():
		return &Message{
			Pretext:     fmt.Sprintf("%s removed branch %s from %s", actor, ev.Branch, project),
			Attachments: noAttachments(),
		}, nil
	}

	compareLink := f.dialect.link(
		fmt.Sprintf("%s/compare/%s...%s", ev.Project.URL, ev.Before, ev.After),
		"Compare changes",
	)

	msg := Message{
		Pretext: fmt.Sprintf(
			"%s pushed to branch %s of %s (%s)",
			actor, branchLink, project, compareLink,
		),
		Attachments: noAttachments(),
	}

	if len(ev.Commits) > 0 {
		msg.Attachments = append(msg.Attachments, Attachment{
			Text:  f.commitList(ev.Commits),
			Color: PushColor,
		})
	}

	return &msg, nil
}

func (f Formatter) commitList(commits []event.Commit) string {
	var sb strings.Builder

	for i := range commits {
		c := &commits[i]

		if i > 0 {
			sb.WriteByte('\n')
		}

		sb.WriteString(f.dialect.link(c.URL, c.ShortID()))
		sb.WriteString(": ")
		sb.WriteString(c.Title())

		if c.AuthorName != "" {
			sb.WriteString(" - ")
			sb.WriteString(c.AuthorName)
		}
	}

	return sb.String()
}

func (f Formatter) tagPush(ev *event.TagPush) (*Message, error) {
	err := requireFields(
		ev.Kind(),
		append(
			metaFields(&ev.Meta),
			str("ref", ev.Ref),
			str("after", ev.After),
		)...,
	)
	if err != nil {
		return nil, err
	}

	actor := ev.Actor.String()
	project := f.projectLink(&ev.Project)

	if ev.IsRemoved() {
		return &Message{
			Pretext:     fmt.Sprintf("%s removed tag %s from %s", actor, ev.Tag, project),
			Attachments: noAttachments(),
		}, nil
	}

	return &Message{
		Pretext: fmt.Sprintf(
			"%s pushed new tag %s to %s",
			actor,
			f.dialect.link(ev.Project.URL+"/tags/"+ev.Tag, ev.Tag),
			project,
		),
		Attachments: noAttachments(),
	}, nil
}
