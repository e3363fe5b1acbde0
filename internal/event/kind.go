package event

import (
	"fmt"
	"strings"
)

// Kind is the category of the GitLab activity an event describes.
// The values are the object_kind strings of GitLab webhook payloads.
type Kind string

const (
	KindPush         Kind = "push"
	KindTagPush      Kind = "tag_push"
	KindIssue        Kind = "issue"
	KindMergeRequest Kind = "merge_request"
	KindNote         Kind = "note"
	KindPipeline     Kind = "pipeline"
)

var kinds = []Kind{
	KindPush,
	KindTagPush,
	KindIssue,
	KindMergeRequest,
	KindNote,
	KindPipeline,
}

// Kinds returns all supported kinds.
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

// ParseKind returns the Kind for s.
// An UnsupportedKindError is returned when s is not a supported kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range kinds {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}

	return "", &UnsupportedKindError{Kind: s}
}

func (k Kind) String() string {
	return string(k)
}

// Action is the operation that triggered an issue or merge request event.
type Action string

const (
	ActionOpen     Action = "open"
	ActionClose    Action = "close"
	ActionReopen   Action = "reopen"
	ActionUpdate   Action = "update"
	ActionMerge    Action = "merge"
	ActionApproved Action = "approved"
)

// NoteableType is the type of object a note was added to.
type NoteableType string

const (
	NoteableCommit       NoteableType = "Commit"
	NoteableMergeRequest NoteableType = "MergeRequest"
	NoteableIssue        NoteableType = "Issue"
	NoteableSnippet      NoteableType = "Snippet"
)

func parseNoteableType(s string) (NoteableType, error) {
	switch t := NoteableType(s); t {
	case NoteableCommit, NoteableMergeRequest, NoteableIssue, NoteableSnippet:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported noteable type %q", s)
	}
}
