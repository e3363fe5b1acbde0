// Package event defines the GitLab events that notifications are created
// for.
//
// Events are decoded and validated once, when a webhook payload is received.
// Code that consumes an Event can rely on all required fields being set.
package event

import "strings"

// BlankSHA is the commit id GitLab reports as before or after value when a
// ref is created or deleted.
const BlankSHA = "0000000000000000000000000000000000000000"

// Event is one of *Push, *TagPush, *Issue, *MergeRequest, *Note or *Pipeline.
type Event interface {
	Kind() Kind
	Source() *Meta
	isEvent()
}

// Actor is the user that caused the event.
type Actor struct {
	Name     string
	Username string
}

// String returns the display name of the actor.
func (a Actor) String() string {
	if a.Username != "" {
		return a.Username
	}

	return a.Name
}

type Project struct {
	ID            int64
	Name          string
	Path          string
	URL           string
	DefaultBranch string
}

// Meta contains the fields shared by all events.
type Meta struct {
	Actor   Actor
	Project Project
}

func (m *Meta) Source() *Meta {
	return m
}

type Commit struct {
	ID         string
	Message    string
	URL        string
	AuthorName string
}

// ShortID returns the abbreviated commit id.
func (c *Commit) ShortID() string {
	return ShortSHA(c.ID)
}

// Title returns the first line of the commit message.
func (c *Commit) Title() string {
	return FirstLine(c.Message)
}

type Push struct {
	Meta
	Ref          string
	Branch       string
	Before       string
	After        string
	CheckoutSHA  string
	Commits      []Commit
	TotalCommits int
}

func (*Push) Kind() Kind { return KindPush }
func (*Push) isEvent()   {}

// IsNewBranch returns true if the push created the branch.
func (p *Push) IsNewBranch() bool {
	return p.Before == BlankSHA
}

// IsRemovedBranch returns true if the push deleted the branch.
func (p *Push) IsRemovedBranch() bool {
	return p.After == BlankSHA
}

type TagPush struct {
	Meta
	Ref    string
	Tag    string
	Before string
	After  string
}

func (*TagPush) Kind() Kind { return KindTagPush }
func (*TagPush) isEvent()   {}

// IsRemoved returns true if the push deleted the tag.
func (t *TagPush) IsRemoved() bool {
	return t.After == BlankSHA
}

type Issue struct {
	Meta
	ID          int64
	IID         int64
	Title       string
	URL         string
	Description string
	Action      Action
	State       string
}

func (*Issue) Kind() Kind { return KindIssue }
func (*Issue) isEvent()   {}

type MergeRequest struct {
	Meta
	ID           int64
	IID          int64
	Title        string
	URL          string
	Description  string
	Action       Action
	State        string
	SourceBranch string
	TargetBranch string
}

func (*MergeRequest) Kind() Kind { return KindMergeRequest }
func (*MergeRequest) isEvent()   {}

// NoteTarget identifies the object a note was added to. Depending on the
// NoteableType either ID (commits, snippets) or IID (issues, merge requests)
// is set.
type NoteTarget struct {
	ID    string
	IID   int64
	Title string
}

type Note struct {
	Meta
	NoteableType NoteableType
	Note         string
	URL          string
	Target       NoteTarget
}

func (*Note) Kind() Kind { return KindNote }
func (*Note) isEvent()   {}

type Pipeline struct {
	Meta
	ID     int64
	Status string
	Ref    string
	Tag    bool
	SHA    string
	// Duration is the runtime of the pipeline in seconds.
	Duration     int64
	URL          string
	FailedStages []string
}

func (*Pipeline) Kind() Kind { return KindPipeline }
func (*Pipeline) isEvent()   {}

// ShortSHA returns the first 8 characters of a commit id.
func ShortSHA(sha string) string {
	if len(sha) <= 8 {
		return sha
	}

	return sha[:8]
}

// FirstLine returns s up to the first line break.
func FirstLine(s string) string {
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		return s[:idx]
	}

	return s
}
