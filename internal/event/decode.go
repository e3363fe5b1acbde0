package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

type jsonUser struct {
	Name     *string `json:"name"`
	Username *string `json:"username"`
}

type jsonProject struct {
	ID                *int64  `json:"id"`
	Name              *string `json:"name"`
	PathWithNamespace *string `json:"path_with_namespace"`
	WebURL            *string `json:"web_url"`
	DefaultBranch     *string `json:"default_branch"`
}

type jsonCommit struct {
	ID      *string `json:"id"`
	Message *string `json:"message"`
	URL     *string `json:"url"`
	Author  *struct {
		Name *string `json:"name"`
	} `json:"author"`
}

type jsonPush struct {
	Before            *string      `json:"before"`
	After             *string      `json:"after"`
	Ref               *string      `json:"ref"`
	CheckoutSHA       *string      `json:"checkout_sha"`
	UserName          *string      `json:"user_name"`
	UserUsername      *string      `json:"user_username"`
	Project           *jsonProject `json:"project"`
	Commits           []jsonCommit `json:"commits"`
	TotalCommitsCount *int         `json:"total_commits_count"`
}

type jsonIssuable struct {
	ID           *int64  `json:"id"`
	IID          *int64  `json:"iid"`
	Title        *string `json:"title"`
	URL          *string `json:"url"`
	Description  *string `json:"description"`
	Action       *string `json:"action"`
	State        *string `json:"state"`
	SourceBranch *string `json:"source_branch"`
	TargetBranch *string `json:"target_branch"`
}

type jsonIssuableEvent struct {
	User             *jsonUser     `json:"user"`
	Project          *jsonProject  `json:"project"`
	ObjectAttributes *jsonIssuable `json:"object_attributes"`
}

type jsonNoteTarget struct {
	ID      json.RawMessage `json:"id"`
	IID     *int64          `json:"iid"`
	Title   *string         `json:"title"`
	Message *string         `json:"message"`
}

type jsonNoteEvent struct {
	User             *jsonUser    `json:"user"`
	Project          *jsonProject `json:"project"`
	ObjectAttributes *struct {
		Note         *string `json:"note"`
		NoteableType *string `json:"noteable_type"`
		URL          *string `json:"url"`
	} `json:"object_attributes"`
	Commit       *jsonNoteTarget `json:"commit"`
	MergeRequest *jsonNoteTarget `json:"merge_request"`
	Issue        *jsonNoteTarget `json:"issue"`
	Snippet      *jsonNoteTarget `json:"snippet"`
}

type jsonPipelineEvent struct {
	User             *jsonUser    `json:"user"`
	Project          *jsonProject `json:"project"`
	ObjectAttributes *struct {
		ID       *int64   `json:"id"`
		Ref      *string  `json:"ref"`
		Tag      *bool    `json:"tag"`
		SHA      *string  `json:"sha"`
		Status   *string  `json:"status"`
		Duration *int64   `json:"duration"`
		URL      *string  `json:"url"`
		Stages   []string `json:"stages"`
	} `json:"object_attributes"`
	Builds []jsonBuild `json:"builds"`
}

type jsonBuild struct {
	Stage  string `json:"stage"`
	Status string `json:"status"`
}

// Decode parses a GitLab webhook payload into an Event.
// The object_kind field of the payload selects the Event type.
//
// A *ValidationError is returned when the payload is not valid JSON or a
// required field is missing. An *UnsupportedKindError is returned when the
// object_kind is not supported.
func Decode(payload []byte) (Event, error) {
	var hdr struct {
		ObjectKind *string `json:"object_kind"`
	}

	if err := json.Unmarshal(payload, &hdr); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("malformed json: %s", err)}
	}

	if hdr.ObjectKind == nil || *hdr.ObjectKind == "" {
		return nil, &ValidationError{Field: "object_kind"}
	}

	kind, err := ParseKind(*hdr.ObjectKind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindPush:
		return decodePush(payload)
	case KindTagPush:
		return decodeTagPush(payload)
	case KindIssue:
		return decodeIssue(payload)
	case KindMergeRequest:
		return decodeMergeRequest(payload)
	case KindNote:
		return decodeNote(payload)
	case KindPipeline:
		return decodePipeline(payload)
	default:
		return nil, &UnsupportedKindError{Kind: string(kind)}
	}
}

// fields collects values of required fields. The first missing field is
// recorded in err, later lookups are no-ops.
type fields struct {
	kind Kind
	err  *ValidationError
}

func (f *fields) fail(field, reason string) {
	if f.err == nil {
		f.err = &ValidationError{Kind: f.kind, Field: field, Reason: reason}
	}
}

func (f *fields) present(field string, isSet bool) bool {
	if !isSet {
		f.fail(field, "")
	}

	return isSet
}

func (f *fields) str(field string, val *string) string {
	if val == nil || *val == "" {
		f.fail(field, "")
		return ""
	}

	return *val
}

func (f *fields) int(field string, val *int64) int64 {
	if val == nil {
		f.fail(field, "")
		return 0
	}

	return *val
}

func (f *fields) result() error {
	if f.err == nil {
		return nil
	}

	return f.err
}

func optStr(val *string) string {
	if val == nil {
		return ""
	}

	return *val
}

func optInt(val *int64) int64 {
	if val == nil {
		return 0
	}

	return *val
}

func unmarshal(kind Kind, payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return &ValidationError{Kind: kind, Reason: fmt.Sprintf("malformed json: %s", err)}
	}

	return nil
}

func (f *fields) project(p *jsonProject) Project {
	if !f.present("project", p != nil) {
		return Project{}
	}

	return Project{
		ID:            optInt(p.ID),
		Name:          f.str("project.name", p.Name),
		Path:          optStr(p.PathWithNamespace),
		URL:           strings.TrimSuffix(f.str("project.web_url", p.WebURL), "/"),
		DefaultBranch: optStr(p.DefaultBranch),
	}
}

func (f *fields) user(u *jsonUser) Actor {
	if !f.present("user", u != nil) {
		return Actor{}
	}

	actor := Actor{Name: optStr(u.Name), Username: optStr(u.Username)}
	if actor.String() == "" {
		f.fail("user.username", "")
	}

	return actor
}

func (f *fields) pushMeta(ev *jsonPush) Meta {
	actor := Actor{Name: optStr(ev.UserName), Username: optStr(ev.UserUsername)}
	if actor.String() == "" {
		f.fail("user_username", "")
	}

	return Meta{Actor: actor, Project: f.project(ev.Project)}
}

func decodePush(payload []byte) (Event, error) {
	var ev jsonPush

	if err := unmarshal(KindPush, payload, &ev); err != nil {
		return nil, err
	}

	f := fields{kind: KindPush}
	result := Push{
		Meta:        f.pushMeta(&ev),
		Ref:         f.str("ref", ev.Ref),
		Before:      f.str("before", ev.Before),
		After:       f.str("after", ev.After),
		CheckoutSHA: optStr(ev.CheckoutSHA),
	}
	result.Branch = strings.TrimPrefix(result.Ref, "refs/heads/")

	result.Commits = make([]Commit, 0, len(ev.Commits))
	for i, c := range ev.Commits {
		commit := Commit{
			ID:      f.str(fmt.Sprintf("commits.%d.id", i), c.ID),
			Message: optStr(c.Message),
			URL:     optStr(c.URL),
		}
		if c.Author != nil {
			commit.AuthorName = optStr(c.Author.Name)
		}

		result.Commits = append(result.Commits, commit)
	}

	if ev.TotalCommitsCount != nil {
		result.TotalCommits = *ev.TotalCommitsCount
	} else {
		result.TotalCommits = len(result.Commits)
	}

	if err := f.result(); err != nil {
		return nil, err
	}

	return &result, nil
}

func decodeTagPush(payload []byte) (Event, error) {
	var ev jsonPush

	if err := unmarshal(KindTagPush, payload, &ev); err != nil {
		return nil, err
	}

	f := fields{kind: KindTagPush}
	result := TagPush{
		Meta:   f.pushMeta(&ev),
		Ref:    f.str("ref", ev.Ref),
		Before: f.str("before", ev.Before),
		After:  f.str("after", ev.After),
	}
	result.Tag = strings.TrimPrefix(result.Ref, "refs/tags/")

	if err := f.result(); err != nil {
		return nil, err
	}

	return &result, nil
}

func decodeIssuable(kind Kind, payload []byte) (Meta, *jsonIssuable, *fields, error) {
	var ev jsonIssuableEvent

	if err := unmarshal(kind, payload, &ev); err != nil {
		return Meta{}, nil, nil, err
	}

	f := fields{kind: kind}
	meta := Meta{
		Actor:   f.user(ev.User),
		Project: f.project(ev.Project),
	}

	if !f.present("object_attributes", ev.ObjectAttributes != nil) {
		return Meta{}, nil, nil, f.result()
	}

	return meta, ev.ObjectAttributes, &f, nil
}

func decodeIssue(payload []byte) (Event, error) {
	meta, attrs, f, err := decodeIssuable(KindIssue, payload)
	if err != nil {
		return nil, err
	}

	result := Issue{
		Meta:        meta,
		ID:          optInt(attrs.ID),
		IID:         f.int("object_attributes.iid", attrs.IID),
		Title:       f.str("object_attributes.title", attrs.Title),
		URL:         f.str("object_attributes.url", attrs.URL),
		Description: optStr(attrs.Description),
		Action:      Action(f.str("object_attributes.action", attrs.Action)),
		State:       optStr(attrs.State),
	}

	if err := f.result(); err != nil {
		return nil, err
	}

	return &result, nil
}

func decodeMergeRequest(payload []byte) (Event, error) {
	meta, attrs, f, err := decodeIssuable(KindMergeRequest, payload)
	if err != nil {
		return nil, err
	}

	result := MergeRequest{
		Meta:         meta,
		ID:           optInt(attrs.ID),
		IID:          f.int("object_attributes.iid", attrs.IID),
		Title:        f.str("object_attributes.title", attrs.Title),
		URL:          f.str("object_attributes.url", attrs.URL),
		Description:  optStr(attrs.Description),
		Action:       Action(f.str("object_attributes.action", attrs.Action)),
		State:        optStr(attrs.State),
		SourceBranch: optStr(attrs.SourceBranch),
		TargetBranch: optStr(attrs.TargetBranch),
	}

	if err := f.result(); err != nil {
		return nil, err
	}

	return &result, nil
}

// rawID returns the string representation of a JSON number or string id.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return string(raw)
}

func decodeNote(payload []byte) (Event, error) {
	var ev jsonNoteEvent

	if err := unmarshal(KindNote, payload, &ev); err != nil {
		return nil, err
	}

	f := fields{kind: KindNote}
	result := Note{
		Meta: Meta{
			Actor:   f.user(ev.User),
			Project: f.project(ev.Project),
		},
	}

	attrs := ev.ObjectAttributes
	if !f.present("object_attributes", attrs != nil) {
		return nil, f.result()
	}

	result.Note = f.str("object_attributes.note", attrs.Note)
	result.URL = f.str("object_attributes.url", attrs.URL)

	noteableType := f.str("object_attributes.noteable_type", attrs.NoteableType)
	if f.err != nil {
		return nil, f.result()
	}

	nt, err := parseNoteableType(noteableType)
	if err != nil {
		f.fail("object_attributes.noteable_type", err.Error())
		return nil, f.result()
	}
	result.NoteableType = nt

	switch nt {
	case NoteableCommit:
		if f.present("commit", ev.Commit != nil) {
			result.Target.ID = rawID(ev.Commit.ID)
			if result.Target.ID == "" {
				f.fail("commit.id", "")
			}
			result.Target.Title = FirstLine(optStr(ev.Commit.Message))
		}

	case NoteableMergeRequest:
		if f.present("merge_request", ev.MergeRequest != nil) {
			result.Target.IID = f.int("merge_request.iid", ev.MergeRequest.IID)
			result.Target.Title = optStr(ev.MergeRequest.Title)
		}

	case NoteableIssue:
		if f.present("issue", ev.Issue != nil) {
			result.Target.IID = f.int("issue.iid", ev.Issue.IID)
			result.Target.Title = optStr(ev.Issue.Title)
		}

	case NoteableSnippet:
		if f.present("snippet", ev.Snippet != nil) {
			result.Target.ID = rawID(ev.Snippet.ID)
			if result.Target.ID == "" {
				f.fail("snippet.id", "")
			}
			result.Target.Title = optStr(ev.Snippet.Title)
		}
	}

	if err := f.result(); err != nil {
		return nil, err
	}

	return &result, nil
}

func decodePipeline(payload []byte) (Event, error) {
	var ev jsonPipelineEvent

	if err := unmarshal(KindPipeline, payload, &ev); err != nil {
		return nil, err
	}

	f := fields{kind: KindPipeline}
	result := Pipeline{
		Meta: Meta{
			Actor:   f.user(ev.User),
			Project: f.project(ev.Project),
		},
	}

	attrs := ev.ObjectAttributes
	if !f.present("object_attributes", attrs != nil) {
		return nil, f.result()
	}

	result.ID = f.int("object_attributes.id", attrs.ID)
	result.Status = f.str("object_attributes.status", attrs.Status)
	result.Ref = f.str("object_attributes.ref", attrs.Ref)
	result.SHA = optStr(attrs.SHA)
	result.Duration = optInt(attrs.Duration)
	result.URL = optStr(attrs.URL)
	if attrs.Tag != nil {
		result.Tag = *attrs.Tag
	}

	if err := f.result(); err != nil {
		return nil, err
	}

	if result.URL == "" {
		result.URL = fmt.Sprintf("%s/pipelines/%d", result.Project.URL, result.ID)
	}

	result.FailedStages = failedStages(attrs.Stages, ev.Builds)

	return &result, nil
}

// failedStages returns the stages that contain failed builds, in pipeline
// order. Stages missing in the stage list are appended in build order.
func failedStages(stages []string, builds []jsonBuild) []string {
	failed := map[string]struct{}{}
	var extra []string

	known := make(map[string]struct{}, len(stages))
	for _, s := range stages {
		known[s] = struct{}{}
	}

	for _, b := range builds {
		if b.Status != "failed" {
			continue
		}

		if _, exists := failed[b.Stage]; exists {
			continue
		}
		failed[b.Stage] = struct{}{}

		if _, exists := known[b.Stage]; !exists {
			extra = append(extra, b.Stage)
		}
	}

	var result []string
	for _, s := range stages {
		if _, exists := failed[s]; exists {
			result = append(result, s)
		}
	}

	return append(result, extra...)
}
