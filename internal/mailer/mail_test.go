package mailer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/chatnotifier/internal/event"
)

const pushPayload = `{
  "object_kind": "push",
  "before": "95790bf891e76fee5e1747ab589903a6a1f80f22",
  "after": "da1560886d4f094c3e6c9ef40349f7d38b5d27d7",
  "ref": "refs/heads/main",
  "checkout_sha": "da1560886d4f094c3e6c9ef40349f7d38b5d27d7",
  "user_name": "John Smith",
  "user_username": "jsmith",
  "project_id": 15,
  "project": {
    "id": 15,
    "name": "Diaspora",
    "path_with_namespace": "mike/diaspora",
    "web_url": "http://example.com/mike/diaspora"
  },
  "commits": [
    {
      "id": "b6568db1bc1dcd7f8b4d5a946b0b91f9dacd7327",
      "message": "Update Catalan translation to e38cb41.\n\nSee merge request !1",
      "url": "http://example.com/mike/diaspora/commit/b6568db1bc1dcd7f8b4d5a946b0b91f9dacd7327",
      "author": {"name": "Jordi Mallach", "email": "jordi@softcatala.org"}
    },
    {
      "id": "da1560886d4f094c3e6c9ef40349f7d38b5d27d7",
      "message": "fixed readme",
      "url": "http://example.com/mike/diaspora/commit/da1560886d4f094c3e6c9ef40349f7d38b5d27d7",
      "author": {"name": "GitLab dev user", "email": "gitlabdev@dv6700.(none)"}
    }
  ],
  "total_commits_count": 2
}`

func newPush() *event.Push {
	return &event.Push{
		Meta: event.Meta{
			Actor:   event.Actor{Username: "jsmith"},
			Project: event.Project{Name: "Diaspora", Path: "mike/diaspora", URL: "http://example.com/mike/diaspora"},
		},
		Ref:    "refs/heads/main",
		Branch: "main",
		Before: "95790bf891e76fee5e1747ab589903a6a1f80f22",
		After:  "da1560886d4f094c3e6c9ef40349f7d38b5d27d7",
		Commits: []event.Commit{
			{ID: "da1560886d4f094c3e6c9ef40349f7d38b5d27d7", Message: "fixed readme\n\nlong text"},
		},
		TotalCommits: 1,
	}
}

func TestPushSubject(t *testing.T) {
	push := newPush()
	assert.Equal(t, "[Git][mike/diaspora][main] fixed readme", pushSubject(push))

	push.Commits = append(push.Commits, event.Commit{ID: "b6568db1", Message: "second"})
	push.TotalCommits = 5
	assert.Equal(t, "[Git][mike/diaspora][main] 5 commits: fixed readme", pushSubject(push))

	push.Project.Path = ""
	assert.Equal(t, "[Git][Diaspora][main] 5 commits: fixed readme", pushSubject(push))
}

func TestPushSubjectWithoutCommits(t *testing.T) {
	push := newPush()
	push.Commits = nil
	push.TotalCommits = 0

	push.Before = event.BlankSHA
	assert.Equal(t, "[Git][mike/diaspora][main] Pushed new branch", pushSubject(push))

	push.Before = "95790bf891e76fee5e1747ab589903a6a1f80f22"
	push.After = event.BlankSHA
	assert.Equal(t, "[Git][mike/diaspora][main] Deleted branch", pushSubject(push))
}

func TestRenderPushMail(t *testing.T) {
	date := time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC)

	mail, err := renderPushMail("git@example.com", []string{"a@example.com", "b@example.com"}, []byte(pushPayload), date)
	require.NoError(t, err)

	assert.Equal(t, "git@example.com", mail.From)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, mail.To)
	assert.Equal(t, "[Git][mike/diaspora][main] 2 commits: Update Catalan translation to e38cb41.", mail.Subject)

	assert.True(t, strings.HasPrefix(mail.Body, "jsmith pushed to main at mike/diaspora\n"), mail.Body)
	assert.Contains(t, mail.Body, "b6568db1 by Jordi Mallach\n")
	assert.Contains(t, mail.Body, "http://example.com/mike/diaspora/commit/b6568db1bc1dcd7f8b4d5a946b0b91f9dacd7327\n")
	assert.Contains(t, mail.Body, "    See merge request !1\n")
	assert.Contains(t, mail.Body, "da156088 by GitLab dev user\n")
	assert.Contains(t, mail.Body, "Compare: http://example.com/mike/diaspora/compare/95790bf8...da156088\n")
}

func TestRenderPushMailRejectsOtherEvents(t *testing.T) {
	_, err := renderPushMail("git@example.com", []string{"a@example.com"}, []byte(`{"object_kind": "tag_push"}`), time.Now())
	require.Error(t, err)

	_, err = renderPushMail("git@example.com", []string{"a@example.com"}, []byte(`{`), time.Now())
	require.Error(t, err)
}

func TestMailBytes(t *testing.T) {
	mail := Mail{
		From:    "git@example.com",
		To:      []string{"a@example.com", "b@example.com"},
		Subject: "[Git][über][main] fix",
		Body:    "line1\nline2\n",
		Date:    time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC),
	}

	msg := string(mail.Bytes())

	assert.Contains(t, msg, "From: git@example.com\r\n")
	assert.Contains(t, msg, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, msg, "Subject: =?utf-8?q?")
	assert.Contains(t, msg, "Date: Fri, 04 Mar 2022 05:06:07 +0000\r\n")
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\nline1\r\nline2\r\n"), msg)
}
