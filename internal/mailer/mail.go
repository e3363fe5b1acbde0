package mailer

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/simplesurance/chatnotifier/internal/event"
	"github.com/simplesurance/chatnotifier/internal/stringutils"
)

// Mail is a plain-text mail.
type Mail struct {
	From    string
	To      []string
	Subject string
	Body    string
	Date    time.Time
}

// Bytes returns the mail in RFC 5322 format.
func (m *Mail) Bytes() []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", m.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", m.Date.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))

	return buf.Bytes()
}

// pushSubject returns the subject of a push notification mail:
//
//	[Git][group/project][main] Fix crash on start
//	[Git][group/project][main] 3 commits: Fix crash on start
func pushSubject(ev *event.Push) string {
	prefix := fmt.Sprintf("[Git][%s][%s]", projectName(&ev.Project), ev.Branch)

	switch {
	case ev.IsRemovedBranch():
		return prefix + " Deleted branch"
	case len(ev.Commits) == 0 && ev.IsNewBranch():
		return prefix + " Pushed new branch"
	case len(ev.Commits) == 0:
		return prefix + " No new commits"
	}

	commitCnt := ev.TotalCommits
	if commitCnt < len(ev.Commits) {
		commitCnt = len(ev.Commits)
	}

	if commitCnt == 1 {
		return prefix + " " + ev.Commits[0].Title()
	}

	return fmt.Sprintf("%s %d commits: %s", prefix, commitCnt, ev.Commits[0].Title())
}

func pushBody(ev *event.Push) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s pushed to %s at %s\n", ev.Actor, ev.Branch, projectName(&ev.Project))

	if ev.IsRemovedBranch() {
		sb.WriteString("\nThe branch was deleted.\n")
		return sb.String()
	}

	if len(ev.Commits) > 0 {
		sb.WriteString("\nCommits:\n")
		for i := range ev.Commits {
			c := &ev.Commits[i]

			fmt.Fprintf(&sb, "\n%s by %s\n", c.ShortID(), c.AuthorName)
			if c.URL != "" {
				fmt.Fprintf(&sb, "%s\n", c.URL)
			}
			fmt.Fprintf(&sb, "\n%s\n", stringutils.IndentString(strings.TrimRight(c.Message, "\n"), "    "))
		}

		if omitted := ev.TotalCommits - len(ev.Commits); omitted > 0 {
			fmt.Fprintf(&sb, "\n... and %d more commit(s)\n", omitted)
		}
	}

	if !ev.IsNewBranch() {
		fmt.Fprintf(&sb, "\nCompare: %s/compare/%s...%s\n",
			ev.Project.URL, event.ShortSHA(ev.Before), event.ShortSHA(ev.After),
		)
	}

	return sb.String()
}

func projectName(p *event.Project) string {
	if p.Path != "" {
		return p.Path
	}

	return p.Name
}

// renderPushMail creates the notification mail for a raw push webhook
// payload.
func renderPushMail(from string, to []string, payload []byte, date time.Time) (*Mail, error) {
	ev, err := event.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding payload failed: %w", err)
	}

	push, ok := ev.(*event.Push)
	if !ok {
		return nil, errors.New("payload is not a push event")
	}

	return &Mail{
		From:    from,
		To:      to,
		Subject: pushSubject(push),
		Body:    pushBody(push),
		Date:    date,
	}, nil
}
