package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/chatnotifier/internal/event"
	"github.com/simplesurance/chatnotifier/internal/notiferr"
	"github.com/simplesurance/chatnotifier/internal/notifier/action"
)

type testEvent struct {
	ev event.Event
}

func (e *testEvent) GetDeliveryID() string   { return "1" }
func (e *testEvent) GetPayload() event.Event { return e.ev }
func (e *testEvent) GetJSON() []byte         { return []byte("{}") }

func identity(s string) (string, error) {
	return s, nil
}

func newPipeline(status, ref string) *event.Pipeline {
	return &event.Pipeline{
		Meta: event.Meta{
			Actor: event.Actor{Username: "root"},
			Project: event.Project{
				Name:          "gitlab-test",
				URL:           "http://gl/gitlab-test",
				DefaultBranch: "main",
			},
		},
		ID:           31,
		Status:       status,
		Ref:          ref,
		Duration:     63,
		URL:          "http://gl/gitlab-test/pipelines/31",
		FailedStages: []string{"test"},
	}
}

func newIssue() *event.Issue {
	return &event.Issue{
		Meta: event.Meta{
			Actor:   event.Actor{Username: "username"},
			Project: event.Project{Name: "project_name", URL: "somewhere.com"},
		},
		ID:          10,
		IID:         100,
		Title:       "Issue title",
		URL:         "url",
		Description: "issue description",
		Action:      event.ActionOpen,
		State:       "opened",
	}
}

func newConfig(t *testing.T, m map[string]any) *Config {
	t.Helper()

	if _, exist := m["webhook_url"]; !exist {
		m["webhook_url"] = "http://localhost"
	}

	cfg, err := NewConfigFromMap(m)
	require.NoError(t, err)

	return cfg
}

func TestNewConfigFromMapRequiresWebhookURL(t *testing.T) {
	_, err := NewConfigFromMap(map[string]any{"channel": "#dev"})
	require.Error(t, err)
}

func TestNewConfigFromMapRejectsUnknownDialect(t *testing.T) {
	_, err := NewConfigFromMap(map[string]any{
		"webhook_url": "http://localhost",
		"dialect":     "irc",
	})
	require.Error(t, err)
}

func TestNewConfigFromMapRejectsNegativeRateLimit(t *testing.T) {
	_, err := NewConfigFromMap(map[string]any{
		"webhook_url": "http://localhost",
		"rate_limit":  -1.0,
	})
	require.Error(t, err)
}

func TestRunPostsMessage(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	received := make(chan slack.WebhookMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg slack.WebhookMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- msg
	}))
	t.Cleanup(srv.Close)

	cfg := newConfig(t, map[string]any{
		"webhook_url": srv.URL,
		"channel":     "#dev",
		"username":    "gitlab",
	})

	runner, err := cfg.Render(&testEvent{ev: newIssue()}, identity)
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background()))

	msg := <-received
	assert.Equal(t, "#dev", msg.Channel)
	assert.Equal(t, "gitlab", msg.Username)
	assert.Equal(t, "username opened issue <url|#100> in <somewhere.com|project_name>: Issue title", msg.Text)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "issue description", msg.Attachments[0].Text)
	assert.Equal(t, "#345", msg.Attachments[0].Color)
}

func TestRunEscapesSlackControlCharacters(t *testing.T) {
	received := make(chan slack.WebhookMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg slack.WebhookMessage
		_ = json.NewDecoder(r.Body).Decode(&msg)
		received <- msg
	}))
	t.Cleanup(srv.Close)

	issue := newIssue()
	issue.Title = "Fix A & B"
	issue.Description = "if a < b && c > d"
	issue.Project.Name = "R&D"

	cfg := newConfig(t, map[string]any{"webhook_url": srv.URL})
	runner, err := cfg.Render(&testEvent{ev: issue}, identity)
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background()))

	msg := <-received
	assert.Equal(t, "username opened issue <url|#100> in <somewhere.com|R&amp;D>: Fix A &amp; B", msg.Text)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "if a &lt; b &amp;&amp; c &gt; d", msg.Attachments[0].Text)
	assert.Equal(t, "if a &lt; b &amp;&amp; c &gt; d", msg.Attachments[0].Fallback)
}

func TestRunMattermostDialectKeepsText(t *testing.T) {
	received := make(chan slack.WebhookMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg slack.WebhookMessage
		_ = json.NewDecoder(r.Body).Decode(&msg)
		received <- msg
	}))
	t.Cleanup(srv.Close)

	issue := newIssue()
	issue.Title = "Fix A & B"
	issue.Description = "if a < b && c > d"

	cfg := newConfig(t, map[string]any{"webhook_url": srv.URL, "dialect": "mattermost"})
	runner, err := cfg.Render(&testEvent{ev: issue}, identity)
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background()))

	msg := <-received
	assert.Equal(t, "username opened issue [#100](url) in [project_name](somewhere.com): Fix A & B", msg.Text)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "if a < b && c > d", msg.Attachments[0].Text)
}

func TestEscapePretext(t *testing.T) {
	tcs := []struct {
		in       string
		expected string
	}{
		{"", ""},
		{"plain", "plain"},
		{"a < b", "a &lt; b"},
		{"<http://x/?a=1&b=2|a & b>", "<http://x/?a=1&b=2|a &amp; b>"},
		{"x <u|1> & <v|2> >", "x <u|1> &amp; <v|2> &gt;"},
		{"<not a link>", "&lt;not a link&gt;"},
	}

	for _, tc := range tcs {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.expected, escapePretext(tc.in))
		})
	}
}

func TestRunMattermostDialect(t *testing.T) {
	received := make(chan slack.WebhookMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg slack.WebhookMessage
		_ = json.NewDecoder(r.Body).Decode(&msg)
		received <- msg
	}))
	t.Cleanup(srv.Close)

	cfg := newConfig(t, map[string]any{
		"webhook_url": srv.URL,
		"dialect":     "Mattermost",
	})

	runner, err := cfg.Render(&testEvent{ev: newIssue()}, identity)
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background()))

	msg := <-received
	assert.Equal(t, "username opened issue [#100](url) in [project_name](somewhere.com): Issue title", msg.Text)
}

func TestRunRateLimitedIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	cfg := newConfig(t, map[string]any{"webhook_url": srv.URL})
	runner, err := cfg.Render(&testEvent{ev: newIssue()}, identity)
	require.NoError(t, err)

	start := time.Now()
	err = runner.Run(context.Background())

	var retryErr *notiferr.RetryableError
	require.ErrorAs(t, err, &retryErr)
	assert.WithinDuration(t, start.Add(30*time.Second), retryErr.After, 5*time.Second)
}

func TestRunServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	cfg := newConfig(t, map[string]any{"webhook_url": srv.URL})
	runner, err := cfg.Render(&testEvent{ev: newIssue()}, identity)
	require.NoError(t, err)

	var retryErr *notiferr.RetryableError
	require.ErrorAs(t, runner.Run(context.Background()), &retryErr)
}

func TestRunClientErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	cfg := newConfig(t, map[string]any{"webhook_url": srv.URL})
	runner, err := cfg.Render(&testEvent{ev: newIssue()}, identity)
	require.NoError(t, err)

	err = runner.Run(context.Background())
	require.Error(t, err)

	var retryErr *notiferr.RetryableError
	assert.False(t, errors.As(err, &retryErr))

	var statusErr slack.StatusCodeError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestRenderPipelineFilter(t *testing.T) {
	testcases := []struct {
		name       string
		cfg        map[string]any
		status     string
		ref        string
		expectSkip bool
	}{
		{name: "failed", status: "failed", ref: "main"},
		{name: "success", status: "success", ref: "main"},
		{name: "running", status: "running", ref: "main", expectSkip: true},
		{
			name:       "only broken, success",
			cfg:        map[string]any{"notify_only_broken_pipelines": true},
			status:     "success",
			ref:        "main",
			expectSkip: true,
		},
		{
			name:   "only broken, failed",
			cfg:    map[string]any{"notify_only_broken_pipelines": true},
			status: "failed",
			ref:    "main",
		},
		{
			name:       "only default branch, other branch",
			cfg:        map[string]any{"notify_only_default_branch": true},
			status:     "failed",
			ref:        "feature",
			expectSkip: true,
		},
		{
			name:   "only default branch, configured default",
			cfg:    map[string]any{"notify_only_default_branch": true, "default_branch": "feature"},
			status: "failed",
			ref:    "feature",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			m := map[string]any{}
			for k, v := range tc.cfg {
				m[k] = v
			}

			cfg := newConfig(t, m)
			runner, err := cfg.Render(&testEvent{ev: newPipeline(tc.status, tc.ref)}, identity)
			if tc.expectSkip {
				assert.ErrorIs(t, err, action.ErrSkipped)
				assert.Nil(t, runner)
				return
			}

			require.NoError(t, err)
			assert.NotNil(t, runner)
		})
	}
}

func TestRenderPushOnlyDefaultBranch(t *testing.T) {
	push := &event.Push{
		Meta: event.Meta{
			Actor:   event.Actor{Username: "john"},
			Project: event.Project{Name: "proj", URL: "http://gl/proj", DefaultBranch: "main"},
		},
		Ref:          "refs/heads/feature",
		Branch:       "feature",
		Before:       "1111111111111111111111111111111111111111",
		After:        "2222222222222222222222222222222222222222",
		TotalCommits: 0,
	}

	cfg := newConfig(t, map[string]any{"notify_only_default_branch": true})

	_, err := cfg.Render(&testEvent{ev: push}, identity)
	assert.ErrorIs(t, err, action.ErrSkipped)

	push.Branch = "main"
	push.Ref = "refs/heads/main"
	_, err = cfg.Render(&testEvent{ev: push}, identity)
	assert.NoError(t, err)
}

func TestRenderReturnsValidationError(t *testing.T) {
	issue := newIssue()
	issue.IID = 0

	cfg := newConfig(t, map[string]any{})
	_, err := cfg.Render(&testEvent{ev: issue}, identity)

	var validationErr *event.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestDetailedStringMasksWebhookURL(t *testing.T) {
	cfg := newConfig(t, map[string]any{"webhook_url": "https://hooks.slack.com/services/secret"})
	assert.NotContains(t, cfg.DetailedString(), "secret")
}
