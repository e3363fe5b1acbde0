// Package slack implements an action that posts chat notifications to
// Slack-compatible incoming webhooks.
package slack

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/simplesurance/chatnotifier/internal/chatmsg"
	"github.com/simplesurance/chatnotifier/internal/event"
	"github.com/simplesurance/chatnotifier/internal/maputils"
	"github.com/simplesurance/chatnotifier/internal/notifier/action"
)

const loggerName = "action.slack"

const dialectSlack = "slack"

// DefRateLimit is the default number of messages per second that are posted
// to a webhook.
const DefRateLimit = 1.0

// Config is the configuration of a slack action.
type Config struct {
	webhookURL                string
	channel                   string
	username                  string
	iconEmoji                 string
	dialect                   string
	formatter                 chatmsg.Formatter
	notifyOnlyBrokenPipelines bool
	notifyOnlyDefaultBranch   bool
	defaultBranch             string

	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewConfigFromMap instantiates a config from a configuration map.
func NewConfigFromMap(m map[string]any) (*Config, error) {
	var err error
	var result Config

	result.webhookURL, err = maputils.StrVal(m, "webhook_url")
	if err != nil {
		return nil, err
	}
	if result.webhookURL == "" {
		return nil, errors.New("webhook_url must be set")
	}

	if result.channel, err = maputils.StrVal(m, "channel"); err != nil {
		return nil, err
	}

	if result.username, err = maputils.StrVal(m, "username"); err != nil {
		return nil, err
	}

	if result.iconEmoji, err = maputils.StrVal(m, "icon_emoji"); err != nil {
		return nil, err
	}

	if result.dialect, err = maputils.StrVal(m, "dialect"); err != nil {
		return nil, err
	}

	result.dialect = strings.ToLower(result.dialect)
	if result.dialect == "" {
		result.dialect = dialectSlack
	}

	var ok bool
	result.formatter, ok = chatmsg.FormatterFor(result.dialect)
	if !ok {
		return nil, fmt.Errorf("unsupported dialect: %q", result.dialect)
	}

	if result.notifyOnlyBrokenPipelines, err = maputils.BoolVal(m, "notify_only_broken_pipelines"); err != nil {
		return nil, err
	}

	if result.notifyOnlyDefaultBranch, err = maputils.BoolVal(m, "notify_only_default_branch"); err != nil {
		return nil, err
	}

	if result.defaultBranch, err = maputils.StrVal(m, "default_branch"); err != nil {
		return nil, err
	}

	rateLimit, err := maputils.FloatVal(m, "rate_limit")
	if err != nil {
		return nil, err
	}
	if rateLimit < 0 {
		return nil, errors.New("rate_limit must be >=0")
	}
	if rateLimit == 0 {
		rateLimit = DefRateLimit
	}

	burst := int(rateLimit)
	if burst < 1 {
		burst = 1
	}

	result.limiter = rate.NewLimiter(rate.Limit(rateLimit), burst)
	result.logger = zap.L().Named(loggerName)

	return &result, nil
}

// shouldNotifyPipeline returns true for failed pipelines and, unless only
// broken pipelines are reported, for successful ones.
// Pipelines in other states are not reported.
func (c *Config) shouldNotifyPipeline(p *event.Pipeline) bool {
	switch p.Status {
	case "failed":
		return true
	case "success":
		return !c.notifyOnlyBrokenPipelines
	default:
		return false
	}
}

func (c *Config) isDefaultBranch(meta *event.Meta, branch string) bool {
	defBranch := c.defaultBranch
	if defBranch == "" {
		defBranch = meta.Project.DefaultBranch
	}

	// when the default branch is unknown, notify
	return defBranch == "" || defBranch == branch
}

func (c *Config) applies(ev event.Event) bool {
	switch e := ev.(type) {
	case *event.Pipeline:
		if e == nil {
			return true
		}

		if !c.shouldNotifyPipeline(e) {
			return false
		}

		if c.notifyOnlyDefaultBranch && !e.Tag {
			return c.isDefaultBranch(&e.Meta, e.Ref)
		}

	case *event.Push:
		if e != nil && c.notifyOnlyDefaultBranch {
			return c.isDefaultBranch(&e.Meta, e.Branch)
		}
	}

	return true
}

// Render formats the notification for the event and returns a runner
// that posts it.
// action.ErrSkipped is returned when the event is filtered by the
// configuration. Formatting errors are returned unchanged.
func (c *Config) Render(ev action.Event, fn func(string) (string, error)) (action.Runner, error) {
	payload := ev.GetPayload()
	if payload != nil && !c.applies(payload) {
		return nil, action.ErrSkipped
	}

	msg, err := c.formatter.Format(payload)
	if err != nil {
		return nil, fmt.Errorf("formatting message failed: %w", err)
	}

	url, err := fn(c.webhookURL)
	if err != nil {
		return nil, fmt.Errorf("templating webhook_url failed: %w", err)
	}

	return newRunner(c, url, msg), nil
}

func (c *Config) String() string {
	return fmt.Sprintf("slack: post %s message", c.dialect)
}

func (c *Config) DetailedString() string {
	const maskedStr = "************"
	var result strings.Builder

	result.WriteString("slack:\n")
	result.WriteString("  webhook_url: " + maskedStr + "\n")
	result.WriteString(fmt.Sprintf("  dialect: %s\n", c.dialect))
	if c.channel != "" {
		result.WriteString(fmt.Sprintf("  channel: %s\n", c.channel))
	}

	if c.username != "" {
		result.WriteString(fmt.Sprintf("  username: %s\n", c.username))
	}

	result.WriteString(fmt.Sprintf("  notify_only_broken_pipelines: %t\n", c.notifyOnlyBrokenPipelines))
	result.WriteString(fmt.Sprintf("  notify_only_default_branch: %t\n", c.notifyOnlyDefaultBranch))
	result.WriteString(fmt.Sprintf("  rate_limit: %g/s\n", float64(c.limiter.Limit())))

	return result.String()
}
