package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/simplesurance/chatnotifier/internal/chatmsg"
	"github.com/simplesurance/chatnotifier/internal/logfields"
	"github.com/simplesurance/chatnotifier/internal/notiferr"
)

const DefaultHTTPClientTimeout = 30 * time.Second

// Runner posts a message to a webhook.
type Runner struct {
	*Config
	url    string
	msg    *slack.WebhookMessage
	client *http.Client
}

func newRunner(cfg *Config, url string, msg *chatmsg.Message) *Runner {
	return &Runner{
		Config: cfg,
		url:    url,
		msg:    toWebhookMessage(cfg, msg),
		client: &http.Client{Timeout: DefaultHTTPClientTimeout},
	}
}

// toWebhookMessage converts msg to the webhook payload.
// For the slack dialect the texts are escaped, mattermost renders them
// as markdown and gets them unchanged.
func toWebhookMessage(cfg *Config, msg *chatmsg.Message) *slack.WebhookMessage {
	pretext, text := msg.Pretext, func(s string) string { return s }
	if cfg.dialect == dialectSlack {
		pretext, text = escapePretext(msg.Pretext), escapeText
	}

	attachments := make([]slack.Attachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		attachments = append(attachments, slack.Attachment{
			Text:     text(a.Text),
			Fallback: text(a.Text),
			Color:    a.Color,
		})
	}

	return &slack.WebhookMessage{
		Channel:     cfg.channel,
		Username:    cfg.username,
		IconEmoji:   cfg.iconEmoji,
		Text:        pretext,
		Attachments: attachments,
	}
}

// Run posts the message.
// Transport errors, rate limiting and server errors result in a
// notiferr.RetryableError.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	err := slack.PostWebhookCustomHTTPContext(ctx, r.url, r.client, r.msg)
	if err == nil {
		r.logger.Debug(
			"message posted",
			append(r.LogFields(), logfields.Event("slack_message_posted"))...,
		)

		return nil
	}

	var rateLimitErr *slack.RateLimitedError
	if errors.As(err, &rateLimitErr) {
		return notiferr.NewRetryableError(err, time.Now().Add(rateLimitErr.RetryAfter))
	}

	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		if statusErr.Code >= 500 {
			return notiferr.NewRetryableAnytimeError(err)
		}

		return fmt.Errorf("webhook rejected message: %w", err)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	return notiferr.NewRetryableAnytimeError(err)
}

func (r *Runner) LogFields() []zap.Field {
	return []zap.Field{
		logfields.Action("slack"),
		zap.String("slack.dialect", r.dialect),
		zap.String("slack.channel", r.channel),
	}
}
