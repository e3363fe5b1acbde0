// Package emailsonpush implements an action that queues a notification mail
// for every push to a project.
package emailsonpush

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/simplesurance/chatnotifier/internal/event"
	"github.com/simplesurance/chatnotifier/internal/mailqueue"
	"github.com/simplesurance/chatnotifier/internal/maputils"
	"github.com/simplesurance/chatnotifier/internal/notifier/action"
)

const loggerName = "action.emails_on_push"

//go:generate mockgen -destination=mocks/queue.go -package=mocks . Queue

// Queue stores mail jobs until they are delivered.
type Queue interface {
	Enqueue(ctx context.Context, job *mailqueue.Job) (int64, error)
}

type Config struct {
	queue      Queue
	recipients []string
	logger     *zap.Logger
}

// NewConfigFromMap instantiates a config from a configuration map.
// recipients is a whitespace separated list of mail addresses or an
// array of them.
func NewConfigFromMap(queue Queue, m map[string]any) (*Config, error) {
	if queue == nil {
		return nil, errors.New("mail queue is not configured")
	}

	recipients, err := recipientsVal(m)
	if err != nil {
		return nil, err
	}

	result := Config{
		queue:      queue,
		recipients: recipients,
		logger:     zap.L().Named(loggerName),
	}

	if len(result.recipients) == 0 {
		return nil, errors.New("recipients must be set")
	}

	return &result, nil
}

func recipientsVal(m map[string]any) ([]string, error) {
	if s, ok := m["recipients"].(string); ok {
		return strings.Fields(s), nil
	}

	lst, err := maputils.StrSliceVal(m, "recipients")
	if err != nil {
		return nil, err
	}

	var result []string
	for _, elem := range lst {
		result = append(result, strings.Fields(elem)...)
	}

	return result, nil
}

// Render returns a runner that queues a mail for push events.
// action.ErrSkipped is returned for all other events.
func (c *Config) Render(ev action.Event, _ func(string) (string, error)) (action.Runner, error) {
	push, ok := ev.GetPayload().(*event.Push)
	if !ok || push == nil {
		return nil, action.ErrSkipped
	}

	return &Runner{
		Config: c,
		job: &mailqueue.Job{
			ProjectID:  push.Project.ID,
			Recipients: c.recipients,
			Payload:    ev.GetJSON(),
		},
		deliveryID: ev.GetDeliveryID(),
	}, nil
}

func (c *Config) String() string {
	return fmt.Sprintf("emails_on_push: queue mail to %d recipient(s)", len(c.recipients))
}

func (c *Config) DetailedString() string {
	return fmt.Sprintf("emails_on_push:\n  recipients: %s\n", strings.Join(c.recipients, " "))
}
