package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/chatnotifier/internal/logfields"
	"github.com/simplesurance/chatnotifier/internal/notifier/action"
	"github.com/simplesurance/chatnotifier/internal/provider/gitlab"
)

const DefEventChannelBufferSize = 512
const DefRetryTimeout = 2 * time.Hour

const loggerName = "event-loop"

// EvLoop receives events and triggers matching actions.
// Actions are executed asynchronously in go-routines and are retried until
// DefRetryTimeout expired.
type EvLoop struct {
	ch     chan *gitlab.Event
	logger *zap.Logger
	rules  []*Rule

	actionWg      sync.WaitGroup
	actionDeferFn func()
	retryer       *Retryer
	done          chan struct{}
}

// WithActionRoutineDeferFunc sets a function to be run when an go-routine that
// executes an action returns.
// It can be used to set a panic handler.
func WithActionRoutineDeferFunc(fn func()) func(*EvLoop) {
	return func(e *EvLoop) {
		e.actionDeferFn = fn
	}
}

// WithRetryer sets the retryer that runs actions.
func WithRetryer(r *Retryer) func(*EvLoop) {
	return func(e *EvLoop) {
		e.retryer = r
	}
}

func NewEventLoop(rules []*Rule, opts ...func(*EvLoop)) *EvLoop {
	evl := EvLoop{
		ch:    make(chan *gitlab.Event, DefEventChannelBufferSize),
		rules: rules,
		done:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(&evl)
	}

	if evl.logger == nil {
		evl.logger = zap.L().Named(loggerName)
	}

	if evl.retryer == nil {
		evl.retryer = NewRetryer()
	}

	return &evl
}

// C returns the event channel.
// Events sent to this channel will be processed.
// The channel is closed when Stop() is called.
func (e *EvLoop) C() chan<- *gitlab.Event {
	return e.ch
}

// Start processes events until the event channel is closed.
func (e *EvLoop) Start() {
	defer close(e.done)

	ctx := context.Background()
	e.logger.Info("ready to process events", logfields.Event("eventloop_started"))

	for pev := range e.ch {
		ev := fromProviderEvent(pev)
		logger := e.logger.With(ev.LogFields...)

		logger.Debug("event received", logfields.Event("event_received"))
		metrics.ProcessedEventsInc(ev.Kind)

		for _, rule := range e.rules {
			logger := logger.With(logfields.Rule(rule.name))

			match, err := rule.Match(ctx, ev)
			if err != nil {
				logger.Error(
					"matching rule failed",
					logfields.Event("rule_matching_failed"),
					zap.Error(err),
				)
				continue
			}

			logger.Debug(
				"evaluated result of matching event with rule",
				logfields.Event("rule_match_result_evaluated"),
				zap.String("match_result", match.String()),
			)

			switch match {
			case Match:
			case EventKindMismatch, RuleMismatch:
				continue
			default:
				logger.Error(
					"match returned invalid result",
					logfields.Event("rule_match_invalid_result"),
					zap.String("match_result", match.String()),
				)
				continue
			}

			actions, err := rule.TemplateActions(ctx, ev)
			if err != nil {
				logger.Error(
					"rendering actions failed, rule is skipped",
					logfields.Event("rule_action_rendering_failed"),
					zap.Error(err),
				)
				continue
			}

			if len(actions) == 0 {
				logger.Debug(
					"no action applies to the event",
					logfields.Event("rule_actions_skipped"),
				)
			}

			for _, action := range actions {
				e.scheduleAction(ctx, ev, action)
			}
		}
	}

	e.logger.Info(
		"event loop terminated, event channel was closed",
		logfields.Event("eventloop_terminated"),
	)
}

func logFieldActionResult(val string) zap.Field {
	return zap.String("action_result", val)
}

func actionResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrRetryerStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "failure"
	}
}

func (e *EvLoop) scheduleAction(ctx context.Context, event *Event, action action.Runner) {
	actionLogFields := action.LogFields()
	logF := make([]zap.Field, 0, len(event.LogFields)+len(actionLogFields)+1)
	logF = append(logF, event.LogFields...)
	logF = append(logF, actionLogFields...)
	logF = append(logF, zap.Stringer("action_runner", action))

	e.actionWg.Add(1)

	go func() {
		if e.actionDeferFn != nil {
			defer e.actionDeferFn()
		}

		defer e.actionWg.Done()

		err := e.retryer.Run(ctx, action.Run, logF)
		metrics.ActionResultInc(actionName(actionLogFields), actionResult(err))
	}()
}

// actionName returns the value of the "action" log field.
func actionName(fields []zap.Field) string {
	for _, f := range fields {
		if f.Key == "action" {
			return f.String
		}
	}

	return "unknown"
}

// Stop stops the event loop, it waits until all scheduled go-routines
// terminated.
// The event channel (Evloop.C()) will be closed.
func (e *EvLoop) Stop() {
	e.logger.Debug("event loop terminating", logfields.Event("eventloop_terminating"))
	close(e.ch)
	<-e.done

	e.retryer.Stop()

	e.logger.Debug(
		"waiting for scheduled actions to terminate",
		logfields.Event("eventloop_terminating"),
	)
	e.actionWg.Wait()

	e.logger.Info("event loop terminated", logfields.Event("eventloop_terminated"))
}
