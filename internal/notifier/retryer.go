package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/simplesurance/chatnotifier/internal/logfields"
	"github.com/simplesurance/chatnotifier/internal/notiferr"
)

// ErrRetryerStopped is returned by Retryer.Run when the retryer was stopped
// before the function succeeded.
var ErrRetryerStopped = errors.New("retryer stopped")

// Retryer executes a function repeatedly until it was successful or cancel
// condition happened.
type Retryer struct {
	logger                     *zap.Logger
	defTimeout                 time.Duration
	backoffInitialInterval     time.Duration
	backoffRandomizationFactor float64
	shutdownChan               chan struct{}
}

func NewRetryer() *Retryer {
	return &Retryer{
		logger:                     zap.L().Named("retryer"),
		defTimeout:                 DefRetryTimeout,
		backoffInitialInterval:     5 * time.Second,
		backoffRandomizationFactor: backoff.DefaultRandomizationFactor,
		shutdownChan:               make(chan struct{}),
	}
}

func (r *Retryer) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.backoffInitialInterval
	bo.RandomizationFactor = r.backoffRandomizationFactor
	// the retry duration is limited by the context timeout
	bo.MaxElapsedTime = 0
	bo.Reset()

	return bo
}

// Run executes fn until it was successful, it returned an error that
// does not wrap notiferr.RetryableError or the execution was aborted via the
// context.
// If ctx has no deadline, the execution is aborted after the default timeout
// of the Retryer.
func (r *Retryer) Run(ctx context.Context, fn func(context.Context) error, logF []zap.Field) error {
	var tryCnt uint

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancelFn context.CancelFunc
		ctx, cancelFn = context.WithTimeout(ctx, r.defTimeout)
		defer cancelFn()
	}

	deadline, _ := ctx.Deadline()

	retryTimer := time.NewTimer(0)
	defer retryTimer.Stop()

	bo := r.newBackoff()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info(
				"action execution cancelled",
				append(
					logF,
					logfields.Event("action_execution_cancelled"),
					logFieldActionResult("cancelled"),
					zap.Uint("try_count", tryCnt),
					zap.Error(ctx.Err()),
				)...,
			)

			return ctx.Err()

		case <-r.shutdownChan:
			r.logger.Info(
				"event loop terminating, action not executed",
				append(
					logF,
					logfields.Event("action_execution_cancelled_evloop_terminated"),
					logFieldActionResult("cancelled"),
				)...,
			)

			return ErrRetryerStopped

		case <-retryTimer.C:
			tryCnt++
			logger := r.logger.With(logF...).With(zap.Uint("try_count", tryCnt))

			logger.Debug(
				"running action",
				logfields.Event("action_running"),
				zap.Duration("age", bo.GetElapsedTime()),
				zap.Time("deadline", deadline),
			)

			err := fn(ctx)
			if err == nil {
				logger.Info(
					"action executed successfully",
					logfields.Event("action_executed_successfully"),
					logFieldActionResult("success"),
				)

				return nil
			}

			logger = logger.With(zap.Error(err))

			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.Error(
					"action cancelled",
					logfields.Event("action_cancelled"),
					logFieldActionResult("cancelled"),
				)

				return err
			}

			var retryError *notiferr.RetryableError
			if !errors.As(err, &retryError) {
				logger.Error(
					"action failed, not retryable",
					logfields.Event("action_failed"),
					logFieldActionResult("failure"),
				)

				return err
			}

			if retryError.After.After(deadline) {
				logger.Error(
					"action failed, next possible retry time is after timeout expiration",
					logfields.Event("action_failed"),
					logFieldActionResult("failure"),
					zap.Time("earliest_allowed_retry", retryError.After),
				)

				return err
			}

			retryIn := bo.NextBackOff()
			if until := time.Until(retryError.After); until > retryIn {
				retryIn = until
			}

			retryTimer.Reset(retryIn)
			logger.Warn(
				"action failed, retry scheduled",
				logfields.Event("action_retry_scheduled"),
				zap.Duration("retry_in", retryIn),
				zap.Duration("age", bo.GetElapsedTime()),
			)
		}
	}
}

// Stop notifies all Run() methods to terminate.
// It does not wait for their termination.
func (r *Retryer) Stop() {
	r.logger.Debug("retryer terminating", logfields.Event("retryer_terminating"))

	select {
	case <-r.shutdownChan:
		return // already closed
	default:
		close(r.shutdownChan)
	}
}
