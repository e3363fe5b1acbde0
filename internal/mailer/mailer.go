// Package mailer delivers the push notification mails that are stored in
// the mail queue.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/simplesurance/chatnotifier/internal/logfields"
	"github.com/simplesurance/chatnotifier/internal/mailqueue"
)

const loggerName = "mailer"

const (
	DefBatchSize   = 20
	DefMaxAttempts = 10
	DefRetention   = 7 * 24 * time.Hour

	retryInitialInterval = time.Minute
	retryMaxInterval     = 6 * time.Hour
)

// Queue is the store mail jobs are read from.
type Queue interface {
	Claim(ctx context.Context, limit int) ([]*mailqueue.Job, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, cause error, retryAt time.Time) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Mailer periodically drains the mail queue.
// A failed delivery is retried with exponential backoff until maxAttempts
// is reached.
type Mailer struct {
	queue       Queue
	sender      Sender
	from        string
	batchSize   int
	maxAttempts int
	retention   time.Duration

	logger *zap.Logger
	now    func() time.Time

	cron       *cron.Cron
	ctx        context.Context
	cancelFunc context.CancelFunc
	startOnce  sync.Once
}

type Option func(*Mailer)

func WithBatchSize(n int) Option {
	return func(m *Mailer) {
		m.batchSize = n
	}
}

func WithMaxAttempts(n int) Option {
	return func(m *Mailer) {
		m.maxAttempts = n
	}
}

// WithRetention sets how long sent and failed jobs are kept in the queue.
func WithRetention(d time.Duration) Option {
	return func(m *Mailer) {
		m.retention = d
	}
}

func New(queue Queue, sender Sender, from string, opts ...Option) *Mailer {
	m := Mailer{
		queue:       queue,
		sender:      sender,
		from:        from,
		batchSize:   DefBatchSize,
		maxAttempts: DefMaxAttempts,
		retention:   DefRetention,
		logger:      zap.L().Named(loggerName),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(&m)
	}

	if m.batchSize <= 0 {
		m.batchSize = DefBatchSize
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = DefMaxAttempts
	}

	m.ctx, m.cancelFunc = context.WithCancel(context.Background())

	return &m
}

// Start schedules queue drains according to the cron expression schedule.
// A drain is skipped when the previous one is still running.
func (m *Mailer) Start(schedule string) error {
	var err error

	m.startOnce.Do(func() {
		cronLogger := cronLogger{logger: m.logger}

		m.cron = cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		)

		_, err = m.cron.AddFunc(schedule, m.scheduledDrain)
		if err != nil {
			err = fmt.Errorf("invalid drain schedule %q: %w", schedule, err)
			return
		}

		m.cron.Start()

		m.logger.Info(
			"mailer started",
			logfields.Event("mailer_started"),
			zap.String("schedule", schedule),
			zap.Int("batch_size", m.batchSize),
			zap.Int("max_attempts", m.maxAttempts),
		)
	})

	return err
}

// Stop cancels a running drain and waits until it terminated.
func (m *Mailer) Stop() {
	m.cancelFunc()

	if m.cron == nil {
		return
	}

	<-m.cron.Stop().Done()

	m.logger.Debug("mailer stopped", logfields.Event("mailer_stopped"))
}

func (m *Mailer) scheduledDrain() {
	sent, err := m.Drain(m.ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}

		m.logger.Error(
			"draining mail queue failed",
			logfields.Event("mail_drain_failed"),
			zap.Int("mails_sent", sent),
			zap.Error(err),
		)
	}
}

// Drain sends all due mails in the queue and deletes finished jobs that are
// older than the retention period.
// It returns the number of sent mails.
func (m *Mailer) Drain(ctx context.Context) (int, error) {
	var sent int
	startTime := m.now()

	defer func() { drainDurationMetric.Observe(time.Since(startTime).Seconds()) }()

	for {
		jobs, err := m.queue.Claim(ctx, m.batchSize)
		if err != nil {
			return sent, fmt.Errorf("claiming jobs failed: %w", err)
		}

		for _, job := range jobs {
			if err := ctx.Err(); err != nil {
				return sent, err
			}

			ok, err := m.deliver(ctx, job)
			if err != nil {
				return sent, err
			}

			if ok {
				sent++
			}
		}

		if len(jobs) < m.batchSize {
			break
		}
	}

	pruned, err := m.queue.Prune(ctx, m.now().Add(-m.retention))
	if err != nil {
		return sent, fmt.Errorf("pruning jobs failed: %w", err)
	}

	if sent > 0 || pruned > 0 {
		m.logger.Info(
			"mail queue drained",
			logfields.Event("mail_queue_drained"),
			zap.Int("mails_sent", sent),
			zap.Int64("jobs_pruned", pruned),
			zap.Duration("duration", time.Since(startTime)),
		)
	}

	return sent, nil
}

// deliver sends the mail for job and records the result in the queue.
// It returns true if the mail was sent. An error is only returned when the
// result could not be recorded.
func (m *Mailer) deliver(ctx context.Context, job *mailqueue.Job) (bool, error) {
	logger := m.logger.With(
		logfields.MailJob(job.ID),
		logfields.ProjectID(job.ProjectID),
		zap.Int("attempts", job.Attempts),
	)

	mail, err := renderPushMail(m.from, job.Recipients, job.Payload, m.now())
	if err != nil {
		logger.Error(
			"rendering mail failed, job is dropped",
			logfields.Event("mail_render_failed"),
			zap.Error(err),
		)

		mailsInc(resultFailed)
		return false, m.markFailed(ctx, job, err, time.Time{})
	}

	logger = logger.With(zap.String("mail.subject", mail.Subject))

	err = m.sender.Send(ctx, mail)
	if err == nil {
		logger.Debug("mail sent", logfields.Event("mail_sent"))

		mailsInc(resultSent)
		if err := m.queue.MarkSent(ctx, job.ID); err != nil {
			return true, fmt.Errorf("marking job %d as sent failed: %w", job.ID, err)
		}

		return true, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}

	if job.Attempts+1 >= m.maxAttempts {
		logger.Error(
			"sending mail failed, max attempts reached, job is dropped",
			logfields.Event("mail_send_failed_permanently"),
			zap.Error(err),
		)

		mailsInc(resultFailed)
		return false, m.markFailed(ctx, job, err, time.Time{})
	}

	retryAt := m.now().Add(retryDelay(job.Attempts))
	logger.Warn(
		"sending mail failed, retrying later",
		logfields.Event("mail_send_failed"),
		zap.Time("retry_at", retryAt),
		zap.Error(err),
	)

	mailsInc(resultRetry)
	return false, m.markFailed(ctx, job, err, retryAt)
}

func (m *Mailer) markFailed(ctx context.Context, job *mailqueue.Job, cause error, retryAt time.Time) error {
	if err := m.queue.MarkFailed(ctx, job.ID, cause, retryAt); err != nil {
		return fmt.Errorf("marking job %d as failed failed: %w", job.ID, err)
	}

	return nil
}

// retryDelay returns the exponential backoff delay after a job failed
// attempts+1 times.
func retryDelay(attempts int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	var delay time.Duration
	for i := 0; i <= attempts; i++ {
		delay = bo.NextBackOff()
	}

	return delay
}

// cronLogger implements cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, append(keysAndValues, "event", "cron_info")...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "event", "cron_error", "error", err)...)
}
