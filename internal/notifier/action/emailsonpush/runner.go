package emailsonpush

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/chatnotifier/internal/logfields"
	"github.com/simplesurance/chatnotifier/internal/mailqueue"
	"github.com/simplesurance/chatnotifier/internal/notiferr"
)

type Runner struct {
	*Config
	job        *mailqueue.Job
	deliveryID string
}

// Run adds the mail job to the queue.
// Failing to store the job results in a notiferr.RetryableError.
func (r *Runner) Run(ctx context.Context) error {
	id, err := r.queue.Enqueue(ctx, r.job)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		return notiferr.NewRetryableAnytimeError(fmt.Errorf("queuing mail failed: %w", err))
	}

	r.logger.Debug(
		"mail queued",
		append(r.LogFields(), logfields.Event("mail_queued"), logfields.MailJob(id))...,
	)

	return nil
}

func (r *Runner) LogFields() []zap.Field {
	return []zap.Field{
		logfields.Action("emails_on_push"),
		logfields.ProjectID(r.job.ProjectID),
		logfields.DeliveryID(r.deliveryID),
	}
}
