package mailqueue

import "time"

// State is the delivery state of a Job.
type State string

const (
	StatePending State = "pending"
	StateSent    State = "sent"
	// StateFailed is the final state of jobs that will not be retried.
	StateFailed State = "failed"
)

// Job is a push notification mail waiting for delivery.
type Job struct {
	ID         int64
	ProjectID  int64
	Recipients []string
	// Payload is the raw push webhook payload the mail is rendered from.
	Payload []byte

	State         State
	Attempts      int
	LastError     string
	CreatedAt     time.Time
	NextAttemptAt time.Time
	// FinishedAt is zero for pending jobs.
	FinishedAt time.Time
}
