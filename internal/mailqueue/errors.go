package mailqueue

import "errors"

// ErrNotFound is returned when a job does not exist or is not pending.
var ErrNotFound = errors.New("job not found")
