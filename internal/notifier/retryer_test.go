package notifier

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/chatnotifier/internal/notiferr"
)

func TestRetryerDefaultTimeout(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	r := NewRetryer()
	r.backoffInitialInterval = 100 * time.Millisecond
	t.Cleanup(r.Stop)

	r.defTimeout = time.Second

	var err error
	assert.Eventually(
		t,
		func() bool {
			err = r.Run(context.Background(), func(context.Context) error {
				return notiferr.NewRetryableAnytimeError(errors.New("err"))
			}, nil)

			t.Logf("err: %s\n", err)
			return true
		},
		r.defTimeout+time.Second,
		200*time.Millisecond,
	)

	assert.ErrorIsf(t, err, context.DeadlineExceeded, "err: %+v", err)
}

func TestRetryAfterInThePast(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	r := NewRetryer()
	r.backoffInitialInterval = 100 * time.Millisecond
	t.Cleanup(r.Stop)

	ctx, cancelFunc := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelFunc()

	var retryTimes []time.Time

	err := r.Run(ctx, func(context.Context) error {
		retryTimes = append(retryTimes, time.Now())
		return notiferr.NewRetryableError(errors.New("err"), time.Now().Add(-time.Second))
	}, nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.GreaterOrEqual(t, len(retryTimes), 2)

	for i := 1; i < len(retryTimes); i++ {
		d := retryTimes[i].Sub(retryTimes[i-1])
		require.GreaterOrEqualf(t, d, minInterval(r),
			"time between retry %d and %d is %s, expected >=%s",
			i-1, i, d, minInterval(r),
		)
	}
}

func TestRetryAfterIsHonoured(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	r := NewRetryer()
	r.backoffInitialInterval = 10 * time.Millisecond
	t.Cleanup(r.Stop)

	var retryTimes []time.Time

	err := r.Run(context.Background(), func(context.Context) error {
		retryTimes = append(retryTimes, time.Now())
		if len(retryTimes) == 1 {
			return notiferr.NewRetryableError(errors.New("rate limited"), time.Now().Add(300*time.Millisecond))
		}

		return nil
	}, nil)

	require.NoError(t, err)
	require.Len(t, retryTimes, 2)
	assert.GreaterOrEqual(t, retryTimes[1].Sub(retryTimes[0]), 290*time.Millisecond)
}

func TestRetryAfterDeadlineFailsImmediately(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	r := NewRetryer()
	t.Cleanup(r.Stop)

	ctx, cancelFunc := context.WithTimeout(context.Background(), time.Second)
	defer cancelFunc()

	var tries int
	err := r.Run(ctx, func(context.Context) error {
		tries++
		return notiferr.NewRetryableError(errors.New("err"), time.Now().Add(time.Hour))
	}, nil)

	var retryErr *notiferr.RetryableError
	assert.ErrorAs(t, err, &retryErr)
	assert.Equal(t, 1, tries)
}

func TestNonRetryableErrorIsReturned(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	r := NewRetryer()
	t.Cleanup(r.Stop)

	expectedErr := errors.New("bad request")

	var tries int
	err := r.Run(context.Background(), func(context.Context) error {
		tries++
		return expectedErr
	}, nil)

	assert.ErrorIs(t, err, expectedErr)
	assert.Equal(t, 1, tries)
}

func TestStopAbortsRetries(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	r := NewRetryer()
	r.backoffInitialInterval = time.Minute

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(context.Background(), func(context.Context) error {
			return notiferr.NewRetryableAnytimeError(errors.New("err"))
		}, nil)
	}()

	time.Sleep(100 * time.Millisecond)
	r.Stop()
	r.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrRetryerStopped)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestBackoffInterval(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	r := NewRetryer()
	r.backoffInitialInterval = 500 * time.Millisecond
	t.Cleanup(r.Stop)

	ctx, cancelFunc := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFunc()

	var retryTimes []time.Time

	err := r.Run(ctx, func(context.Context) error {
		retryTimes = append(retryTimes, time.Now())
		return notiferr.NewRetryableAnytimeError(errors.New("err"))
	}, nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.GreaterOrEqual(t, len(retryTimes), 2)
	for i := 1; i < len(retryTimes); i++ {
		d := retryTimes[i].Sub(retryTimes[i-1])
		require.GreaterOrEqualf(t, d, minInterval(r),
			"time between retry %d and %d is %s, expected >=%s",
			i-1, i, d, minInterval(r),
		)
	}
}

func minInterval(retryer *Retryer) time.Duration {
	return time.Duration(math.Floor(float64(retryer.backoffInitialInterval) * (1 - retryer.backoffRandomizationFactor)))
}
