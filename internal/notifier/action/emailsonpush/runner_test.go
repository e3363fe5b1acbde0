package emailsonpush

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/chatnotifier/internal/event"
	"github.com/simplesurance/chatnotifier/internal/mailqueue"
	"github.com/simplesurance/chatnotifier/internal/notiferr"
	"github.com/simplesurance/chatnotifier/internal/notifier/action"
	"github.com/simplesurance/chatnotifier/internal/notifier/action/emailsonpush/mocks"
)

type testEvent struct {
	ev   event.Event
	json []byte
}

func (e *testEvent) GetDeliveryID() string   { return "abc" }
func (e *testEvent) GetPayload() event.Event { return e.ev }
func (e *testEvent) GetJSON() []byte         { return e.json }

func newPushEvent() *testEvent {
	return &testEvent{
		ev: &event.Push{
			Meta: event.Meta{
				Actor:   event.Actor{Username: "john"},
				Project: event.Project{ID: 15, Name: "proj", URL: "http://gl/proj"},
			},
			Ref:    "refs/heads/main",
			Branch: "main",
		},
		json: []byte(`{"object_kind":"push","project_id":15}`),
	}
}

func TestNewConfigFromMapRequiresRecipients(t *testing.T) {
	queue := mocks.NewMockQueue(gomock.NewController(t))

	for _, m := range []map[string]any{
		{},
		{"recipients": ""},
		{"recipients": " \n\t "},
		{"recipients": []any{}},
		{"recipients": []any{" "}},
		{"recipients": 5},
		{"recipients": []any{"a@example.com", 5}},
	} {
		_, err := NewConfigFromMap(queue, m)
		assert.Error(t, err)
	}
}

func TestNewConfigFromMapRecipientsList(t *testing.T) {
	queue := mocks.NewMockQueue(gomock.NewController(t))

	for _, m := range []map[string]any{
		{"recipients": "a@example.com b@example.com"},
		{"recipients": []any{"a@example.com", "b@example.com"}},
		{"recipients": []string{"a@example.com b@example.com"}},
	} {
		cfg, err := NewConfigFromMap(queue, m)
		require.NoError(t, err)
		assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.recipients)
	}
}

func TestNewConfigFromMapRequiresQueue(t *testing.T) {
	_, err := NewConfigFromMap(nil, map[string]any{"recipients": "a@example.com"})
	assert.Error(t, err)
}

func TestRenderSkipsNonPushEvents(t *testing.T) {
	queue := mocks.NewMockQueue(gomock.NewController(t))

	cfg, err := NewConfigFromMap(queue, map[string]any{"recipients": "a@example.com"})
	require.NoError(t, err)

	for _, ev := range []event.Event{
		&event.TagPush{Tag: "v1"},
		&event.Issue{IID: 1},
		&event.Pipeline{ID: 1},
		nil,
	} {
		_, err := cfg.Render(&testEvent{ev: ev}, nil)
		assert.ErrorIs(t, err, action.ErrSkipped)
	}
}

func TestRunEnqueuesJob(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	queue := mocks.NewMockQueue(gomock.NewController(t))

	cfg, err := NewConfigFromMap(queue, map[string]any{
		"recipients": "a@example.com\nb@example.com  c@example.com",
	})
	require.NoError(t, err)

	ev := newPushEvent()
	runner, err := cfg.Render(ev, nil)
	require.NoError(t, err)

	queue.EXPECT().
		Enqueue(gomock.Any(), gomock.Eq(&mailqueue.Job{
			ProjectID:  15,
			Recipients: []string{"a@example.com", "b@example.com", "c@example.com"},
			Payload:    ev.json,
		})).
		Return(int64(1), nil).
		Times(1)

	require.NoError(t, runner.Run(context.Background()))
}

func TestRunStoreErrorIsRetryable(t *testing.T) {
	queue := mocks.NewMockQueue(gomock.NewController(t))

	cfg, err := NewConfigFromMap(queue, map[string]any{"recipients": "a@example.com"})
	require.NoError(t, err)

	runner, err := cfg.Render(newPushEvent(), nil)
	require.NoError(t, err)

	storeErr := errors.New("database is locked")
	queue.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(int64(0), storeErr)

	err = runner.Run(context.Background())

	var retryErr *notiferr.RetryableError
	require.ErrorAs(t, err, &retryErr)
	assert.ErrorIs(t, err, storeErr)
}

func TestRunCanceledContextIsNotRetryable(t *testing.T) {
	queue := mocks.NewMockQueue(gomock.NewController(t))

	cfg, err := NewConfigFromMap(queue, map[string]any{"recipients": "a@example.com"})
	require.NoError(t, err)

	runner, err := cfg.Render(newPushEvent(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	queue.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(int64(0), context.Canceled)

	err = runner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	var retryErr *notiferr.RetryableError
	assert.False(t, errors.As(err, &retryErr))
}
