// Package gitlab receives GitLab webhook deliveries.
package gitlab

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simplesurance/chatnotifier/internal/event"
	"github.com/simplesurance/chatnotifier/internal/logfields"
)

const loggerName = "gitlab-event-provider"

// MaxPayloadSize is the maximum accepted size of a webhook request body.
const MaxPayloadSize = 25 << 20

const (
	headerEvent        = "X-Gitlab-Event"
	headerToken        = "X-Gitlab-Token"
	headerDeliveryUUID = "X-Gitlab-Event-UUID"
)

// Provider listens for gitlab-webhook http-requests at a http-server handler,
// validates and decodes the requests to Events and forwards them to event
// channels.
type Provider struct {
	logger      *zap.Logger
	secretToken []byte
	chans       []chan<- *Event
}

type option func(*Provider)

// WithSecretToken sets the token that requests must send in the
// X-Gitlab-Token header.
// When it is not set, requests are not authenticated.
func WithSecretToken(token string) option {
	return func(p *Provider) {
		p.secretToken = []byte(token)
	}
}

func New(eventChans []chan<- *Event, opts ...option) *Provider {
	p := Provider{
		chans: eventChans,
	}

	for _, o := range opts {
		o(&p)
	}

	if p.logger == nil {
		p.logger = zap.L().Named(loggerName)
	}

	return &p
}

func (p *Provider) authenticated(req *http.Request) bool {
	if len(p.secretToken) == 0 {
		return true
	}

	return subtle.ConstantTimeCompare([]byte(req.Header.Get(headerToken)), p.secretToken) == 1
}

func (p *Provider) HTTPHandler(resp http.ResponseWriter, req *http.Request) {
	deliveryID := req.Header.Get(headerDeliveryUUID)
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	hookType := req.Header.Get(headerEvent)

	logFields := []zap.Field{
		logfields.EventProvider("gitlab"),
		logfields.DeliveryID(deliveryID),
		zap.String("gitlab.webhook_type", hookType),
	}

	logger := p.logger.With(logFields...)

	if req.Method != http.MethodPost {
		logger.Debug(
			"received http request with unsupported method",
			logfields.Event("gitlab_http_request_method_unsupported"),
			zap.String("http_method", req.Method),
		)
		resp.Header().Set("Allow", http.MethodPost)
		http.Error(resp, "only POST requests are supported", http.StatusMethodNotAllowed)
		return
	}

	if !p.authenticated(req) {
		logger.Info(
			"received http request with invalid secret token",
			logfields.Event("gitlab_http_request_unauthorized"),
		)
		recordRequest("", resultUnauthorized)
		http.Error(resp, "invalid X-Gitlab-Token", http.StatusUnauthorized)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(req.Body, MaxPayloadSize+1))
	if err != nil {
		logger.Info(
			"reading http request body failed",
			logfields.Event("gitlab_http_request_reading_body_failed"),
			zap.Error(err),
		)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	if len(payload) > MaxPayloadSize {
		logger.Info(
			"received http request exceeding max. payload size",
			logfields.Event("gitlab_http_request_too_large"),
			zap.Int("max_payload_size", MaxPayloadSize),
		)
		recordRequest("", resultInvalid)
		http.Error(resp, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	logger.Debug(
		"received http request",
		logfields.Event("gitlab_event_received"),
		zap.ByteString("http_body", payload),
	)

	ev, err := event.Decode(payload)
	if err != nil {
		var kindErr *event.UnsupportedKindError
		if errors.As(err, &kindErr) {
			logger.Info(
				"ignoring event, event kind is unsupported",
				logfields.Event("gitlab_unsupported_event_received"),
				logfields.EventKind(kindErr.Kind),
			)
			recordRequest(kindUnsupportedLabelVal, resultIgnored)
			resp.WriteHeader(http.StatusAccepted)
			return
		}

		logger.Info(
			"received invalid http request, decoding payload failed",
			logfields.Event("gitlab_event_decoding_failed"),
			zap.Error(err),
		)
		recordRequest("", resultInvalid)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	meta := ev.Source()
	logFields = append(
		logFields,
		logfields.EventKind(string(ev.Kind())),
		logfields.Project(meta.Project.Name),
	)
	if meta.Project.ID != 0 {
		logFields = append(logFields, logfields.ProjectID(meta.Project.ID))
	}
	logFields = append(logFields, gitLogFields(ev)...)
	logger = p.logger.With(logFields...)

	gev := Event{
		DeliveryID: deliveryID,
		Type:       hookType,
		JSON:       payload,
		Event:      ev,
		LogFields:  logFields,
	}

	var dropped int
	for i, ch := range p.chans {
		select {
		case ch <- &gev:
			logger.Debug(
				"event forwarded to channel",
				logfields.Event("gitlab_event_forwarded"),
				zap.Int("channel_idx", i),
			)

		default:
			dropped++
			logger.Warn(
				"event lost, forwarding event to channel failed",
				zap.String("error", "could not forward event to channel, send would have blocked"),
				logfields.Event("gitlab_forwarding_event_failed"),
				zap.Int("channel_idx", i),
			)
		}
	}

	if dropped > 0 {
		recordRequest(string(ev.Kind()), resultDropped)
		http.Error(
			resp,
			fmt.Sprintf("queue full, event dropped by %d of %d consumers", dropped, len(p.chans)),
			http.StatusServiceUnavailable,
		)
		return
	}

	recordRequest(string(ev.Kind()), resultForwarded)
}

func gitLogFields(ev event.Event) []zap.Field {
	switch e := ev.(type) {
	case *event.Push:
		return []zap.Field{logfields.Ref(e.Ref), logfields.Commit(e.After)}
	case *event.TagPush:
		return []zap.Field{logfields.Ref(e.Ref), logfields.Commit(e.After)}
	case *event.Pipeline:
		return []zap.Field{logfields.Ref(e.Ref), logfields.Commit(e.SHA)}
	default:
		return nil
	}
}
