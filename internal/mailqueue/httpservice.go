package mailqueue

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/chatnotifier/internal/logfields"
)

// templFS contains the web pages.
//
//go:embed pages/templates/*
var templFS embed.FS

var templFuncs = template.FuncMap{
	"add": func(a, b int) int {
		return a + b
	},
	"join": strings.Join,
}

// DefListLimit is the number of jobs shown on the status page.
const DefListLimit = 100

const listTimeout = 10 * time.Second

// HTTPService serves a status page of the queue.
type HTTPService struct {
	store     *Store
	templates *template.Template
	logger    *zap.Logger
}

func NewHTTPService(store *Store) *HTTPService {
	return &HTTPService{
		store: store,
		templates: template.Must(
			template.New("").
				Funcs(templFuncs).
				ParseFS(templFS, "pages/templates/*"),
		),
		logger: store.logger.Named("http_service"),
	}
}

func (h *HTTPService) RegisterHandlers(mux *http.ServeMux, endpoint string) {
	mux.HandleFunc(endpoint, h.HandlerListFunc)
}

// listData is used as template data when rendering the list page.
type listData struct {
	Pending int64
	Sent    int64
	Failed  int64
	Jobs    []*Job

	// CreatedAt is the time when this datastructure was created.
	CreatedAt time.Time
}

// listData returns the data for the status page. If jobID is not 0 only
// the job with the id is listed.
func (h *HTTPService) listData(ctx context.Context, jobID int64) (*listData, error) {
	stats, err := h.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	var jobs []*Job
	if jobID != 0 {
		job, err := h.store.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		jobs = []*Job{job}
	} else {
		jobs, err = h.store.List(ctx, DefListLimit)
		if err != nil {
			return nil, err
		}
	}

	return &listData{
		Pending:   stats[StatePending],
		Sent:      stats[StateSent],
		Failed:    stats[StateFailed],
		Jobs:      jobs,
		CreatedAt: time.Now(),
	}, nil
}

func (h *HTTPService) HandlerListFunc(respWr http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		http.Error(respWr, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var jobID int64
	if idStr := req.URL.Query().Get("id"); idStr != "" {
		var err error
		jobID, err = strconv.ParseInt(idStr, 10, 64)
		if err != nil || jobID <= 0 {
			http.Error(respWr, "invalid job id", http.StatusBadRequest)
			return
		}
	}

	ctx, cancelFn := context.WithTimeout(req.Context(), listTimeout)
	defer cancelFn()

	data, err := h.listData(ctx, jobID)
	if errors.Is(err, ErrNotFound) {
		http.Error(respWr, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Warn(
			"querying mail queue failed",
			logfields.Event("mailqueue_list_failed"),
			zap.Error(err),
		)
		http.Error(respWr, "querying mail queue failed", http.StatusInternalServerError)
		return
	}

	err = h.templates.ExecuteTemplate(respWr, "list.html.tmpl", data)
	if err != nil {
		h.logger.Info(
			"applying template and sending back result failed",
			logfields.Event("mailqueue_list_template_failed"),
			zap.Error(err),
		)
		http.Error(respWr, err.Error(), http.StatusInternalServerError)
		return
	}
}
