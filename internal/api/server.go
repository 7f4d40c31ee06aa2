package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"instancescheduler/internal/app"
	"instancescheduler/internal/domain"
	"instancescheduler/internal/queue"
	"instancescheduler/internal/scheduler"
)

// Scheduler is the subset of app.Scheduler the API drives.
type Scheduler interface {
	Register(ctx context.Context) (app.RegisterReport, error)
	Process(ctx context.Context) (app.ProcessReport, error)
	ProcessTask(ctx context.Context, key string) (domain.Result, error)
	Tasks(ctx context.Context) ([]domain.Task, error)
	Task(ctx context.Context, key string) (domain.Task, error)
}

type Server struct {
	r         *chi.Mux
	scheduler Scheduler
	loc       *time.Location
}

type Options struct {
	Location    *time.Location
	Gatherer    prometheus.Gatherer
	EnableDebug bool
}

func NewServer(s Scheduler, opts Options) http.Handler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	srv := &Server{r: r, scheduler: s, loc: opts.Location}

	r.Get("/health", srv.health)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/api/tasks", srv.listTasks)
	r.Get("/api/tasks/{key}", srv.getTask)
	r.Post("/api/tasks/{key}/process", srv.processTask)
	r.Post("/api/register", srv.register)
	r.Post("/api/process", srv.process)
	r.Get("/api/preview", srv.preview)

	if opts.EnableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// taskView keeps the field names of the stored record format.
type taskView struct {
	Key                 string         `json:"key"`
	Task                domain.Kind    `json:"task"`
	ResourceType        string         `json:"resourceType"`
	ResourceID          string         `json:"resourceId"`
	ScheduledTime       string         `json:"scheduledTime"`
	RemainingRetryCount int            `json:"remainingRetryCount"`
	TTL                 int64          `json:"TTL"`
	LastModified        string         `json:"lastModified"`
	Payload             domain.Payload `json:"payload"`
}

func view(t domain.Task) taskView {
	return taskView{
		Key:                 t.Key,
		Task:                t.Kind,
		ResourceType:        string(t.ResourceType),
		ResourceID:          t.ResourceID,
		ScheduledTime:       t.ScheduledTime,
		RemainingRetryCount: t.RemainingRetryCount,
		TTL:                 t.TTL,
		LastModified:        t.LastModified,
		Payload:             t.Payload,
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.scheduler.Tasks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, view(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.scheduler.Task(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view(t))
}

func (s *Server) processTask(w http.ResponseWriter, r *http.Request) {
	res, err := s.scheduler.ProcessTask(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	rep, err := s.scheduler.Register(r.Context())
	if err != nil {
		log.Error().Err(err).Str("run_id", rep.RunID).Msg("register via API failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"report": rep, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	rep, err := s.scheduler.Process(r.Context())
	if err != nil {
		log.Error().Err(err).Str("run_id", rep.RunID).Msg("process via API failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"report": rep, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type previewResp struct {
	Expr        string   `json:"expr"`
	Valid       bool     `json:"valid"`
	Occurrences []string `json:"occurrences"`
}

// preview evaluates an expression over the next hours (default 24) from now
// or from the optional "from" timestamp.
func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	expr := q.Get("expr")
	hours := 24
	if v := q.Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 24*31 {
			http.Error(w, "hours must be between 1 and 744", http.StatusBadRequest)
			return
		}
		hours = n
	}
	from := time.Now()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "from must be RFC3339", http.StatusBadRequest)
			return
		}
		from = t
	}

	resp := previewResp{Expr: expr, Valid: scheduler.Validate(expr), Occurrences: []string{}}
	for _, at := range scheduler.Occurrences(expr, hours, from.In(s.loc)) {
		resp.Occurrences = append(resp.Occurrences, domain.FormatTime(at))
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidTask):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
