package api

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"image-task-pipeline/internal/usecase"
)

// HealthCheck is one dependency probed by /health.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type Options struct {
	RequestTimeout time.Duration
	// FilesDir is served read-only under /files/ when set.
	FilesDir string
	Checks   []HealthCheck
}

// Server exposes the task API under /api/v1.
type Server struct {
	tasks    usecase.TaskUseCase
	auth     *Authenticator
	validate *validator.Validate
	opts     Options
	log      *zerolog.Logger
}

func NewServer(tasks usecase.TaskUseCase, auth *Authenticator, opts Options, logger *zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	l := logger.With().Str("component", "APIServer").Logger()
	return &Server{
		tasks:    tasks,
		auth:     auth,
		validate: newValidator(),
		opts:     opts,
		log:      &l,
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Router builds the full HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		TraceID(),
		RequestLog(s.log),
		Recover(s.log),
	)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if s.opts.FilesDir != "" {
		fs := http.StripPrefix("/files/", http.FileServer(http.Dir(s.opts.FilesDir)))
		r.Method(http.MethodGet, "/files/*", fs)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(s.opts.RequestTimeout), s.auth.Middleware())

		r.Post("/tasks", s.handleSubmit)
		r.Get("/tasks", s.handleList)
		r.Get("/tasks/{taskId}", s.handleGetTask)
		r.Delete("/tasks/{taskId}", s.handleCancel)
		r.Get("/queue/stats", s.handleQueueStats)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Code: codeNotFound, Message: "route not found"})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	out := map[string]string{}
	for _, c := range s.opts.Checks {
		if err := c.Ping(ctx); err != nil {
			s.log.Warn().Err(err).Str("check", c.Name).Msg("health check failed")
			out[c.Name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		out[c.Name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": out})
}
