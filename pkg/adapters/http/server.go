package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/internal/presentation/graph"
	"github.com/aretw0/pergola/pkg/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Engine is the part of the run engine the HTTP API drives.
type Engine interface {
	StartRun(ctx context.Context, input string, maxIterations int) (string, error)
	Step(ctx context.Context, runID string) (domain.StepResult, error)
	Inspect(ctx context.Context, runID string) (*domain.Run, error)
	ListRuns(ctx context.Context) ([]string, error)
	DeleteRun(ctx context.Context, runID string) error
	Definition() domain.GraphDefinition
}

var _ Engine = (*pergola.Engine)(nil)

// StartRunRequest is the body of POST /runs.
type StartRunRequest struct {
	Input         string `json:"input"`
	MaxIterations int    `json:"max_iterations,omitempty"`
	Wait          bool   `json:"wait,omitempty"`
}

// Server serves the run API.
type Server struct {
	Engine  Engine
	Streams *StreamManager

	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the handler.
type Option func(*Server)

// WithMetrics exposes the gatherer on GET /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	server := &Server{Engine: engine, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(server)
	}
	server.Streams = NewStreamManager(server.logger)

	r := chi.NewRouter()
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(rawSpec)
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(swaggerHTML))
	})
	if server.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(server.gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/health", server.GetHealth)
	r.Get("/info", server.GetInfo)
	r.Get("/graph", server.GetGraph)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", server.ListRuns)
		r.Post("/", server.StartRun)
		r.Get("/{id}", server.withRunID(server.GetRun))
		r.Delete("/{id}", server.withRunID(server.DeleteRun))
		r.Post("/{id}/step", server.withRunID(server.StepRun))
		r.Post("/{id}/resume", server.withRunID(server.ResumeRun))
		r.Get("/{id}/graph", server.withRunID(server.GetRunGraph))
		r.Get("/{id}/events", server.withRunID(server.SubscribeEvents))
	})

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Pergola API Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`

// withRunID binds the {id} path parameter the way generated servers do.
func (s *Server) withRunID(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id string
		err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
			runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
		if err != nil || id == "" {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid format for parameter id: %v", err))
			return
		}
		next(w, r, id)
	}
}

// StartRun handles POST /runs.
func (s *Server) StartRun(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := validateBody("StartRunRequest", raw); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	var body StartRunRequest
	if err := json.Unmarshal(data, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	id, err := s.Engine.StartRun(r.Context(), body.Input, body.MaxIterations)
	if err != nil {
		s.fail(w, "start run", err)
		return
	}
	s.logger.Info("run started", "run_id", id, "wait", body.Wait)

	if body.Wait {
		if err := s.resume(r.Context(), id); err != nil {
			s.fail(w, "resume run", err)
			return
		}
	}
	run, err := s.Engine.Inspect(r.Context(), id)
	if err != nil {
		s.fail(w, "inspect run", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, run)
}

// ListRuns handles GET /runs.
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.ListRuns(r.Context())
	if err != nil {
		s.fail(w, "list runs", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"runs": ids})
}

// GetRun handles GET /runs/{id}.
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request, id string) {
	run, err := s.Engine.Inspect(r.Context(), id)
	if err != nil {
		s.fail(w, "inspect run", err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// DeleteRun handles DELETE /runs/{id}.
func (s *Server) DeleteRun(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.Engine.DeleteRun(r.Context(), id); err != nil {
		s.fail(w, "delete run", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StepRun handles POST /runs/{id}/step.
func (s *Server) StepRun(w http.ResponseWriter, r *http.Request, id string) {
	res, err := s.step(r.Context(), id)
	if errors.Is(err, domain.ErrRunFinished) {
		s.writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "result": res})
		return
	}
	if err != nil {
		s.fail(w, "step run", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// ResumeRun handles POST /runs/{id}/resume.
func (s *Server) ResumeRun(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.resume(r.Context(), id); err != nil {
		s.fail(w, "resume run", err)
		return
	}
	run, err := s.Engine.Inspect(r.Context(), id)
	if err != nil {
		s.fail(w, "inspect run", err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// step executes one node and broadcasts the resulting diff to subscribers.
func (s *Server) step(ctx context.Context, id string) (domain.StepResult, error) {
	before, err := s.Engine.Inspect(ctx, id)
	if err != nil {
		return domain.StepResult{RunID: id}, err
	}
	res, err := s.Engine.Step(ctx, id)
	if err != nil {
		return res, err
	}
	if s.Streams.Subscribers(id) == 0 {
		return res, nil
	}
	after, err := s.Engine.Inspect(ctx, id)
	if err != nil {
		s.logger.Warn("reload run for diff failed", "run_id", id, "error", err)
		return res, nil
	}
	if diff := domain.Diff(before, after); diff != nil {
		if payload, err := json.Marshal(diff); err == nil {
			s.Streams.Broadcast(id, string(payload))
		}
	}
	return res, nil
}

func (s *Server) resume(ctx context.Context, id string) error {
	for {
		res, err := s.step(ctx, id)
		switch {
		case errors.Is(err, domain.ErrRunFinished):
			return nil
		case err != nil:
			return err
		case res.Done:
			return nil
		}
	}
}

// GetGraph handles GET /graph.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	var format *string
	if err := runtime.BindQueryParameter("form", true, false, "format", r.URL.Query(), &format); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid format for parameter format: %w", err))
		return
	}

	def := s.Engine.Definition()
	if format != nil && *format == "mermaid" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, graph.GenerateMermaid(def, nil))
		return
	}
	s.writeJSON(w, http.StatusOK, def)
}

// GetRunGraph handles GET /runs/{id}/graph.
func (s *Server) GetRunGraph(w http.ResponseWriter, r *http.Request, id string) {
	run, err := s.Engine.Inspect(r.Context(), id)
	if err != nil {
		s.fail(w, "inspect run", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, graph.GenerateMermaid(s.Engine.Definition(), graph.OverlayFromRun(run)))
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	apiVersion := "unknown"
	if swagger, err := GetSwagger(); err == nil && swagger.Info != nil {
		apiVersion = swagger.Info.Version
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":         "pergola-http",
		"version":     strings.TrimSpace(pergola.Version),
		"api_version": apiVersion,
		"graph":       s.Engine.Definition().Name,
	})
}

// SubscribeEvents handles GET /runs/{id}/events (SSE).
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request, id string) {
	var watch *string
	if err := runtime.BindQueryParameter("form", true, false, "watch", r.URL.Query(), &watch); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid format for parameter watch: %w", err))
		return
	}
	if _, err := s.Engine.Inspect(r.Context(), id); err != nil {
		s.fail(w, "inspect run", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(id)
	defer cancel()
	s.logger.Info("sse subscribed", "run_id", id)

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	var watchList []string
	if watch != nil && *watch != "" {
		watchList = strings.Split(*watch, ",")
	}

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("sse client disconnected", "run_id", id)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if len(watchList) > 0 && !matchesWatch(msg, watchList) {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// matchesWatch reports whether a serialized diff touches any watched part.
func matchesWatch(msg string, watchList []string) bool {
	var diff domain.RunDiff
	if err := json.Unmarshal([]byte(msg), &diff); err != nil {
		return true
	}
	for _, field := range watchList {
		switch strings.TrimSpace(field) {
		case "node":
			if diff.CurrentNode != nil {
				return true
			}
		case "state":
			if len(diff.State) > 0 {
				return true
			}
		case "visited":
			if diff.Visited != nil {
				return true
			}
		case "done":
			if diff.Done != nil {
				return true
			}
		default:
			if _, ok := diff.State[strings.TrimSpace(field)]; ok {
				return true
			}
		}
	}
	return false
}

// -- Helpers --

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "error", err)
	} else {
		s.logger.Warn(op+" rejected", "error", err)
	}
	s.writeError(w, status, err)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRunFinished), errors.Is(err, domain.ErrGraphChanged):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}
