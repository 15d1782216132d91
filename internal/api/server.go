package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"dramaforge/internal/checkpoint"
	"dramaforge/internal/contentcache"
	"dramaforge/internal/events"
	"dramaforge/internal/logging"
	"dramaforge/internal/pipeline"
	"dramaforge/internal/services"
	"dramaforge/internal/workflow"
)

// maxLongPoll caps how long an events or logs request may block.
const maxLongPoll = 30 * time.Second

// Workflow is the project surface the server drives. *workflow.Manager
// satisfies it.
type Workflow interface {
	Start(ctx context.Context, req workflow.StartRequest) (workflow.Project, error)
	State(ctx context.Context, id string) (workflow.Project, error)
	List(ctx context.Context) ([]workflow.Project, error)
	Pause(ctx context.Context, id string) (workflow.Project, error)
	Resume(ctx context.Context, id string) (workflow.Project, error)
	Cancel(ctx context.Context, id string) (workflow.Project, error)
	Retry(ctx context.Context, id string) (workflow.Project, error)
	Skip(ctx context.Context, id string, stage pipeline.StageID) (workflow.Project, error)
	Status() workflow.StatusSummary
	Registry() *pipeline.Registry
	Checkpoints() *checkpoint.Store
	Cache() *contentcache.Cache
}

// ServerOptions wires the server's collaborators. Only Workflow is required.
type ServerOptions struct {
	Workflow Workflow
	Events   *events.Hub
	Logs     *logging.StreamHub
	Metrics  http.Handler
	Token    string
	Logger   *slog.Logger
	// Status overrides the /api/status payload; the daemon adds its lock and
	// preflight details here.
	Status func(ctx context.Context) StatusResponse
}

// Server serves the HTTP API.
type Server struct {
	wf      Workflow
	hub     *events.Hub
	logs    *logging.StreamHub
	metrics http.Handler
	status  func(ctx context.Context) StatusResponse
	logger  *slog.Logger
	handler http.Handler
}

// NewServer builds the route table.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Workflow == nil {
		return nil, errors.New("api: workflow is required")
	}
	s := &Server{
		wf:      opts.Workflow,
		hub:     opts.Events,
		logs:    opts.Logs,
		metrics: opts.Metrics,
		status:  opts.Status,
		logger:  logging.NewComponentLogger(opts.Logger, "api-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/projects", s.handleCreate)
	mux.HandleFunc("GET /api/projects", s.handleList)
	mux.HandleFunc("GET /api/projects/{id}", s.handleGet)
	mux.HandleFunc("POST /api/projects/{id}/pause", s.control(s.wf.Pause))
	mux.HandleFunc("POST /api/projects/{id}/resume", s.control(s.wf.Resume))
	mux.HandleFunc("POST /api/projects/{id}/cancel", s.control(s.wf.Cancel))
	mux.HandleFunc("POST /api/projects/{id}/retry", s.control(s.wf.Retry))
	mux.HandleFunc("POST /api/projects/{id}/stages/{stage}/skip", s.handleSkip)
	mux.HandleFunc("GET /api/projects/{id}/checkpoints", s.handleCheckpoints)
	mux.HandleFunc("POST /api/projects/{id}/checkpoints/prune", s.handlePrune)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/cache", s.handleCacheStats)
	mux.HandleFunc("DELETE /api/cache", s.handleCacheClear)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	s.handler = requestIDMiddleware(authMiddleware(strings.TrimSpace(opts.Token), mux))
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "", "decode", "invalid request body", err))
		return
	}
	project, err := s.wf.Start(r.Context(), workflow.StartRequest{
		ID:       req.ID,
		Input:    req.Input,
		Settings: req.Settings,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ProjectResponse{Project: project})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	projects, err := s.wf.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		filtered := projects[:0]
		for _, p := range projects {
			if string(p.Status) == status {
				filtered = append(filtered, p)
			}
		}
		projects = filtered
	}
	s.writeJSON(w, http.StatusOK, ProjectListResponse{Projects: FromProjects(projects)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	project, err := s.wf.State(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ProjectResponse{Project: project})
}

func (s *Server) control(op func(context.Context, string) (workflow.Project, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := op(r.Context(), r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, ProjectResponse{Project: project})
	}
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	project, err := s.wf.Skip(r.Context(), r.PathValue("id"), pipeline.StageID(r.PathValue("stage")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ProjectResponse{Project: project})
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	store := s.wf.Checkpoints()
	if store == nil {
		s.writeJSON(w, http.StatusOK, CheckpointListResponse{Checkpoints: []CheckpointInfo{}})
		return
	}
	list, err := store.List(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	infos := make([]CheckpointInfo, 0, len(list))
	for _, cp := range list {
		infos = append(infos, FromCheckpoint(cp))
	}
	s.writeJSON(w, http.StatusOK, CheckpointListResponse{Enabled: true, Checkpoints: infos})
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	store := s.wf.Checkpoints()
	if store == nil {
		s.writeError(w, r, services.Wrap(services.ErrConfiguration, "", "prune", "checkpointing is disabled", nil))
		return
	}
	var req PruneRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "", "decode", "invalid request body", err))
		return
	}
	if req.Keep < 1 {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "", "prune", "keep must be at least 1", nil))
		return
	}
	removed, err := store.Prune(r.Context(), r.PathValue("id"), req.Keep)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, PruneResponse{Removed: removed})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeJSON(w, http.StatusOK, EventStreamResponse{Events: []events.Event{}})
		return
	}
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	wait := parseBool(query.Get("wait"))

	ctx, cancel := longPollContext(r)
	defer cancel()
	evts, next, err := s.hub.Fetch(ctx, since, strings.TrimSpace(query.Get("project")), limit, wait)
	if err != nil && r.Context().Err() != nil {
		return
	}
	if evts == nil {
		evts = []events.Event{}
	}
	s.writeJSON(w, http.StatusOK, EventStreamResponse{Events: evts, Next: next})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		s.writeJSON(w, http.StatusOK, LogStreamResponse{Events: []logging.LogEvent{}})
		return
	}
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	follow := parseBool(query.Get("follow"))
	project := strings.TrimSpace(query.Get("project"))
	component := strings.TrimSpace(query.Get("component"))

	ctx, cancel := longPollContext(r)
	defer cancel()
	match := func(evt logging.LogEvent) bool {
		return (project == "" || evt.ProjectID == project) &&
			(component == "" || strings.EqualFold(component, evt.Component))
	}
	evts, next, err := s.logs.Fetch(ctx, since, match, limit, follow)
	if err != nil && r.Context().Err() != nil {
		return
	}
	if evts == nil {
		evts = []logging.LogEvent{}
	}
	s.writeJSON(w, http.StatusOK, LogStreamResponse{Events: evts, Next: next})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	cache := s.wf.Cache()
	if cache == nil {
		s.writeJSON(w, http.StatusOK, CacheStatsResponse{})
		return
	}
	stats := cache.Stats()
	s.writeJSON(w, http.StatusOK, CacheStatsResponse{Enabled: true, Stats: &stats})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	cache := s.wf.Cache()
	if cache == nil {
		s.writeJSON(w, http.StatusOK, CacheClearResponse{})
		return
	}
	removed, err := cache.Clear(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("content cache cleared",
		logging.String(logging.FieldEventType, "cache_cleared"),
		logging.Int64("removed", removed))
	s.writeJSON(w, http.StatusOK, CacheClearResponse{Removed: removed})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status != nil {
		s.writeJSON(w, http.StatusOK, s.status(r.Context()))
		return
	}
	s.writeJSON(w, http.StatusOK, StatusResponse{
		Running:  true,
		PID:      os.Getpid(),
		Stages:   stageNames(s.wf.Registry()),
		Workflow: s.wf.Status(),
	})
}

// stageNames lists the stage ids of reg in run order.
func stageNames(reg *pipeline.Registry) []string {
	if reg == nil {
		return nil
	}
	ids := reg.IDs()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// longPollContext bounds a blocking read by the request and maxLongPoll.
func longPollContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := maxLongPoll
	if value := strings.TrimSpace(r.URL.Query().Get("timeout")); value != "" {
		if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
			timeout = min(time.Duration(secs)*time.Second, maxLongPoll)
		}
	}
	return context.WithTimeout(r.Context(), timeout)
}

func parseBool(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}

// statusFor maps a services marker onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusConflict
	case errors.Is(err, services.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	details := services.Details(err)
	if status >= http.StatusInternalServerError {
		attrs := []logging.Attr{
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
		}
		if id, ok := services.RequestIDFromContext(r.Context()); ok {
			attrs = append(attrs, logging.String(logging.FieldCorrelationID, id))
		}
		logging.ErrorWithContext(s.logger, "api request failed", "api_request_failed", attrs...)
	}
	s.writeJSON(w, status, ErrorResponse{Error: details.Message, Kind: details.Kind})
}
