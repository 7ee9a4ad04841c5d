// Package gateway exposes the tracker over HTTP: a REST API for entities,
// health and metrics endpoints, and a WebSocket stream of audit records.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/basket/trackd/internal/bus"
	"github.com/basket/trackd/internal/entity"
	"github.com/basket/trackd/internal/filter"
	"github.com/basket/trackd/internal/mutate"
	"github.com/basket/trackd/internal/otel"
	"github.com/basket/trackd/internal/persistence"
	"github.com/basket/trackd/internal/query"
	"github.com/basket/trackd/internal/shared"
)

const defaultListLimit = 50

type Config struct {
	Mutator *mutate.Orchestrator
	Query   *query.Service
	Store   *persistence.Store
	Bus     *bus.Bus
	Logger  *slog.Logger

	AuthToken string

	// AllowOrigins controls accepted Origin headers for browser WebSocket
	// connections. Empty list means same-origin only.
	AllowOrigins []string

	// ConfigFingerprint is the hash of the active config exposed in /healthz.
	ConfigFingerprint string

	// AuditFailures reports failed audit emissions since startup.
	AuditFailures func() int64

	Metrics *otel.Metrics
	Tracer  trace.Tracer
}

type Server struct {
	cfg    Config
	logger *slog.Logger

	clientsMu sync.RWMutex
	clients   map[*wsClient]struct{}
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		clients: map[*wsClient]struct{}{},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/ws/audit", s.handleAuditWS)

	mux.HandleFunc("/api/tasks", s.collectionHandler(entity.KindTask))
	mux.HandleFunc("/api/tasks/", s.itemHandler(entity.KindTask, "/api/tasks/"))
	mux.HandleFunc("/api/projects", s.collectionHandler(entity.KindProject))
	mux.HandleFunc("/api/projects/", s.projectItemHandler())
	mux.HandleFunc("/api/insights", s.collectionHandler(entity.KindInsight))
	mux.HandleFunc("/api/insights/", s.itemHandler(entity.KindInsight, "/api/insights/"))

	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	counts, err := s.cfg.Store.EntityCounts(r.Context())
	dbOK := err == nil

	var auditFailures int64
	if s.cfg.AuditFailures != nil {
		auditFailures = s.cfg.AuditFailures()
	}

	payload := map[string]any{
		"healthy":        dbOK,
		"db_ok":          dbOK,
		"config_hash":    s.cfg.ConfigFingerprint,
		"audit_failures": auditFailures,
		"time_unix":      time.Now().Unix(),
	}
	if dbOK {
		payload["tasks_by_status"] = counts.TasksByStatus
		payload["projects"] = counts.Projects
		payload["insights"] = counts.Insights
	}
	w.Header().Set("Content-Type", "application/json")
	if !dbOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	counts, _ := s.cfg.Store.EntityCounts(r.Context())
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)

	var auditFailures int64
	if s.cfg.AuditFailures != nil {
		auditFailures = s.cfg.AuditFailures()
	}

	payload := map[string]any{
		"tasks_by_status": counts.TasksByStatus,
		"projects":        counts.Projects,
		"insights":        counts.Insights,
		"audit_rows":      counts.AuditRows,
		"audit_failures":  auditFailures,
		"ws_clients":      s.clientCount(),
		"alloc_bytes":     mem.Alloc,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// collectionHandler serves GET (list) and POST (create) on a kind's
// collection path.
func (s *Server) collectionHandler(kind entity.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.handleList(w, r, kind)
		case http.MethodPost:
			s.handleCreate(w, r, kind)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// projectItemHandler extends the item routes with GET {id}/summary, which
// returns the project together with its attached task count.
func (s *Server) projectItemHandler() http.HandlerFunc {
	item := s.itemHandler(entity.KindProject, "/api/projects/")
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/projects/")
		if id, ok := strings.CutSuffix(rest, "/summary"); ok && id != "" && !strings.Contains(id, "/") {
			if !s.authorize(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			s.handleProjectSummary(w, r, id)
			return
		}
		item(w, r)
	}
}

func (s *Server) handleProjectSummary(w http.ResponseWriter, r *http.Request, id string) {
	e, err := s.cfg.Query.Get(r.Context(), entity.KindProject, id)
	if err != nil {
		writeError(w, err)
		return
	}
	taskCount, err := s.cfg.Store.TaskCountForProject(r.Context(), id)
	if err != nil {
		writeError(w, &entity.StorageError{Op: "project summary", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project":    e,
		"task_count": taskCount,
	})
}

// itemHandler serves GET, PATCH, and DELETE on a single entity path.
func (s *Server) itemHandler(kind entity.Kind, prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, prefix)
		if id == "" || strings.Contains(id, "/") {
			http.Error(w, "entity id required", http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.handleGet(w, r, kind, id)
		case http.MethodPatch:
			s.handlePatch(w, r, kind, id)
		case http.MethodDelete:
			s.handleDelete(w, r, kind, id)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, kind entity.Kind) {
	started := time.Now()
	criteria, order, page, err := parseListParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.cfg.Query.List(r.Context(), kind, criteria, order, page)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.QueryDuration.Record(r.Context(), time.Since(started).Seconds())
	}

	items := res.Items
	if items == nil {
		items = []entity.Entity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  res.Total,
		"limit":  res.Limit,
		"offset": res.Offset,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, kind entity.Kind, id string) {
	e, err := s.cfg.Query.Get(r.Context(), kind, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, kind entity.Kind) {
	actor := requireActor(w, r)
	if actor == "" {
		return
	}
	var candidate map[string]any
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	ctx, finish := s.mutationContext(r, kind, entity.ActionCreate, actor)
	e, err := s.cfg.Mutator.Create(ctx, kind, candidate, actor)
	finish(err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request, kind entity.Kind, id string) {
	actor := requireActor(w, r)
	if actor == "" {
		return
	}
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	ctx, finish := s.mutationContext(r, kind, entity.ActionUpdate, actor)
	e, err := s.cfg.Mutator.Update(ctx, kind, id, patch, actor)
	finish(err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, kind entity.Kind, id string) {
	actor := requireActor(w, r)
	if actor == "" {
		return
	}
	ctx, finish := s.mutationContext(r, kind, entity.ActionDelete, actor)
	err := s.cfg.Mutator.Delete(ctx, kind, id, actor)
	finish(err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mutationContext stamps a trace id on the request context, opens a span,
// and returns a finish func that records duration and outcome metrics.
func (s *Server) mutationContext(r *http.Request, kind entity.Kind, action entity.Action, actor string) (context.Context, func(error)) {
	traceID := shared.NewTraceID()
	ctx := shared.WithTraceID(r.Context(), traceID)
	ctx = shared.WithActor(ctx, actor)

	var span trace.Span
	if s.cfg.Tracer != nil {
		ctx, span = otel.StartServerSpan(ctx, s.cfg.Tracer, string(action)+" "+string(kind),
			otel.AttrEntityKind.String(string(kind)),
			otel.AttrAction.String(string(action)),
			otel.AttrActor.String(actor),
			otel.AttrTraceID.String(traceID),
		)
	}

	started := time.Now()
	return ctx, func(err error) {
		if span != nil {
			span.End()
		}
		if s.cfg.Metrics == nil {
			return
		}
		s.cfg.Metrics.MutationDuration.Record(ctx, time.Since(started).Seconds())
		if err != nil {
			s.cfg.Metrics.MutationRejects.Add(ctx, 1)
		} else {
			s.cfg.Metrics.MutationsTotal.Add(ctx, 1)
		}
	}
}

// requireActor reads the X-Actor header; a missing actor is a client
// error, not a validation failure inside the pipeline.
func requireActor(w http.ResponseWriter, r *http.Request) string {
	actor := strings.TrimSpace(r.Header.Get("X-Actor"))
	if actor == "" {
		http.Error(w, "X-Actor header required", http.StatusBadRequest)
	}
	return actor
}

func parseListParams(r *http.Request) (filter.Criteria, filter.Order, query.Page, error) {
	q := r.URL.Query()
	var c filter.Criteria
	c.Status = q.Get("status")
	c.ProjectID = q.Get("project_id")
	c.Priority = q.Get("priority")
	c.InsightType = q.Get("type")

	for _, raw := range q["tags"] {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				c.Tags = append(c.Tags, tag)
			}
		}
	}
	if v := q.Get("due_before"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c, filter.Order{}, query.Page{}, &entity.ValidationError{
				Fields: []entity.FieldError{{Field: "due_before", Reason: "must be an RFC3339 timestamp"}},
			}
		}
		c.DueBefore = &ts
	}
	if v := q.Get("due_after"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c, filter.Order{}, query.Page{}, &entity.ValidationError{
				Fields: []entity.FieldError{{Field: "due_after", Reason: "must be an RFC3339 timestamp"}},
			}
		}
		c.DueAfter = &ts
	}
	if v := q.Get("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return c, filter.Order{}, query.Page{}, &entity.ValidationError{
				Fields: []entity.FieldError{{Field: "min_confidence", Reason: "must be a number"}},
			}
		}
		c.MinConfidence = &f
	}

	order := filter.Order{Field: q.Get("order")}
	if v := q.Get("desc"); v != "" {
		order.Desc, _ = strconv.ParseBool(v)
	}

	page := query.Page{Limit: defaultListLimit}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			page.Offset = n
		}
	}
	return c, order, page, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps the error taxonomy to HTTP statuses: invalid input 400,
// rejected transitions and dangling references 409, missing entities 404,
// store failures 503.
func writeError(w http.ResponseWriter, err error) {
	var (
		vErr  *entity.ValidationError
		trErr *entity.TransitionError
		rErr  *entity.ReferenceError
		stErr *entity.StorageError
	)
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": vErr.Fields,
		})
	case errors.As(err, &trErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": trErr.Error(),
			"from":  trErr.From,
			"to":    trErr.To,
		})
	case errors.As(err, &rErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":       rErr.Error(),
			"entity_type": rErr.Kind,
			"entity_id":   rErr.ID,
		})
	case errors.Is(err, entity.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	case errors.As(err, &stErr):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": stErr.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}
