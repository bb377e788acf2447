package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-radar/internal/radar"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ingest handles POST /v1/ingest?limit=N. The run outlives a disconnected
// client once merging has started.
func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIngestLimit(r, s.opts.DefaultIngestLimit, s.opts.MaxIngestLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.deps.Ingester.Ingest(r.Context(), limit)
	switch {
	case errors.Is(err, radar.ErrInvalidLimit):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, radar.ErrIngestInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error("ingest failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "ingest aborted",
			"run":   report.Run,
		})
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

// listEntities handles GET /v1/entities?sort=&limit=&offset=.
func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	sortKey := r.URL.Query().Get("sort")
	if sortKey == "" {
		sortKey = radar.SortScore
	}
	if !radar.ValidSort(sortKey) {
		writeError(w, http.StatusBadRequest, "invalid sort")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	entities, err := s.deps.Entities.List(ctx, radar.ListOptions{Sort: sortKey, Limit: limit, Offset: offset})
	if err != nil {
		s.logger.Error("list entities failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list entities")
		return
	}
	if entities == nil {
		entities = []radar.Entity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

// getEntity handles GET /v1/entities/{id}.
func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	entity, err := s.deps.Entities.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err, "entity not found", "failed to load entity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": entity})
}

// evaluate handles POST /v1/entities/{id}/evaluate?full=true|false.
func (s *Server) evaluate(w http.ResponseWriter, r *http.Request) {
	full := false
	if raw := r.URL.Query().Get("full"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid full")
			return
		}
		full = v
	}
	ev, err := s.deps.Evaluations.Request(r.Context(), chi.URLParam(r, "id"), full)
	if err != nil {
		s.storeError(w, err, "entity not found", "failed to evaluate entity")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"evaluation": ev})
}

// listEvaluations handles GET /v1/entities/{id}/evaluations.
func (s *Server) listEvaluations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	evs, err := s.deps.Evaluations.List(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err, "entity not found", "failed to list evaluations")
		return
	}
	if evs == nil {
		evs = []radar.Evaluation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"evaluations": evs})
}

// listRuns handles GET /v1/runs?limit=&offset=. It returns 503 when no run
// store is configured.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	runs, err := s.deps.Runs.ListRuns(ctx, limit, offset)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []radar.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// getRun handles GET /v1/runs/{id}.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	run, err := s.deps.Runs.GetRun(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err, "run not found", "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) storeError(w http.ResponseWriter, err error, notFound, internal string) {
	if errors.Is(err, radar.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	s.logger.Error(internal, zap.Error(err))
	writeError(w, http.StatusInternalServerError, internal)
}

func parseIngestLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, radar.ErrInvalidLimit
	}
	return min(val, maxLimit), nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
