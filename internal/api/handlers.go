// Package api exposes HTTP handlers for the territory service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"example.com/territory/internal/auth"
	"example.com/territory/internal/domain"
	perr "example.com/territory/internal/errors"
	"example.com/territory/internal/logger"
	"example.com/territory/internal/persistence"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxBodyBytes    = 8 << 20
)

// Handler coordinates HTTP requests with the domain services.
type Handler struct {
	ingest    *domain.IngestionService
	territory *domain.TerritoryService
}

// NewHandler builds a Handler.
func NewHandler(ingest *domain.IngestionService, territory *domain.TerritoryService) *Handler {
	return &Handler{ingest: ingest, territory: territory}
}

// Routes mounts the versioned endpoints on r. Callers are expected to have authenticated the
// request already.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/v1/runs", func(r chi.Router) {
		r.With(auth.RequireScope(auth.ScopeRunsWrite)).Post("/", h.submitRun)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeRunsRead))
			r.Get("/", h.listRuns)
			r.Get("/{runID}", h.getRun)
			r.Get("/{runID}/loop", h.getLoop)
		})
	})
}

// Healthz reports a simple OK status for container health checks.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) submitRun(w http.ResponseWriter, r *http.Request) {
	var req SubmitRunRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, perr.JSONErrf("unable to parse body: %v", err))
		return
	}

	result, err := h.ingest.Submit(r.Context(), domain.SubmitRunInput{
		ID:           req.ID,
		UserID:       auth.UserID(r.Context()),
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Duration:     req.Duration,
		Distance:     req.Distance,
		ActivityType: req.ActivityType,
		Polyline:     req.Polyline,
		RawData:      req.RawData,
		Metadata:     req.Metadata,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if result.Replay {
		status = http.StatusOK
	}
	writeJSON(w, status, SubmitRunResponse{
		ID:         result.RunID,
		RunStatus:  string(result.Status),
		ReceivedAt: result.ReceivedAt,
		Replay:     result.Replay,
	})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.ingest.GetRun(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunView(*run))
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, r, perr.Validationf("limit", "limit must be a positive integer"))
			return
		}
		limit = min(parsed, maxPageSize)
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, r, perr.Validationf("cursor", "invalid cursor"))
		return
	}

	runs, next, err := h.ingest.ListRuns(r.Context(), auth.UserID(r.Context()), cursor, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]RunView, 0, len(runs))
	for _, run := range runs {
		items = append(items, toRunView(run))
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{Items: items, NextCursor: persistence.EncodeCursor(next)})
}

func (h *Handler) getLoop(w http.ResponseWriter, r *http.Request) {
	loop, err := h.territory.GetLoop(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoopView{
		RunID:         loop.RunID,
		CycleKey:      loop.CycleKey,
		StartIndex:    loop.StartIndex,
		EndIndex:      loop.EndIndex,
		BoundaryCells: loop.Boundary,
		EnclosedCells: loop.Enclosed,
		UpdatedAt:     loop.UpdatedAt,
	})
}

// SubmitRunRequest is the payload for POST /v1/runs.
type SubmitRunRequest struct {
	ID           string            `json:"id"`
	StartTime    string            `json:"start_time"`
	EndTime      string            `json:"end_time"`
	Duration     float64           `json:"duration"`
	Distance     float64           `json:"distance"`
	ActivityType string            `json:"activity_type"`
	Polyline     string            `json:"polyline"`
	RawData      []json.RawMessage `json:"raw_data"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
}

// SubmitRunResponse acknowledges a submission.
type SubmitRunResponse struct {
	ID         string    `json:"id"`
	RunStatus  string    `json:"run_status"`
	ReceivedAt time.Time `json:"received_at"`
	Replay     bool      `json:"idempotent_replay,omitempty"`
}

// RunView exposes a stored run.
type RunView struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time"`
	Duration     float64        `json:"duration"`
	Distance     float64        `json:"distance"`
	ActivityType string         `json:"activity_type,omitempty"`
	Polyline     string         `json:"polyline"`
	Status       string         `json:"status"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ListRunsResponse packages list results.
type ListRunsResponse struct {
	Items      []RunView `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// LoopView exposes the territory captured by a run.
type LoopView struct {
	RunID         string    `json:"run_id"`
	CycleKey      string    `json:"cycle_key"`
	StartIndex    int       `json:"start_index"`
	EndIndex      int       `json:"end_index"`
	BoundaryCells []string  `json:"boundary_cells"`
	EnclosedCells []string  `json:"enclosed_cells"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toRunView(run domain.Run) RunView {
	return RunView{
		ID:           run.ID,
		UserID:       run.UserID,
		StartTime:    run.StartTime,
		EndTime:      run.EndTime,
		Duration:     run.Duration,
		Distance:     run.Distance,
		ActivityType: run.ActivityType,
		Polyline:     run.Polyline,
		Status:       string(run.Status),
		Metadata:     run.Metadata,
		CreatedAt:    run.CreatedAt,
	}
}

// writeError maps err onto the perr wire format. Unclassified failures are logged and hidden.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := perr.HTTP(err)
	if status >= http.StatusInternalServerError {
		logger.C(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		var coded *perr.Error
		if !errors.As(err, &coded) {
			body.Message = http.StatusText(status)
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
