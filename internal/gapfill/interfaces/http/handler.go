package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"greenbox-pipeline/internal/gapfill/application"
)

// RunHistory exposes the fill-run audit trail.
type RunHistory interface {
	LatestRun(ctx context.Context, table string) (winningModel string, runAt time.Time, ok bool, err error)
}

// Handler provides the manual gap-fill trigger and run lookup APIs.
type Handler struct {
	runner  *application.Runner
	history RunHistory
}

// NewHandler constructs a handler. history may be nil.
func NewHandler(runner *application.Runner, history RunHistory) (*Handler, error) {
	if runner == nil {
		return nil, errors.New("gapfill handler: nil runner")
	}
	return &Handler{runner: runner, history: history}, nil
}

// ServeHTTP routes gap-fill endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/gapfill/run" && r.Method == http.MethodPost:
		h.handleRun(w, r)
	case r.URL.Path == "/api/v1/gapfill/runs" && r.Method == http.MethodGet:
		h.handleLatestRun(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tables []string `json:"tables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.Tables) == 0 {
		http.Error(w, "tables required", http.StatusBadRequest)
		return
	}

	acc, err := h.runner.RunBatch(r.Context(), req.Tables)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	results := acc.Results()
	type tableResponse struct {
		Table         string  `json:"table"`
		WinningModel  string  `json:"winning_model"`
		Gaps          int     `json:"gaps"`
		FilledMinutes int     `json:"filled_minutes"`
		TotalWh       float64 `json:"total_wh"`
	}
	resp := struct {
		Requested int             `json:"requested"`
		Completed int             `json:"completed"`
		Results   []tableResponse `json:"results"`
	}{
		Requested: len(req.Tables),
		Completed: len(results),
	}
	for _, res := range results {
		resp.Results = append(resp.Results, tableResponse{
			Table:         res.Table,
			WinningModel:  res.WinningModel,
			Gaps:          res.Gaps,
			FilledMinutes: res.FilledMinutes,
			TotalWh:       res.TotalWh,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "run history not available", http.StatusNotImplemented)
		return
	}
	table := r.URL.Query().Get("table")
	if table == "" {
		http.Error(w, "table required", http.StatusBadRequest)
		return
	}
	model, runAt, ok, err := h.history.LatestRun(r.Context(), table)
	if err != nil {
		http.Error(w, "query runs error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no runs recorded", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"table":         table,
		"winning_model": model,
		"run_at":        runAt.Format(time.RFC3339),
	})
}
