package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/SomBagchi/bioreactor-website/internal/coordinator"
	"github.com/SomBagchi/bioreactor-website/internal/experiment"
	"github.com/SomBagchi/bioreactor-website/pkg/api"
)

// SubmitExperiment handles POST /api/experiments.
// A script that fails admission is rejected with diagnostics and no
// experiment record is created.
func (h *Handlers) SubmitExperiment(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	exp, err := h.orch.Submit(r.Context(), req.Script)
	if err != nil {
		var vErr *experiment.ValidationError
		if errors.As(err, &vErr) {
			h.respondJson(w, http.StatusUnprocessableEntity, api.ErrorResponse{
				Error:       "script rejected",
				Code:        strconv.Itoa(http.StatusUnprocessableEntity),
				Diagnostics: vErr.Diagnostics,
			})
			return
		}
		h.httpError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusAccepted, api.SubmitExperimentResponse{
		ExperimentID: exp.ID.String(),
	})
}

// GetExperiment handles GET /api/experiments/{id}.
func (h *Handlers) GetExperiment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	exp, err := h.orch.Get(r.Context(), id)
	if err != nil {
		h.httpError(w, "experiment not found", http.StatusNotFound)
		return
	}

	h.respondJson(w, http.StatusOK, toExperimentResponse(exp))
}

// CancelExperiment handles POST /api/experiments/{id}/cancel.
func (h *Handlers) CancelExperiment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.orch.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, coordinator.ErrNotFound) {
			h.httpError(w, "experiment not found", http.StatusNotFound)
			return
		}
		h.httpError(w, err.Error(), http.StatusConflict)
		return
	}

	exp, err := h.orch.Get(r.Context(), id)
	if err != nil {
		h.httpError(w, "experiment not found", http.StatusNotFound)
		return
	}
	h.respondJson(w, http.StatusOK, toExperimentResponse(exp))
}

// DeleteExperiment handles DELETE /api/experiments/{id}.
func (h *Handlers) DeleteExperiment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.orch.Delete(r.Context(), id); err != nil {
		if errors.Is(err, coordinator.ErrNotFound) {
			h.httpError(w, "experiment not found", http.StatusNotFound)
			return
		}
		h.httpError(w, err.Error(), http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toExperimentResponse(exp *experiment.Experiment) api.ExperimentResponse {
	return api.ExperimentResponse{
		ID:        exp.ID.String(),
		State:     string(exp.State),
		CreatedAt: exp.CreatedAt,
		StartedAt: exp.StartedAt,
		EndedAt:   exp.EndedAt,
		ExitCode:  exp.ExitCode,
		Error:     exp.Error,
		Warning:   exp.Warning,
	}
}
