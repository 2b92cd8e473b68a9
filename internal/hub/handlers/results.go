package handlers

import (
	"net/http"

	"github.com/SomBagchi/bioreactor-website/pkg/api"
)

// GetResults handles GET /api/experiments/{id}/results.
func (h *Handlers) GetResults(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	files, err := h.orch.Results(r.Context(), id)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusNotFound)
		return
	}

	h.respondJson(w, http.StatusOK, api.ResultsResponse{
		ExperimentID: id.String(),
		Files:        files,
	})
}

// DownloadBundle handles GET /api/experiments/{id}/results/bundle.
func (h *Handlers) DownloadBundle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	path, err := h.orch.BundlePath(r.Context(), id)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="results.zip"`)
	http.ServeFile(w, r, path)
}
