package handlers

import (
	"net/http"

	"github.com/SomBagchi/bioreactor-website/pkg/api"
)

// Healthz is the liveness surface: relay channel health plus the count of
// experiments per state. The hub reports degraded when the device channel is
// down, but keeps serving so running experiments can still be cancelled.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	relayHealth, counts, err := h.orch.Health(r.Context())
	if err != nil {
		h.httpError(w, "health check failed", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.HealthResponse{
		Status:      "ok",
		Relay:       relayHealth,
		Experiments: counts,
	})
}
