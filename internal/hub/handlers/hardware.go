package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/SomBagchi/bioreactor-website/internal/experiment"
	"github.com/SomBagchi/bioreactor-website/pkg/api"
)

// SubmitHardwareCommand handles POST /internal/experiments/{id}/hardware.
// This endpoint is called from inside experiment containers; it blocks until
// the command resolves through the relay's global FIFO queue.
func (h *Handlers) SubmitHardwareCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req api.HardwareCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cmd, result, err := h.orch.SubmitHardware(r.Context(), id, experiment.Action(req.Action), req.Args)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, experiment.ErrRelayTimeout):
			status = http.StatusGatewayTimeout
		case errors.Is(err, experiment.ErrRelayUnreachable):
			status = http.StatusServiceUnavailable
		case cmd == nil:
			// Rejected before submission: bad action or not running.
			status = http.StatusConflict
		}
		resp := api.HardwareCommandResponse{
			Outcome: string(experiment.OutcomeFailed),
			Error:   err.Error(),
		}
		if cmd != nil {
			resp.CommandID = cmd.ID.String()
		}
		h.respondJson(w, status, resp)
		return
	}

	h.respondJson(w, http.StatusOK, api.HardwareCommandResponse{
		CommandID: cmd.ID.String(),
		Outcome:   string(cmd.Outcome),
		Result:    result,
	})
}
