// Package handlers contains HTTP handlers for the hub API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/SomBagchi/bioreactor-website/internal/experiment"
	"github.com/SomBagchi/bioreactor-website/pkg/api"
)

// Orchestrator is the slice of the coordinator the HTTP layer needs.
type Orchestrator interface {
	Submit(ctx context.Context, script string) (*experiment.Experiment, error)
	Get(ctx context.Context, id uuid.UUID) (*experiment.Experiment, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	Results(ctx context.Context, id uuid.UUID) ([]string, error)
	BundlePath(ctx context.Context, id uuid.UUID) (string, error)
	SubmitHardware(ctx context.Context, id uuid.UUID, action experiment.Action, args json.RawMessage) (*experiment.HardwareCommand, json.RawMessage, error)
	Health(ctx context.Context) (relayHealth string, counts map[string]int, err error)
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	orch Orchestrator
}

// New creates a new Handlers instance with the given orchestrator dependency.
func New(orch Orchestrator) *Handlers {
	return &Handlers{orch: orch}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// pathID parses the {id} path segment as an experiment UUID.
func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "invalid experiment id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
