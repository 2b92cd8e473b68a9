// Package api contains shared JSON request/response structs.
// This package is shared between the CLI, the hub, and experiment containers.
package api

import (
	"encoding/json"
	"time"
)

// SubmitExperimentRequest is the request body for submitting a new experiment script.
type SubmitExperimentRequest struct {
	Script string `json:"script"`
}

// SubmitExperimentResponse is the response body after a script is admitted.
type SubmitExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
}

// ExperimentResponse represents an experiment in API responses.
type ExperimentResponse struct {
	ID        string     `json:"id"`
	State     string     `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Error     *string    `json:"error,omitempty"`
	// Warning carries a non-fatal storage problem attached to an otherwise
	// terminal experiment (e.g. archive packaging failed).
	Warning *string `json:"warning,omitempty"`
}

// HardwareCommandRequest is the payload sent by a running experiment container
// to drive one hardware action through the relay.
type HardwareCommandRequest struct {
	Action string          `json:"action"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// HardwareCommandResponse carries the device's reply for a resolved command.
type HardwareCommandResponse struct {
	CommandID string          `json:"command_id"`
	Outcome   string          `json:"outcome"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ResultsResponse lists the files captured in a finalized archive.
type ResultsResponse struct {
	ExperimentID string   `json:"experiment_id"`
	Files        []string `json:"files"`
}

// HealthResponse reports relay channel health and experiment counts per state.
type HealthResponse struct {
	Status      string         `json:"status"`
	Relay       string         `json:"relay"`
	Experiments map[string]int `json:"experiments"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	// Diagnostics holds per-line validator findings on script rejection.
	Diagnostics []string `json:"diagnostics,omitempty"`
}
