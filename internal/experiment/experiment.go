// Package experiment contains the core domain model for the hub: experiment
// records, their lifecycle state machine, hardware commands, and the error
// taxonomy shared by all components.
package experiment

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of an experiment. Transitions are strictly
// forward; no state is ever revisited.
type State string

const (
	StatePending      State = "pending"
	StateValidating   State = "validating"
	StateProvisioning State = "provisioning"
	StateRunning      State = "running"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateTimedOut     State = "timed_out"
	StateCancelled    State = "cancelled"
	StateArchived     State = "archived"
	StatePurged       State = "purged"
)

// validTransitions is the full forward-only transition table.
var validTransitions = map[State][]State{
	StatePending:      {StateValidating},
	StateValidating:   {StateProvisioning, StateFailed},
	StateProvisioning: {StateRunning, StateFailed},
	StateRunning:      {StateCompleted, StateFailed, StateTimedOut, StateCancelled},
	StateCompleted:    {StateArchived},
	StateFailed:       {StateArchived},
	StateTimedOut:     {StateArchived},
	StateCancelled:    {StateArchived},
	StateArchived:     {StatePurged},
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// transition.
func (s State) CanTransitionTo(next State) bool {
	for _, t := range validTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is one of the four terminal outcomes (or past
// them). A terminal experiment is immutable except for archive-retention
// bookkeeping.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateCancelled, StateArchived, StatePurged:
		return true
	}
	return false
}

// Limits are the resource ceilings enforced on a single experiment container.
type Limits struct {
	WallClock   time.Duration `json:"wall_clock"`
	MemoryBytes int64         `json:"memory_bytes"`
	CPUShare    float64       `json:"cpu_share"`
}

// Experiment is one user script's isolated run, from submission to archival.
// Records are persisted on every state transition so retention sweeps and
// status queries survive hub restarts.
type Experiment struct {
	ID         uuid.UUID `json:"id"`
	ScriptPath string    `json:"script_path"`
	State      State     `json:"state"`
	Limits     Limits    `json:"limits"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// ContainerID is the opaque handle of the owning container while one
	// exists; an experiment has at most one non-terminal container.
	ContainerID string `json:"container_id,omitempty"`

	ArchivePath string    `json:"archive_path,omitempty"`
	RetainUntil time.Time `json:"retain_until,omitempty"`

	ExitCode *int    `json:"exit_code,omitempty"`
	Error    *string `json:"error,omitempty"`
	Warning  *string `json:"warning,omitempty"`
}

// New creates a freshly admitted experiment in the pending state.
func New(scriptPath string, limits Limits) *Experiment {
	return &Experiment{
		ID:         uuid.New(),
		ScriptPath: scriptPath,
		State:      StatePending,
		Limits:     limits,
		CreatedAt:  time.Now().UTC(),
	}
}
