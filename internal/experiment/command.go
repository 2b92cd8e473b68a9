package experiment

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Action identifies one hardware capability exposed to experiment containers.
type Action string

const (
	ActionStatus          Action = "status"
	ActionLED             Action = "led"
	ActionRingLight       Action = "ring_light"
	ActionPeltier         Action = "peltier"
	ActionPump            Action = "pump"
	ActionStirrer         Action = "stirrer"
	ActionReadPhotodiodes Action = "read_photodiodes"
	ActionReadTemperature Action = "read_temperature"
	ActionReadCurrent     Action = "read_current"
)

// Valid reports whether a is a known capability.
func (a Action) Valid() bool {
	switch a {
	case ActionStatus, ActionLED, ActionRingLight, ActionPeltier, ActionPump,
		ActionStirrer, ActionReadPhotodiodes, ActionReadTemperature, ActionReadCurrent:
		return true
	}
	return false
}

// Outcome is the resolution of a hardware command. Every submitted command
// eventually resolves to succeeded or failed.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// HardwareCommand is one request/response pair forwarded to the device tier,
// correlated by ID. Seq is the global arrival sequence number across all
// experiments; the relay processes commands in Seq order, one at a time.
type HardwareCommand struct {
	ID           uuid.UUID       `json:"id"`
	ExperimentID uuid.UUID       `json:"experiment_id"`
	Action       Action          `json:"action"`
	Args         json.RawMessage `json:"args,omitempty"`
	Seq          uint64          `json:"seq"`
	Outcome      Outcome         `json:"outcome"`
	FailureReason string         `json:"failure_reason,omitempty"`
}

// NewHardwareCommand creates a pending command originating from the given
// experiment. The relay assigns Seq on submission.
func NewHardwareCommand(experimentID uuid.UUID, action Action, args json.RawMessage) *HardwareCommand {
	return &HardwareCommand{
		ID:           uuid.New(),
		ExperimentID: experimentID,
		Action:       action,
		Args:         args,
		Outcome:      OutcomePending,
	}
}
