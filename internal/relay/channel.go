// Package relay serializes hardware commands from all running experiments
// onto the single physical device endpoint. Each container sees the illusion
// of an exclusive hardware API; physically there is one global FIFO queue and
// one command in flight at a time.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/SomBagchi/bioreactor-website/internal/experiment"
)

// DeviceChannel is the opaque, reliable, ordered channel to the device tier.
// The production implementation rides on NATS request/reply; tests use a
// mock. Reconnect policy lives inside the implementation; the relay only
// depends on the observable contract of bounded timeout, then explicit failure.
type DeviceChannel interface {
	// Request sends one command and blocks until the device replies or
	// the context expires.
	Request(ctx context.Context, cmd *experiment.HardwareCommand) (json.RawMessage, error)

	// Ping checks channel liveness.
	Ping(ctx context.Context, timeout time.Duration) error

	// Close releases the channel.
	Close()
}
