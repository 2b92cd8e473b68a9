// Package supervisor creates, resource-limits, monitors, and tears down one
// isolated execution environment per running experiment.
package supervisor

import (
	"context"
	"time"
)

// Runtime is the interface to the container backend. The production
// implementation is Docker; tests use a mock.
type Runtime interface {
	// Provision creates and starts an isolated container for one
	// experiment script and returns a handle to it.
	Provision(ctx context.Context, spec Spec) (Handle, error)
}

// Spec describes the isolated environment for one experiment container:
// read-only rootfs, a single writable output bind, no network reachability
// except the hub relay endpoint, and hard memory/CPU ceilings.
type Spec struct {
	Image       string
	Command     []string
	Env         map[string]string
	ScriptPath  string // host path, bound read-only into the container
	OutputDir   string // host path, the only writable bind
	MemoryBytes int64
	CPUShare    float64
	NetworkMode string
}

// ExitResult is the observed end of a container.
type ExitResult struct {
	ExitCode  int
	OOMKilled bool
	Err       error
}

// Handle represents one provisioned container.
type Handle interface {
	// ID returns the opaque container identifier.
	ID() string

	// Wait blocks until the container exits.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop requests a clean stop, waiting up to grace before giving up.
	Stop(ctx context.Context, grace time.Duration) error

	// Kill forcibly terminates the container.
	Kill(ctx context.Context) error

	// Output returns the captured stdout and stderr streams. Valid only
	// after the container has exited or been killed.
	Output(ctx context.Context) (stdout, stderr []byte, err error)

	// Remove deletes the container object from the backend.
	Remove(ctx context.Context) error
}
