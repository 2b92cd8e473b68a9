package experiment

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Relay channel faults, scoped to in-flight commands. A broken channel
// degrades the relay globally but never crashes the coordinator.
var (
	// ErrRelayTimeout means the device sent no response within the
	// configured command timeout.
	ErrRelayTimeout = errors.New("hardware relay: command timed out")

	// ErrRelayUnreachable means the device channel is broken; it is also
	// returned for new submissions while the relay is degraded.
	ErrRelayUnreachable = errors.New("hardware relay: device channel unreachable")
)

// ValidationError rejects a script before any resource is committed.
// No experiment record exists for a rejected script.
type ValidationError struct {
	Diagnostics []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("script rejected: %s", strings.Join(e.Diagnostics, "; "))
}

// ProvisioningError is a runtime or resource failure at container creation.
// It is terminal immediately; no container ever starts.
type ProvisioningError struct {
	Reason string
	Err    error
}

func (e *ProvisioningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provisioning failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("provisioning failed: %s", e.Reason)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// CrashKind classifies a container crash.
type CrashKind string

const (
	CrashExit             CrashKind = "nonzero_exit"
	CrashResourceExceeded CrashKind = "resource_exceeded"
)

// ContainerCrashError is a nonzero exit or a resource-limit kill.
type ContainerCrashError struct {
	Kind     CrashKind
	ExitCode int
}

func (e *ContainerCrashError) Error() string {
	if e.Kind == CrashResourceExceeded {
		return fmt.Sprintf("container killed: resource ceiling exceeded (exit %d)", e.ExitCode)
	}
	return fmt.Sprintf("container crashed: exit code %d", e.ExitCode)
}

// ExperimentTimeoutError means the wall-clock limit was exceeded. This is
// supervisor-detected and independent of relay command timeouts.
type ExperimentTimeoutError struct {
	Limit time.Duration
}

func (e *ExperimentTimeoutError) Error() string {
	return fmt.Sprintf("experiment exceeded wall-clock limit of %s", e.Limit)
}

// StorageError is an archive packaging or purge failure. It is reported as a
// warning on a terminal experiment and never blocks the terminal transition.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
