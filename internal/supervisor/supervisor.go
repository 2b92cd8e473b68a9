package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SomBagchi/bioreactor-website/internal/experiment"
)

// Config holds the supervisor-wide resource policy.
type Config struct {
	// AggregateMemoryBytes and AggregateCPU cap the total resources
	// committed across all running containers. Provisioning beyond either
	// ceiling fails instead of oversubscribing.
	AggregateMemoryBytes int64
	AggregateCPU         float64

	// TerminationGrace is how long a container gets to exit cleanly
	// before the kill escalation.
	TerminationGrace time.Duration
}

// Supervisor owns container provisioning and teardown. Access to the shared
// resource accounting is serialized by its mutex; container operations
// themselves run independently per experiment.
type Supervisor struct {
	runtime Runtime
	config  Config
	log     *slog.Logger

	mu           sync.Mutex
	committedMem int64
	committedCPU float64
}

// Container couples a runtime handle with its reservation. Resources are
// released exactly once regardless of which path terminates the container.
type Container struct {
	ExperimentID uuid.UUID
	Limits       experiment.Limits

	handle     Handle
	supervisor *Supervisor
	release    sync.Once
}

// ID returns the opaque container identifier.
func (c *Container) ID() string { return c.handle.ID() }

// Output exposes the captured stdout/stderr of the exited container.
func (c *Container) Output(ctx context.Context) (stdout, stderr []byte, err error) {
	return c.handle.Output(ctx)
}

// MonitorResult reports how a monitored container ended. Err is nil for a
// clean zero exit; otherwise it is one of the taxonomy errors.
type MonitorResult struct {
	ExitCode int
	Err      error
}

// New creates a supervisor on top of the given runtime.
func New(rt Runtime, config Config, log *slog.Logger) *Supervisor {
	if config.TerminationGrace <= 0 {
		config.TerminationGrace = 10 * time.Second
	}
	return &Supervisor{
		runtime: rt,
		config:  config,
		log:     log,
	}
}

// Provision reserves resources against the aggregate ceilings and creates an
// isolated container. On any failure the reservation is returned and a
// ProvisioningError surfaces to the caller.
func (s *Supervisor) Provision(ctx context.Context, exp *experiment.Experiment, spec Spec) (*Container, error) {
	if err := s.reserve(spec.MemoryBytes, spec.CPUShare); err != nil {
		return nil, err
	}

	handle, err := s.runtime.Provision(ctx, spec)
	if err != nil {
		s.unreserve(spec.MemoryBytes, spec.CPUShare)
		return nil, &experiment.ProvisioningError{Reason: "runtime", Err: err}
	}

	s.log.Info("container provisioned",
		"experiment_id", exp.ID,
		"container_id", handle.ID(),
		"memory_bytes", spec.MemoryBytes,
		"cpu_share", spec.CPUShare)

	return &Container{
		ExperimentID: exp.ID,
		Limits:       exp.Limits,
		handle:       handle,
		supervisor:   s,
	}, nil
}

// Monitor observes the container asynchronously and delivers exactly one
// MonitorResult: a clean exit, a crash, a resource-ceiling kill, or a
// wall-clock timeout. On ceiling/timeout the container is forcibly
// terminated before the result is delivered.
func (s *Supervisor) Monitor(ctx context.Context, c *Container) <-chan MonitorResult {
	results := make(chan MonitorResult, 1)

	go func() {
		waitCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		type waitOutcome struct {
			result ExitResult
			err    error
		}
		waitCh := make(chan waitOutcome, 1)
		go func() {
			result, err := c.handle.Wait(waitCtx)
			waitCh <- waitOutcome{result, err}
		}()

		var timeout <-chan time.Time
		if c.Limits.WallClock > 0 {
			timer := time.NewTimer(c.Limits.WallClock)
			defer timer.Stop()
			timeout = timer.C
		}

		select {
		case w := <-waitCh:
			results <- s.classify(w.result, w.err)

		case <-timeout:
			s.log.Warn("wall-clock limit exceeded, terminating",
				"experiment_id", c.ExperimentID, "limit", c.Limits.WallClock)
			s.Terminate(context.Background(), c)
			results <- MonitorResult{
				ExitCode: -1,
				Err:      &experiment.ExperimentTimeoutError{Limit: c.Limits.WallClock},
			}

		case <-ctx.Done():
			// The coordinator cancelled the run; it owns termination.
			results <- MonitorResult{ExitCode: -1, Err: ctx.Err()}
		}
	}()

	return results
}

func (s *Supervisor) classify(result ExitResult, err error) MonitorResult {
	if result.OOMKilled {
		return MonitorResult{
			ExitCode: result.ExitCode,
			Err:      &experiment.ContainerCrashError{Kind: experiment.CrashResourceExceeded, ExitCode: result.ExitCode},
		}
	}
	if err != nil {
		return MonitorResult{ExitCode: -1, Err: err}
	}
	if result.ExitCode != 0 {
		return MonitorResult{
			ExitCode: result.ExitCode,
			Err:      &experiment.ContainerCrashError{Kind: experiment.CrashExit, ExitCode: result.ExitCode},
		}
	}
	return MonitorResult{ExitCode: 0}
}

// Terminate is an idempotent forced stop: a clean stop bounded by the grace
// period, then a hard kill. The reservation is released before returning,
// even if the container is unresponsive.
func (s *Supervisor) Terminate(ctx context.Context, c *Container) {
	stopCtx, cancel := context.WithTimeout(ctx, s.config.TerminationGrace+5*time.Second)
	defer cancel()

	if err := c.handle.Stop(stopCtx, s.config.TerminationGrace); err != nil {
		s.log.Warn("clean stop failed, escalating to kill",
			"experiment_id", c.ExperimentID, "error", err)
		if err := c.handle.Kill(stopCtx); err != nil {
			s.log.Error("kill failed", "experiment_id", c.ExperimentID, "error", err)
		}
	}

	s.releaseReservation(c)
}

// Cleanup removes the container object after results have been collected and
// releases the reservation if Terminate never ran (normal exit path).
func (s *Supervisor) Cleanup(ctx context.Context, c *Container) {
	s.releaseReservation(c)
	if err := c.handle.Remove(ctx); err != nil {
		s.log.Warn("container remove failed", "experiment_id", c.ExperimentID, "error", err)
	}
}

func (s *Supervisor) releaseReservation(c *Container) {
	c.release.Do(func() {
		s.unreserve(c.Limits.MemoryBytes, c.Limits.CPUShare)
	})
}

// Committed reports the currently reserved aggregate resources.
func (s *Supervisor) Committed() (memoryBytes int64, cpu float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committedMem, s.committedCPU
}

func (s *Supervisor) reserve(mem int64, cpu float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.AggregateMemoryBytes > 0 && s.committedMem+mem > s.config.AggregateMemoryBytes {
		return &experiment.ProvisioningError{
			Reason: fmt.Sprintf("aggregate memory ceiling: %d of %d bytes committed",
				s.committedMem, s.config.AggregateMemoryBytes),
		}
	}
	if s.config.AggregateCPU > 0 && s.committedCPU+cpu > s.config.AggregateCPU {
		return &experiment.ProvisioningError{
			Reason: fmt.Sprintf("aggregate CPU ceiling: %.2f of %.2f committed",
				s.committedCPU, s.config.AggregateCPU),
		}
	}

	s.committedMem += mem
	s.committedCPU += cpu
	return nil
}

func (s *Supervisor) unreserve(mem int64, cpu float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committedMem -= mem
	s.committedCPU -= cpu
}
