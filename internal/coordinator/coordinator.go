// Package coordinator drives the per-experiment state machine, wiring
// admission, provisioning, the hardware relay, and result collection. It is
// the only component that mutates experiment records.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/SomBagchi/bioreactor-website/internal/collector"
	"github.com/SomBagchi/bioreactor-website/internal/experiment"
	"github.com/SomBagchi/bioreactor-website/internal/experiment/store"
	"github.com/SomBagchi/bioreactor-website/internal/logger"
	"github.com/SomBagchi/bioreactor-website/internal/relay"
	"github.com/SomBagchi/bioreactor-website/internal/supervisor"
	"github.com/SomBagchi/bioreactor-website/internal/validator"
)

// ErrNotFound is returned for unknown experiment IDs.
var ErrNotFound = errors.New("experiment not found")

// Config holds coordinator policy.
type Config struct {
	DataDir         string
	ExperimentImage string
	HubAPIURL       string // injected into containers for hardware calls
	NetworkMode     string
	Limits          experiment.Limits
	SweepInterval   time.Duration
}

// Coordinator owns the experiment registry and the lifecycle of every run.
type Coordinator struct {
	config    Config
	log       *slog.Logger
	validator *validator.Validator
	sup       *supervisor.Supervisor
	relay     *relay.Relay
	collector *collector.Collector
	store     store.Store

	mu   sync.RWMutex
	runs map[uuid.UUID]*run
}

// run is the in-memory side of one live experiment.
type run struct {
	exp       *experiment.Experiment
	container *supervisor.Container

	runCtx          context.Context
	cancel          context.CancelFunc
	cancelRequested atomic.Bool
	done            chan struct{}
}

// New creates a coordinator. Stale non-terminal records from a previous hub
// process are driven to failed/archived so no experiment is ever left in
// running without a container.
func New(config Config, v *validator.Validator, sup *supervisor.Supervisor, rel *relay.Relay, col *collector.Collector, st store.Store, log *slog.Logger) (*Coordinator, error) {
	if config.SweepInterval <= 0 {
		config.SweepInterval = 10 * time.Minute
	}
	c := &Coordinator{
		config:    config,
		log:       log,
		validator: v,
		sup:       sup,
		relay:     rel,
		collector: col,
		store:     st,
		runs:      make(map[uuid.UUID]*run),
	}
	if err := c.recoverStale(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// Start launches the retention sweep loop.
func (c *Coordinator) Start(ctx context.Context) {
	go c.sweepLoop(ctx)
}

// Submit validates a script and, if admitted, creates an experiment and
// starts its run asynchronously. A rejected script returns a
// ValidationError and leaves no record behind.
func (c *Coordinator) Submit(ctx context.Context, script string) (*experiment.Experiment, error) {
	if err := c.validator.Validate(script); err != nil {
		return nil, err
	}

	exp := experiment.New("", c.config.Limits)

	expDir := filepath.Join(c.config.DataDir, "experiments", exp.ID.String())
	if err := os.MkdirAll(filepath.Join(expDir, "output"), 0o755); err != nil {
		return nil, &experiment.ProvisioningError{Reason: "create experiment dir", Err: err}
	}
	scriptPath := filepath.Join(expDir, "main.py")
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return nil, &experiment.ProvisioningError{Reason: "write script", Err: err}
	}
	exp.ScriptPath = scriptPath

	c.mu.Lock()
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		exp:    exp,
		runCtx: runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.runs[exp.ID] = r

	// The script was already screened, so the validating hop is recorded
	// and immediately advanced.
	c.transitionLocked(ctx, exp, experiment.StateValidating)
	c.transitionLocked(ctx, exp, experiment.StateProvisioning)
	c.mu.Unlock()

	go c.runExperiment(r)

	c.log.Info("experiment admitted", "experiment_id", exp.ID)
	return c.snapshot(exp.ID)
}

// Cancel requests cancellation of a running experiment and blocks until the
// run reaches a terminal state (bounded by the termination grace period) or
// the caller's context expires.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID) error {
	c.mu.RLock()
	r, ok := c.runs[id]
	c.mu.RUnlock()
	if !ok {
		// Not live; either unknown or already terminal.
		exp, err := c.store.Get(ctx, id)
		if err != nil {
			return ErrNotFound
		}
		if exp.State.Terminal() {
			return nil
		}
		return fmt.Errorf("experiment %s is not cancellable in state %s", id, exp.State)
	}

	r.cancelRequested.Store(true)
	r.cancel()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitHardware forwards one hardware command from a running experiment's
// container through the relay. The call blocks until the command resolves;
// it is bound to both the caller's context and the experiment's lifetime, so
// cancellation or timeout of the experiment fails its outstanding commands.
func (c *Coordinator) SubmitHardware(ctx context.Context, id uuid.UUID, action experiment.Action, args json.RawMessage) (*experiment.HardwareCommand, json.RawMessage, error) {
	if !action.Valid() {
		return nil, nil, fmt.Errorf("unknown hardware action %q", action)
	}

	c.mu.RLock()
	r, ok := c.runs[id]
	var state experiment.State
	if ok {
		state = r.exp.State
	}
	c.mu.RUnlock()

	if !ok || state != experiment.StateRunning {
		return nil, nil, fmt.Errorf("experiment %s is not running", id)
	}

	cmd := experiment.NewHardwareCommand(id, action, args)

	cmdCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.runCtx, cancel)
	defer stop()

	data, err := c.relay.Submit(cmdCtx, cmd)
	return cmd, data, err
}

// Get returns a point-in-time copy of one experiment record.
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (*experiment.Experiment, error) {
	if exp, err := c.snapshot(id); err == nil {
		return exp, nil
	}
	exp, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, ErrNotFound
	}
	return exp, nil
}

// List returns all known experiment records.
func (c *Coordinator) List(ctx context.Context) ([]*experiment.Experiment, error) {
	return c.store.List(ctx)
}

// Results lists the files of a finalized archive.
func (c *Coordinator) Results(ctx context.Context, id uuid.UUID) ([]string, error) {
	exp, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.ArchivePath == "" {
		return nil, fmt.Errorf("experiment %s has no archive", id)
	}
	return c.collector.ListFiles(exp.ArchivePath)
}

// BundlePath returns the downloadable zip for an archived experiment.
func (c *Coordinator) BundlePath(ctx context.Context, id uuid.UUID) (string, error) {
	exp, err := c.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if exp.ArchivePath == "" {
		return "", fmt.Errorf("experiment %s has no archive", id)
	}
	return c.collector.BundlePath(exp.ArchivePath), nil
}

// Delete serves an explicit deletion request for an archived experiment.
func (c *Coordinator) Delete(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	exp, err := c.store.Get(ctx, id)
	if err != nil {
		return ErrNotFound
	}
	if exp.State != experiment.StateArchived {
		return fmt.Errorf("experiment %s is not archived (state %s)", id, exp.State)
	}
	return c.purgeLocked(ctx, exp)
}

// Health reports relay channel health and experiment counts per state.
func (c *Coordinator) Health(ctx context.Context) (string, map[string]int, error) {
	exps, err := c.store.List(ctx)
	if err != nil {
		return c.relay.Health(), nil, err
	}
	counts := make(map[string]int)
	for _, exp := range exps {
		counts[string(exp.State)]++
	}
	return c.relay.Health(), counts, nil
}

// ActiveExperiments reports the number of live runs, for metrics.
func (c *Coordinator) ActiveExperiments() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.runs)
}

// runExperiment drives one experiment from provisioning to archived.
func (c *Coordinator) runExperiment(r *run) {
	defer close(r.done)

	exp := r.exp
	tracer := otel.Tracer("hub-coordinator")
	ctx, span := tracer.Start(r.runCtx, "run_experiment",
		trace.WithAttributes(attribute.String("experiment.id", exp.ID.String())),
	)
	defer span.End()

	ctx = logger.WithExperimentID(ctx, exp.ID.String())
	log := logger.FromContext(ctx, c.log)

	expDir := filepath.Join(c.config.DataDir, "experiments", exp.ID.String())
	outputDir := filepath.Join(expDir, "output")

	spec := supervisor.Spec{
		Image:   c.config.ExperimentImage,
		Command: []string{"python", "/workspace/main.py"},
		Env: map[string]string{
			"EXPERIMENT_ID":          exp.ID.String(),
			"BIOREACTOR_HUB_API_URL": c.config.HubAPIURL,
		},
		ScriptPath:  exp.ScriptPath,
		OutputDir:   outputDir,
		MemoryBytes: exp.Limits.MemoryBytes,
		CPUShare:    exp.Limits.CPUShare,
		NetworkMode: c.config.NetworkMode,
	}

	container, err := c.sup.Provision(ctx, exp, spec)
	if err != nil {
		if r.cancelRequested.Load() {
			// The run context was cancelled underneath Provision; record
			// the request, not the context error it surfaced as.
			err = errors.New("cancellation requested during provisioning")
		}
		span.RecordError(err)
		c.finishWithoutContainer(exp, err)
		return
	}
	r.container = container

	now := time.Now().UTC()
	c.mu.Lock()
	exp.ContainerID = container.ID()
	exp.StartedAt = &now
	c.transitionLocked(context.Background(), exp, experiment.StateRunning)
	c.mu.Unlock()

	res := <-c.sup.Monitor(ctx, container)

	terminal := experiment.StateFailed
	exitCode := res.ExitCode
	var terminalErr error

	switch {
	case r.cancelRequested.Load() || errors.Is(res.Err, context.Canceled):
		terminal = experiment.StateCancelled

	case res.Err == nil:
		terminal = experiment.StateCompleted

	default:
		var timeoutErr *experiment.ExperimentTimeoutError
		if errors.As(res.Err, &timeoutErr) {
			terminal = experiment.StateTimedOut
		}
		terminalErr = res.Err
		span.RecordError(res.Err)
	}

	// Teardown order: fail this experiment's outstanding relay commands,
	// force the container down, release resources, then make the terminal
	// state visible. Callers never observe a partially-cancelled run.
	r.cancel()
	c.sup.Terminate(context.Background(), container)

	bg := context.Background()
	archivePath, retainUntil, colErr := c.collector.Finalize(bg, exp.ID, container, outputDir, exitCode)

	ended := time.Now().UTC()
	c.mu.Lock()
	exp.EndedAt = &ended
	exp.ExitCode = &exitCode
	if terminalErr != nil {
		msg := terminalErr.Error()
		exp.Error = &msg
	}
	if colErr != nil {
		log.Error("result collection failed", "error", colErr)
		warning := colErr.Error()
		exp.Warning = &warning
	}
	c.transitionLocked(bg, exp, terminal)

	exp.ArchivePath = archivePath
	exp.RetainUntil = retainUntil
	c.transitionLocked(bg, exp, experiment.StateArchived)

	delete(c.runs, exp.ID)
	c.mu.Unlock()

	c.sup.Cleanup(bg, container)
	span.SetAttributes(attribute.Int("exit_code", exitCode), attribute.String("terminal_state", string(terminal)))
	log.Info("experiment finished", "state", terminal, "exit_code", exitCode)
}

// finishWithoutContainer handles validation-time and provisioning-time
// failures: terminal immediately, nothing to collect.
func (c *Coordinator) finishWithoutContainer(exp *experiment.Experiment, cause error) {
	ended := time.Now().UTC()
	msg := cause.Error()

	c.mu.Lock()
	defer c.mu.Unlock()

	exp.EndedAt = &ended
	exp.Error = &msg
	c.transitionLocked(context.Background(), exp, experiment.StateFailed)
	exp.RetainUntil = ended // nothing to retain; purgeable on next sweep
	c.transitionLocked(context.Background(), exp, experiment.StateArchived)
	delete(c.runs, exp.ID)

	c.log.Warn("experiment failed before running", "experiment_id", exp.ID, "error", cause)
}

// transitionLocked applies one forward transition and persists the record.
// Callers hold c.mu.
func (c *Coordinator) transitionLocked(ctx context.Context, exp *experiment.Experiment, next experiment.State) {
	if !exp.State.CanTransitionTo(next) {
		c.log.Error("illegal state transition dropped",
			"experiment_id", exp.ID, "from", exp.State, "to", next)
		return
	}
	exp.State = next
	if err := c.store.Save(ctx, exp); err != nil {
		c.log.Error("failed to persist experiment", "experiment_id", exp.ID, "error", err)
	}
}

// sweepLoop purges archives past their retention deadline.
func (c *Coordinator) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Coordinator) sweep(ctx context.Context) {
	exps, err := c.store.List(ctx)
	if err != nil {
		c.log.Error("retention sweep: list failed", "error", err)
		return
	}

	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, exp := range exps {
		if exp.State != experiment.StateArchived || exp.RetainUntil.After(now) {
			continue
		}
		if err := c.purgeLocked(ctx, exp); err != nil {
			c.log.Error("retention sweep: purge failed", "experiment_id", exp.ID, "error", err)
		}
	}
}

// purgeLocked removes the archive and advances the record to purged.
// Callers hold c.mu.
func (c *Coordinator) purgeLocked(ctx context.Context, exp *experiment.Experiment) error {
	if exp.ArchivePath != "" {
		if err := c.collector.Purge(exp.ArchivePath); err != nil {
			return err
		}
	}
	// The per-experiment work dir (script, raw output) goes with it.
	os.RemoveAll(filepath.Join(c.config.DataDir, "experiments", exp.ID.String()))

	exp.ArchivePath = ""
	c.transitionLocked(ctx, exp, experiment.StatePurged)
	c.log.Info("experiment purged", "experiment_id", exp.ID)
	return nil
}

// recoverStale drives records left non-terminal by a previous hub process to
// failed/archived. Their containers are gone; resources were host-scoped.
func (c *Coordinator) recoverStale(ctx context.Context) error {
	exps, err := c.store.List(ctx)
	if err != nil {
		return err
	}

	for _, exp := range exps {
		if exp.State.Terminal() {
			continue
		}
		msg := "hub restarted while experiment was in flight"
		exp.Error = &msg
		ended := time.Now().UTC()
		exp.EndedAt = &ended
		for !exp.State.Terminal() {
			switch exp.State {
			case experiment.StatePending:
				exp.State = experiment.StateValidating
			case experiment.StateValidating, experiment.StateProvisioning, experiment.StateRunning:
				exp.State = experiment.StateFailed
			}
		}
		exp.RetainUntil = ended
		exp.State = experiment.StateArchived
		if err := c.store.Save(ctx, exp); err != nil {
			return err
		}
		c.log.Warn("recovered stale experiment", "experiment_id", exp.ID)
	}
	return nil
}

// snapshot returns a copy of a live run's record.
func (c *Coordinator) snapshot(id uuid.UUID) (*experiment.Experiment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.exp
	return &cp, nil
}
