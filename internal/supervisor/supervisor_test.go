package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SomBagchi/bioreactor-website/internal/experiment"
)

// mockHandle is a Handle with pluggable behavior.
type mockHandle struct {
	id         string
	waitFunc   func(ctx context.Context) (ExitResult, error)
	stopFunc   func(ctx context.Context, grace time.Duration) error
	killFunc   func(ctx context.Context) error
	outputFunc func(ctx context.Context) ([]byte, []byte, error)
	removeFunc func(ctx context.Context) error

	stopCalls   atomic.Int32
	killCalls   atomic.Int32
	removeCalls atomic.Int32
}

func (m *mockHandle) ID() string {
	if m.id == "" {
		return "container-1"
	}
	return m.id
}

func (m *mockHandle) Wait(ctx context.Context) (ExitResult, error) {
	if m.waitFunc != nil {
		return m.waitFunc(ctx)
	}
	return ExitResult{ExitCode: 0}, nil
}

func (m *mockHandle) Stop(ctx context.Context, grace time.Duration) error {
	m.stopCalls.Add(1)
	if m.stopFunc != nil {
		return m.stopFunc(ctx, grace)
	}
	return nil
}

func (m *mockHandle) Kill(ctx context.Context) error {
	m.killCalls.Add(1)
	if m.killFunc != nil {
		return m.killFunc(ctx)
	}
	return nil
}

func (m *mockHandle) Output(ctx context.Context) ([]byte, []byte, error) {
	if m.outputFunc != nil {
		return m.outputFunc(ctx)
	}
	return []byte("out"), []byte("err"), nil
}

func (m *mockHandle) Remove(ctx context.Context) error {
	m.removeCalls.Add(1)
	if m.removeFunc != nil {
		return m.removeFunc(ctx)
	}
	return nil
}

// mockRuntime is a Runtime with a pluggable provision function.
type mockRuntime struct {
	provisionFunc func(ctx context.Context, spec Spec) (Handle, error)
}

func (m *mockRuntime) Provision(ctx context.Context, spec Spec) (Handle, error) {
	if m.provisionFunc != nil {
		return m.provisionFunc(ctx, spec)
	}
	return &mockHandle{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSpec(mem int64, cpu float64) Spec {
	return Spec{
		Image:       "bioreactor-user-experiment:latest",
		MemoryBytes: mem,
		CPUShare:    cpu,
	}
}

func testExperiment(mem int64, cpu float64) *experiment.Experiment {
	return experiment.New("main.py", experiment.Limits{
		MemoryBytes: mem,
		CPUShare:    cpu,
	})
}

func TestProvision_ReservesResources(t *testing.T) {
	s := New(&mockRuntime{}, Config{AggregateMemoryBytes: 4 << 30, AggregateCPU: 4.0}, testLogger())

	c, err := s.Provision(context.Background(), testExperiment(512<<20, 1.0), testSpec(512<<20, 1.0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mem, cpu := s.Committed()
	if mem != 512<<20 || cpu != 1.0 {
		t.Errorf("expected (512MiB, 1.0) committed, got (%d, %f)", mem, cpu)
	}

	s.Cleanup(context.Background(), c)
	mem, cpu = s.Committed()
	if mem != 0 || cpu != 0 {
		t.Errorf("expected zero commitment after cleanup, got (%d, %f)", mem, cpu)
	}
}

func TestProvision_RefusesBeyondMemoryCeiling(t *testing.T) {
	s := New(&mockRuntime{}, Config{AggregateMemoryBytes: 1 << 30, AggregateCPU: 4.0}, testLogger())

	if _, err := s.Provision(context.Background(), testExperiment(768<<20, 1.0), testSpec(768<<20, 1.0)); err != nil {
		t.Fatalf("first provision should succeed: %v", err)
	}

	_, err := s.Provision(context.Background(), testExperiment(512<<20, 1.0), testSpec(512<<20, 1.0))
	var perr *experiment.ProvisioningError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProvisioningError, got %v", err)
	}

	// The failed provision must not leak any reservation.
	mem, _ := s.Committed()
	if mem != 768<<20 {
		t.Errorf("failed provision leaked reservation: %d bytes committed", mem)
	}
}

func TestProvision_RefusesBeyondCPUCeiling(t *testing.T) {
	s := New(&mockRuntime{}, Config{AggregateMemoryBytes: 4 << 30, AggregateCPU: 2.0}, testLogger())

	if _, err := s.Provision(context.Background(), testExperiment(1<<20, 1.5), testSpec(1<<20, 1.5)); err != nil {
		t.Fatalf("first provision should succeed: %v", err)
	}
	if _, err := s.Provision(context.Background(), testExperiment(1<<20, 1.0), testSpec(1<<20, 1.0)); err == nil {
		t.Fatal("expected CPU ceiling refusal")
	}
}

func TestProvision_RuntimeFailureReturnsReservation(t *testing.T) {
	rt := &mockRuntime{
		provisionFunc: func(ctx context.Context, spec Spec) (Handle, error) {
			return nil, errors.New("image pull failed")
		},
	}
	s := New(rt, Config{AggregateMemoryBytes: 4 << 30, AggregateCPU: 4.0}, testLogger())

	_, err := s.Provision(context.Background(), testExperiment(512<<20, 1.0), testSpec(512<<20, 1.0))
	var perr *experiment.ProvisioningError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProvisioningError, got %v", err)
	}

	mem, cpu := s.Committed()
	if mem != 0 || cpu != 0 {
		t.Errorf("runtime failure leaked reservation: (%d, %f)", mem, cpu)
	}
}

func TestMonitor_CleanExit(t *testing.T) {
	h := &mockHandle{
		waitFunc: func(ctx context.Context) (ExitResult, error) {
			return ExitResult{ExitCode: 0}, nil
		},
	}
	s, c := provisioned(t, h)
	defer s.Cleanup(context.Background(), c)

	res := <-s.Monitor(context.Background(), c)
	if res.Err != nil {
		t.Errorf("expected nil error for clean exit, got %v", res.Err)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
}

func TestMonitor_NonzeroExitIsCrash(t *testing.T) {
	h := &mockHandle{
		waitFunc: func(ctx context.Context) (ExitResult, error) {
			return ExitResult{ExitCode: 3}, nil
		},
	}
	s, c := provisioned(t, h)
	defer s.Cleanup(context.Background(), c)

	res := <-s.Monitor(context.Background(), c)
	var cerr *experiment.ContainerCrashError
	if !errors.As(res.Err, &cerr) {
		t.Fatalf("expected ContainerCrashError, got %v", res.Err)
	}
	if cerr.Kind != experiment.CrashExit || cerr.ExitCode != 3 {
		t.Errorf("unexpected crash classification: %+v", cerr)
	}
}

func TestMonitor_OOMKillIsResourceExceeded(t *testing.T) {
	h := &mockHandle{
		waitFunc: func(ctx context.Context) (ExitResult, error) {
			return ExitResult{ExitCode: 137, OOMKilled: true}, nil
		},
	}
	s, c := provisioned(t, h)
	defer s.Cleanup(context.Background(), c)

	res := <-s.Monitor(context.Background(), c)
	var cerr *experiment.ContainerCrashError
	if !errors.As(res.Err, &cerr) {
		t.Fatalf("expected ContainerCrashError, got %v", res.Err)
	}
	if cerr.Kind != experiment.CrashResourceExceeded {
		t.Errorf("expected resource_exceeded kind, got %s", cerr.Kind)
	}
}

func TestMonitor_WallClockTimeout(t *testing.T) {
	h := &mockHandle{
		waitFunc: func(ctx context.Context) (ExitResult, error) {
			<-ctx.Done()
			return ExitResult{}, ctx.Err()
		},
	}
	rt := &mockRuntime{provisionFunc: func(ctx context.Context, spec Spec) (Handle, error) { return h, nil }}
	s := New(rt, Config{AggregateMemoryBytes: 1 << 30, AggregateCPU: 2.0, TerminationGrace: time.Millisecond}, testLogger())

	exp := testExperiment(1<<20, 0.5)
	exp.Limits.WallClock = 20 * time.Millisecond
	c, err := s.Provision(context.Background(), exp, testSpec(1<<20, 0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := <-s.Monitor(context.Background(), c)
	var terr *experiment.ExperimentTimeoutError
	if !errors.As(res.Err, &terr) {
		t.Fatalf("expected ExperimentTimeoutError, got %v", res.Err)
	}
	if terr.Limit != 20*time.Millisecond {
		t.Errorf("unexpected limit in error: %s", terr.Limit)
	}

	// Timeout path terminates the container and returns the reservation.
	if h.stopCalls.Load() == 0 {
		t.Error("expected Stop to be called on timeout")
	}
	mem, _ := s.Committed()
	if mem != 0 {
		t.Errorf("timeout did not release reservation: %d bytes committed", mem)
	}
}

func TestMonitor_ContextCancellation(t *testing.T) {
	h := &mockHandle{
		waitFunc: func(ctx context.Context) (ExitResult, error) {
			<-ctx.Done()
			return ExitResult{}, ctx.Err()
		},
	}
	s, c := provisioned(t, h)
	defer s.Cleanup(context.Background(), c)

	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Monitor(ctx, c)
	cancel()

	res := <-ch
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", res.Err)
	}
	// Cancellation does not terminate here; that is the caller's job.
	if h.stopCalls.Load() != 0 || h.killCalls.Load() != 0 {
		t.Error("monitor should not terminate on caller cancellation")
	}
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	h := &mockHandle{
		stopFunc: func(ctx context.Context, grace time.Duration) error {
			return errors.New("container unresponsive")
		},
	}
	s, c := provisioned(t, h)

	s.Terminate(context.Background(), c)

	if h.stopCalls.Load() != 1 {
		t.Errorf("expected 1 stop call, got %d", h.stopCalls.Load())
	}
	if h.killCalls.Load() != 1 {
		t.Errorf("expected kill escalation, got %d kill calls", h.killCalls.Load())
	}
}

func TestTerminate_ThenCleanupReleasesOnce(t *testing.T) {
	h := &mockHandle{}
	s, c := provisioned(t, h)

	s.Terminate(context.Background(), c)
	s.Terminate(context.Background(), c)
	s.Cleanup(context.Background(), c)

	mem, cpu := s.Committed()
	if mem != 0 || cpu != 0 {
		t.Errorf("double release corrupted accounting: (%d, %f)", mem, cpu)
	}
	if h.removeCalls.Load() != 1 {
		t.Errorf("expected 1 remove call, got %d", h.removeCalls.Load())
	}
}

func provisioned(t *testing.T, h *mockHandle) (*Supervisor, *Container) {
	t.Helper()
	rt := &mockRuntime{provisionFunc: func(ctx context.Context, spec Spec) (Handle, error) { return h, nil }}
	s := New(rt, Config{AggregateMemoryBytes: 1 << 30, AggregateCPU: 2.0, TerminationGrace: time.Millisecond}, testLogger())
	c, err := s.Provision(context.Background(), testExperiment(64<<20, 0.5), testSpec(64<<20, 0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s, c
}
