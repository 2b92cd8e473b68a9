package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/SomBagchi/bioreactor-website/internal/experiment"
)

// mockChannel is a DeviceChannel with pluggable behavior.
type mockChannel struct {
	requestFunc func(ctx context.Context, cmd *experiment.HardwareCommand) (json.RawMessage, error)
	pingFunc    func(ctx context.Context, timeout time.Duration) error
}

func (m *mockChannel) Request(ctx context.Context, cmd *experiment.HardwareCommand) (json.RawMessage, error) {
	if m.requestFunc != nil {
		return m.requestFunc(ctx, cmd)
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (m *mockChannel) Ping(ctx context.Context, timeout time.Duration) error {
	if m.pingFunc != nil {
		return m.pingFunc(ctx, timeout)
	}
	return nil
}

func (m *mockChannel) Close() {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCommand(action experiment.Action) *experiment.HardwareCommand {
	return experiment.NewHardwareCommand(uuid.New(), action, nil)
}

func TestSubmit_Success(t *testing.T) {
	ch := &mockChannel{
		requestFunc: func(ctx context.Context, cmd *experiment.HardwareCommand) (json.RawMessage, error) {
			return json.RawMessage(`{"temperature":37.2}`), nil
		},
	}
	r := New(ch, Config{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	cmd := newCommand(experiment.ActionReadTemperature)
	data, err := r.Submit(context.Background(), cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"temperature":37.2}` {
		t.Errorf("unexpected result: %s", data)
	}
	if cmd.Outcome != experiment.OutcomeSucceeded {
		t.Errorf("expected succeeded outcome, got %s", cmd.Outcome)
	}
	if cmd.Seq == 0 {
		t.Error("expected seq to be assigned")
	}
}

func TestSubmit_DispatchesInArrivalOrder(t *testing.T) {
	// received observes the order commands reach the device; the gate keeps
	// the dispatcher busy so later submissions pile up in the queue.
	received := make(chan experiment.Action, 8)
	gate := make(chan struct{})
	ch := &mockChannel{
		requestFunc: func(ctx context.Context, cmd *experiment.HardwareCommand) (json.RawMessage, error) {
			received <- cmd.Action
			<-gate
			return nil, nil
		},
	}
	r := New(ch, Config{SubmitTimeout: 5 * time.Second}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	actions := []experiment.Action{
		experiment.ActionLED,
		experiment.ActionPump,
		experiment.ActionStirrer,
		experiment.ActionReadCurrent,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Submit(context.Background(), newCommand(actions[0]))
	}()

	// Wait until the first command holds the dispatcher, then enqueue the
	// rest one at a time so arrival order is deterministic.
	first := <-received
	for i, a := range actions[1:] {
		wg.Add(1)
		a := a
		go func() {
			defer wg.Done()
			r.Submit(context.Background(), newCommand(a))
		}()
		depth := i + 1
		waitFor(t, func() bool { return r.QueueDepth() >= depth })
	}

	close(gate)
	wg.Wait()
	close(received)

	got := []experiment.Action{first}
	for a := range received {
		got = append(got, a)
	}
	if len(got) != len(actions) {
		t.Fatalf("expected %d dispatches, got %d", len(actions), len(got))
	}
	for i := range actions {
		if got[i] != actions[i] {
			t.Errorf("dispatch %d: expected %s, got %s", i, actions[i], got[i])
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestSubmit_OneCommandInFlightAtATime(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	ch := &mockChannel{
		requestFunc: func(ctx context.Context, cmd *experiment.HardwareCommand) (json.RawMessage, error) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			return nil, nil
		},
	}
	r := New(ch, Config{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Submit(context.Background(), newCommand(experiment.ActionStatus))
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxInFlight != 1 {
		t.Errorf("expected at most 1 command in flight, saw %d", maxInFlight)
	}
}

func TestSubmit_CommandTimeout(t *testing.T) {
	ch := &mockChannel{
		requestFunc: func(ctx context.Context, cmd *experiment.HardwareCommand) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	r := New(ch, Config{CommandTimeout: 20 * time.Millisecond}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	cmd := newCommand(experiment.ActionPeltier)
	_, err := r.Submit(context.Background(), cmd)
	if !errors.Is(err, experiment.ErrRelayTimeout) {
		t.Fatalf("expected ErrRelayTimeout, got %v", err)
	}
	if cmd.Outcome != experiment.OutcomeFailed {
		t.Errorf("expected failed outcome, got %s", cmd.Outcome)
	}
	// A timed-out command does not degrade the relay.
	if r.Health() != HealthHealthy {
		t.Errorf("timeout should not degrade the relay, health = %s", r.Health())
	}
}

func TestSubmit_CallerCancellation(t *testing.T) {
	ch := &mockChannel{
		requestFunc: func(ctx context.Context, cmd *experiment.HardwareCommand) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	r := New(ch, Config{CommandTimeout: time.Minute}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	callerCtx, callerCancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		callerCancel()
	}()

	_, err := r.Submit(callerCtx, newCommand(experiment.ActionLED))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSubmit_UnreachableDegradesRelay(t *testing.T) {
	ch := &mockChannel{
		requestFunc: func(ctx context.Context, cmd *experiment.HardwareCommand) (json.RawMessage, error) {
			return nil, experiment.ErrRelayUnreachable
		},
		pingFunc: func(ctx context.Context, timeout time.Duration) error {
			return errors.New("no responders")
		},
	}
	r := New(ch, Config{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	_, err := r.Submit(context.Background(), newCommand(experiment.ActionPump))
	if !errors.Is(err, experiment.ErrRelayUnreachable) {
		t.Fatalf("expected ErrRelayUnreachable, got %v", err)
	}
	if r.Health() != HealthDegraded {
		t.Errorf("expected degraded health, got %s", r.Health())
	}

	// While degraded, submissions fail fast without reaching the device.
	cmd := newCommand(experiment.ActionStirrer)
	_, err = r.Submit(context.Background(), cmd)
	if !errors.Is(err, experiment.ErrRelayUnreachable) {
		t.Fatalf("expected fast failure while degraded, got %v", err)
	}
	if cmd.Seq != 0 {
		t.Error("degraded-mode rejection should not assign a seq")
	}
}

func TestKeepalive_DegradesAndRecovers(t *testing.T) {
	var mu sync.Mutex
	healthy := false

	ch := &mockChannel{
		pingFunc: func(ctx context.Context, timeout time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			if !healthy {
				return errors.New("connection refused")
			}
			return nil
		},
	}
	r := New(ch, Config{KeepaliveInterval: 5 * time.Millisecond}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	waitFor(t, func() bool { return r.Health() == HealthDegraded })

	mu.Lock()
	healthy = true
	mu.Unlock()

	waitFor(t, func() bool { return r.Health() == HealthHealthy })

	// Recovered relay accepts new submissions again.
	if _, err := r.Submit(context.Background(), newCommand(experiment.ActionStatus)); err != nil {
		t.Errorf("expected submission to succeed after recovery: %v", err)
	}
}

func TestMarkDegraded_DrainsQueuedCommands(t *testing.T) {
	block := make(chan struct{})
	ch := &mockChannel{
		requestFunc: func(ctx context.Context, cmd *experiment.HardwareCommand) (json.RawMessage, error) {
			<-block
			return nil, experiment.ErrRelayUnreachable
		},
	}
	r := New(ch, Config{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	// One command in flight, two more queued behind it.
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := r.Submit(context.Background(), newCommand(experiment.ActionLED))
			errs <- err
		}()
	}
	waitFor(t, func() bool { return r.QueueDepth() >= 2 })

	close(block)

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, experiment.ErrRelayUnreachable) {
				t.Errorf("expected ErrRelayUnreachable, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("queued command never resolved after degrade")
		}
	}
}

func TestMarkDegraded_AbortsInFlightCommand(t *testing.T) {
	// The ping only fails once a command is on the wire, so the degrade
	// always races against an in-flight request, never an empty relay.
	inFlight := make(chan struct{})
	var once sync.Once
	ch := &mockChannel{
		requestFunc: func(ctx context.Context, cmd *experiment.HardwareCommand) (json.RawMessage, error) {
			once.Do(func() { close(inFlight) })
			<-ctx.Done()
			return nil, ctx.Err()
		},
		pingFunc: func(ctx context.Context, timeout time.Duration) error {
			select {
			case <-inFlight:
				return errors.New("no responders")
			default:
				return nil
			}
		},
	}
	r := New(ch, Config{CommandTimeout: time.Minute, KeepaliveInterval: 5 * time.Millisecond}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	start := time.Now()
	cmd := newCommand(experiment.ActionPeltier)
	_, err := r.Submit(context.Background(), cmd)

	// The in-flight command fails within the keepalive window, with the
	// unreachable error, long before its own minute-long timeout.
	if !errors.Is(err, experiment.ErrRelayUnreachable) {
		t.Fatalf("expected ErrRelayUnreachable for in-flight command, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("in-flight command took %v to fail after degrade", elapsed)
	}
	if cmd.Outcome != experiment.OutcomeFailed {
		t.Errorf("expected failed outcome, got %s", cmd.Outcome)
	}
	if r.Health() != HealthDegraded {
		t.Errorf("expected degraded health, got %s", r.Health())
	}
}

func TestDispatch_SkipsExpiredPendings(t *testing.T) {
	var mu sync.Mutex
	var dispatched int

	block := make(chan struct{})
	ch := &mockChannel{
		requestFunc: func(ctx context.Context, cmd *experiment.HardwareCommand) (json.RawMessage, error) {
			mu.Lock()
			dispatched++
			first := dispatched == 1
			mu.Unlock()
			if first {
				<-block
			}
			return nil, nil
		},
	}
	r := New(ch, Config{SubmitTimeout: 30 * time.Millisecond, CommandTimeout: time.Minute}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	// First command blocks the dispatcher; second times out while queued.
	go r.Submit(context.Background(), newCommand(experiment.ActionStatus))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dispatched == 1
	})

	_, err := r.Submit(context.Background(), newCommand(experiment.ActionPump))
	if !errors.Is(err, experiment.ErrRelayTimeout) {
		t.Fatalf("expected ErrRelayTimeout for queued command, got %v", err)
	}

	close(block)

	// Give the dispatcher a chance to drain; the expired command must never
	// reach the device.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if dispatched != 1 {
		t.Errorf("expired command was dispatched: %d device calls", dispatched)
	}
}

func TestSubmit_SeqIsMonotonic(t *testing.T) {
	r := New(&mockChannel{}, Config{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	var last uint64
	for i := 0; i < 5; i++ {
		cmd := newCommand(experiment.ActionStatus)
		if _, err := r.Submit(context.Background(), cmd); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cmd.Seq <= last {
			t.Errorf("seq not monotonic: %d after %d", cmd.Seq, last)
		}
		last = cmd.Seq
	}
}
