package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SomBagchi/bioreactor-website/internal/experiment"
)

// Config holds the relay's timing policy.
type Config struct {
	// CommandTimeout bounds one device round trip.
	CommandTimeout time.Duration

	// SubmitTimeout bounds a whole Submit call, queue wait included.
	// Defaults to twice the command timeout.
	SubmitTimeout time.Duration

	// KeepaliveInterval is how often the channel is pinged.
	KeepaliveInterval time.Duration

	// QueueCapacity is the buffered depth of the global FIFO queue.
	QueueCapacity int
}

// Health values reported by the liveness surface.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

type result struct {
	data json.RawMessage
	err  error
}

// pending is one enqueued command awaiting dispatch. The first resolution
// wins: either the dispatcher delivers the device reply, or the submitter's
// context expires first.
type pending struct {
	cmd   *experiment.HardwareCommand
	ctx   context.Context
	reply chan result
	once  sync.Once
}

func (p *pending) resolve(data json.RawMessage, err error) {
	p.once.Do(func() {
		if err != nil {
			p.cmd.Outcome = experiment.OutcomeFailed
			p.cmd.FailureReason = err.Error()
		} else {
			p.cmd.Outcome = experiment.OutcomeSucceeded
		}
		p.reply <- result{data: data, err: err}
	})
}

// Relay is the single-endpoint multiplexer. One dispatch goroutine owns the
// queue and sends exactly one command at a time, in arrival order across all
// experiments. Modeled as an owned actor rather than a lock around the
// channel so ordering and wakeup are structural.
type Relay struct {
	channel DeviceChannel
	config  Config
	log     *slog.Logger

	queue    chan *pending
	seq      atomic.Uint64
	degraded atomic.Bool

	// inflight is the cancel func of the request currently on the wire,
	// nil between requests. markDegraded uses it to abort the in-flight
	// command instead of letting it run out its own timeout.
	inflightMu sync.Mutex
	inflight   context.CancelFunc
}

// New creates a relay over the given device channel.
func New(ch DeviceChannel, config Config, log *slog.Logger) *Relay {
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = 30 * time.Second
	}
	if config.SubmitTimeout <= 0 {
		config.SubmitTimeout = 2 * config.CommandTimeout
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 10 * time.Second
	}
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = 256
	}
	return &Relay{
		channel: ch,
		config:  config,
		log:     log,
		queue:   make(chan *pending, config.QueueCapacity),
	}
}

// Start launches the dispatch and keepalive loops. They stop when ctx is
// cancelled; commands still queued at shutdown fail with ErrRelayUnreachable.
func (r *Relay) Start(ctx context.Context) {
	go r.dispatch(ctx)
	go r.keepalive(ctx)
}

// Submit enqueues one command and blocks until it resolves. It returns the
// device's result, ErrRelayTimeout if no response arrived within the bound,
// or ErrRelayUnreachable if the channel is broken or the relay is degraded.
// Fairness is FIFO across experiments; there are no priorities.
func (r *Relay) Submit(ctx context.Context, cmd *experiment.HardwareCommand) (json.RawMessage, error) {
	if r.degraded.Load() {
		cmd.Outcome = experiment.OutcomeFailed
		cmd.FailureReason = experiment.ErrRelayUnreachable.Error()
		return nil, experiment.ErrRelayUnreachable
	}

	cmd.Seq = r.seq.Add(1)

	submitCtx, cancel := context.WithTimeout(ctx, r.config.SubmitTimeout)
	defer cancel()

	p := &pending{
		cmd:   cmd,
		ctx:   submitCtx,
		reply: make(chan result, 1),
	}

	select {
	case r.queue <- p:
	case <-submitCtx.Done():
		p.resolve(nil, submitErr(ctx, submitCtx))
		res := <-p.reply
		return nil, res.err
	}

	select {
	case res := <-p.reply:
		return res.data, res.err
	case <-submitCtx.Done():
		p.resolve(nil, submitErr(ctx, submitCtx))
		res := <-p.reply
		return res.data, res.err
	}
}

// submitErr distinguishes the relay's own deadline from caller cancellation.
func submitErr(callerCtx, submitCtx context.Context) error {
	if callerCtx.Err() != nil {
		return callerCtx.Err()
	}
	if errors.Is(submitCtx.Err(), context.DeadlineExceeded) {
		return experiment.ErrRelayTimeout
	}
	return submitCtx.Err()
}

func (r *Relay) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drainQueue(experiment.ErrRelayUnreachable)
			return

		case p := <-r.queue:
			if p.ctx.Err() != nil {
				// The submitter gave up (cancelled or timed out)
				// while queued; never send its command.
				p.resolve(nil, submitErrForPending(p))
				continue
			}
			if r.degraded.Load() {
				p.resolve(nil, experiment.ErrRelayUnreachable)
				continue
			}

			reqCtx, cancel := context.WithTimeout(p.ctx, r.config.CommandTimeout)
			r.setInflight(cancel)
			if r.degraded.Load() {
				// Degrade landed between the check above and setInflight;
				// its abortInflight saw nil, so cancel here.
				cancel()
			}
			data, err := r.channel.Request(reqCtx, p.cmd)
			r.setInflight(nil)
			cancel()

			if err != nil {
				switch {
				case r.degraded.Load() && p.ctx.Err() == nil && errors.Is(err, context.Canceled):
					// Aborted by markDegraded, not by the submitter.
					err = experiment.ErrRelayUnreachable
				case errors.Is(err, context.DeadlineExceeded):
					err = experiment.ErrRelayTimeout
				}
				if errors.Is(err, experiment.ErrRelayUnreachable) {
					r.markDegraded()
				}
				p.resolve(nil, err)
				continue
			}
			p.resolve(data, nil)
		}
	}
}

func submitErrForPending(p *pending) error {
	if errors.Is(p.ctx.Err(), context.DeadlineExceeded) {
		return experiment.ErrRelayTimeout
	}
	return p.ctx.Err()
}

// keepalive periodically pings the channel. A failed ping degrades the relay
// and fails the in-flight command and everything queued; a successful ping
// while degraded recovers it.
func (r *Relay) keepalive(ctx context.Context) {
	ticker := time.NewTicker(r.config.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.channel.Ping(ctx, r.config.KeepaliveInterval); err != nil {
				r.markDegraded()
				continue
			}
			if r.degraded.CompareAndSwap(true, false) {
				r.log.Info("device channel recovered, accepting submissions")
			}
		}
	}
}

// markDegraded flips the relay into degraded mode and immediately fails the
// in-flight command and all queued commands rather than letting them block
// until their own timeouts.
func (r *Relay) markDegraded() {
	if r.degraded.CompareAndSwap(false, true) {
		r.log.Error("device channel unreachable, relay degraded")
		r.abortInflight()
		r.drainQueue(experiment.ErrRelayUnreachable)
	}
}

func (r *Relay) setInflight(cancel context.CancelFunc) {
	r.inflightMu.Lock()
	r.inflight = cancel
	r.inflightMu.Unlock()
}

func (r *Relay) abortInflight() {
	r.inflightMu.Lock()
	if r.inflight != nil {
		r.inflight()
	}
	r.inflightMu.Unlock()
}

func (r *Relay) drainQueue(err error) {
	for {
		select {
		case p := <-r.queue:
			p.resolve(nil, err)
		default:
			return
		}
	}
}

// Health reports the relay channel state for the liveness surface.
func (r *Relay) Health() string {
	if r.degraded.Load() {
		return HealthDegraded
	}
	return HealthHealthy
}

// QueueDepth reports the number of commands waiting for dispatch.
func (r *Relay) QueueDepth() int {
	return len(r.queue)
}
