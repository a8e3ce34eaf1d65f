// Package live supervises the concurrent loops of a trading session: one or
// more market-data streams feeding the engine, plus the account reconciler.
// Each stream reconnects independently with linear backoff; stopping cancels
// every child task and waits for all of them before returning.
package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/interfaces"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/logger"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/metrics"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

// maxBackoff caps the linear reconnect backoff.
const maxBackoff = 30 * time.Second

// StreamState is the supervision state of one managed stream.
type StreamState int32

const (
	StateIdle StreamState = iota
	StateRunning
	StateFailed
	StateStopped
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateFailed:
		return "FAILED"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// ReconcilerTask is the periodic reconciliation loop run alongside the
// streams. Returning ctx.Err() on cancellation is the normal exit.
type ReconcilerTask interface {
	Run(ctx context.Context) error
}

// Config wires one symbol's orchestrator.
type Config struct {
	Symbol      string
	Interval    string
	Source      interfaces.MarketDataSource
	Engine      interfaces.Engine
	Reconciler  ReconcilerTask // optional
	BaseBackoff time.Duration  // linear backoff unit, default 5s
	EnableTicks bool           // supervise the auxiliary tick stream
	HasPosition func() bool    // gates tick forwarding
	PriceHook   func(float64)  // observes every forwarded price
}

// streamTask is one supervised stream loop. restartCh carries manual
// reconnect requests so the supervisor wakes even from its backoff sleep.
type streamTask struct {
	name      string
	run       func(ctx context.Context, delivered func()) error
	state     atomic.Int32
	restartCh chan struct{}

	mu            sync.Mutex
	cancelAttempt context.CancelFunc
	manualRestart bool
}

func newStreamTask(name string, run func(ctx context.Context, delivered func()) error) *streamTask {
	return &streamTask{
		name:      name,
		run:       run,
		restartCh: make(chan struct{}, 1),
	}
}

func (t *streamTask) setState(s StreamState) { t.state.Store(int32(s)) }

// State reports the task's current supervision state.
func (t *streamTask) State() StreamState { return StreamState(t.state.Load()) }

type Orchestrator struct {
	cfg     Config
	backoff time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
	tasks   map[string]*streamTask
}

func New(cfg Config) *Orchestrator {
	backoff := cfg.BaseBackoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &Orchestrator{
		cfg:     cfg,
		backoff: backoff,
		tasks:   make(map[string]*streamTask),
	}
}

// Start launches the supervised tasks under a context derived from ctx.
// It returns immediately; Stop (or canceling ctx) terminates the session.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return errors.New("orchestrator already started")
	}
	o.started = true

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	logger.Info(ctx, "Live orchestrator starting", "symbol", o.cfg.Symbol, "interval", o.cfg.Interval)

	bars := newStreamTask("bars", o.runBarStream)
	o.tasks[bars.name] = bars
	o.wg.Add(1)
	go o.supervise(runCtx, bars)

	if o.cfg.EnableTicks {
		ticks := newStreamTask("ticks", o.runTickStream)
		o.tasks[ticks.name] = ticks
		o.wg.Add(1)
		go o.supervise(runCtx, ticks)
	}

	if o.cfg.Reconciler != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			err := o.cfg.Reconciler.Run(runCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorWithErr(runCtx, "Reconciler terminated", err, "symbol", o.cfg.Symbol)
			}
		}()
	}

	return nil
}

// Stop cancels every managed task and waits for all of them to unwind, or
// until ctx expires. Safe to call more than once.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	logger.Info(ctx, "Stopping live orchestrator", "symbol", o.cfg.Symbol)
	cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn(ctx, "Shutdown deadline expired before all tasks unwound",
			"symbol", o.cfg.Symbol)
	}
}

// Wait blocks until every managed task has terminated.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Reconnect cancels the current attempt of every stream so it restarts
// immediately, bypassing backoff.
func (o *Orchestrator) Reconnect(ctx context.Context) {
	logger.Warn(ctx, "Manual reconnect requested", "symbol", o.cfg.Symbol)
	o.mu.Lock()
	tasks := make([]*streamTask, 0, len(o.tasks))
	for _, t := range o.tasks {
		tasks = append(tasks, t)
	}
	o.mu.Unlock()

	for _, t := range tasks {
		t.mu.Lock()
		t.manualRestart = true
		if t.cancelAttempt != nil {
			t.cancelAttempt()
		}
		t.mu.Unlock()
		// Wake the supervisor if it is sitting in its backoff sleep.
		select {
		case t.restartCh <- struct{}{}:
		default:
		}
	}
}

// StreamStates reports the supervision state of each managed stream.
func (o *Orchestrator) StreamStates() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]string, len(o.tasks))
	for name, t := range o.tasks {
		out[name] = t.State().String()
	}
	return out
}

// supervise runs one stream task through its reconnect loop. attempts counts
// consecutive failures; any successful delivery resets it to zero.
func (o *Orchestrator) supervise(ctx context.Context, t *streamTask) {
	defer o.wg.Done()
	defer t.setState(StateStopped)

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}

		attemptCtx, cancelAttempt := context.WithCancel(ctx)
		t.mu.Lock()
		t.cancelAttempt = cancelAttempt
		t.mu.Unlock()

		t.setState(StateRunning)
		logger.Stream(ctx, o.cfg.Symbol, t.name, "connect", "attempts", attempts)

		err := t.run(attemptCtx, func() { attempts = 0 })
		cancelAttempt()

		t.mu.Lock()
		t.cancelAttempt = nil
		manual := t.manualRestart
		t.manualRestart = false
		t.mu.Unlock()

		if ctx.Err() != nil {
			// Cooperative stop; cancellation is a normal exit.
			return
		}
		if manual {
			attempts = 0
			// The wake signal paired with this request is already consumed;
			// drain any pending one so it cannot skip a future backoff.
			select {
			case <-t.restartCh:
			default:
			}
			logger.Stream(ctx, o.cfg.Symbol, t.name, "manual_reconnect")
			continue
		}
		if errors.Is(err, interfaces.ErrPermission) {
			logger.ErrorWithErr(ctx, "Stream stopped on permission failure", err,
				"symbol", o.cfg.Symbol, "stream", t.name)
			return
		}

		t.setState(StateFailed)
		attempts++
		delay := time.Duration(attempts) * o.backoff
		if delay > maxBackoff {
			delay = maxBackoff
		}
		if err != nil {
			logger.ErrorWithErr(ctx, "Stream failed", err,
				"symbol", o.cfg.Symbol,
				"stream", t.name,
				"attempts", attempts,
				"backoff", delay.String(),
			)
		} else {
			logger.Stream(ctx, o.cfg.Symbol, t.name, "ended", "attempts", attempts, "backoff", delay.String())
		}
		metrics.StreamReconnects.WithLabelValues(o.cfg.Symbol, t.name).Inc()

		// Backoff sleep; wakes immediately on stop or manual reconnect.
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-t.restartCh:
			timer.Stop()
			t.mu.Lock()
			t.manualRestart = false
			t.mu.Unlock()
			attempts = 0
			logger.Stream(ctx, o.cfg.Symbol, t.name, "manual_reconnect")
		case <-timer.C:
		}
	}
}

// runBarStream forwards each bar synchronously into the engine; the next bar
// is not consumed until the previous one is fully processed.
func (o *Orchestrator) runBarStream(ctx context.Context, delivered func()) error {
	return o.cfg.Source.StreamBars(ctx, o.cfg.Symbol, o.cfg.Interval, func(bar types.Bar) error {
		delivered()
		if o.cfg.PriceHook != nil {
			o.cfg.PriceHook(bar.Close)
		}
		return o.cfg.Engine.ProcessBar(ctx, bar)
	})
}

// runTickStream forwards tick prices only while a position is open,
// synthesized as degenerate single-price bars.
func (o *Orchestrator) runTickStream(ctx context.Context, delivered func()) error {
	return o.cfg.Source.StreamTicks(ctx, o.cfg.Symbol, func(price float64) error {
		delivered()
		if o.cfg.HasPosition != nil && !o.cfg.HasPosition() {
			return nil
		}
		if o.cfg.PriceHook != nil {
			o.cfg.PriceHook(price)
		}
		bar := types.Bar{
			Symbol: o.cfg.Symbol,
			Ts:     time.Now().UTC(),
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
		}
		return o.cfg.Engine.ProcessBar(ctx, bar)
	})
}
