package sense

import (
	"context"
	"sync"

	"github.com/daylight-data/exposure.report/internal/config"
	"github.com/daylight-data/exposure.report/internal/monitoring"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing results; the pipeline never blocks on
// a slow consumer.
const subscriberBuffer = 16

// Handler consumes each stabilized result synchronously inside the engine
// loop, before any asynchronous subscriber sees it. The tracking gate runs
// here so lock transitions and dose accumulation stay single-writer.
type Handler interface {
	HandleResult(Result)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(Result)

func (f HandlerFunc) HandleResult(r Result) { f(r) }

// Engine owns the pipeline and serializes all access to it. Sensor sources
// deliver over the sample channel; manual override changes arrive as
// commands on the same loop; a staleness ticker forces Unknown when the feed
// goes silent. External readers only ever see published snapshots.
type Engine struct {
	pipeline *Pipeline
	clock    timeutil.Clock
	handler  Handler

	samples  chan Sample
	commands chan func(*Pipeline)

	mu          sync.RWMutex
	latest      *Result
	subscribers map[chan Result]struct{}
}

// NewEngine wraps a pipeline. handler may be nil.
func NewEngine(cfg *config.TuningConfig, clock timeutil.Clock, pipeline *Pipeline, handler Handler) *Engine {
	return &Engine{
		pipeline:    pipeline,
		clock:       clock,
		handler:     handler,
		samples:     make(chan Sample, 64),
		commands:    make(chan func(*Pipeline), 8),
		subscribers: make(map[chan Result]struct{}),
	}
}

// Samples returns the inbound sample channel for feed sources. All sources
// share it; channel ordering is the event serialization.
func (e *Engine) Samples() chan<- Sample { return e.samples }

// Run processes events until the context is cancelled. It must be called
// exactly once.
func (e *Engine) Run(ctx context.Context) {
	staleTicker := e.clock.NewTicker(e.pipeline.cfg.GetSampleStaleAfter() / 3)
	defer staleTicker.Stop()

	monitoring.Logf("sense: engine started")
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("sense: engine stopped: %v", ctx.Err())
			return

		case s := <-e.samples:
			if r := e.pipeline.Handle(ctx, s); r != nil {
				e.publish(*r)
			}

		case cmd := <-e.commands:
			cmd(e.pipeline)

		case <-staleTicker.C():
			if r := e.pipeline.CheckStale(); r != nil {
				e.publish(*r)
			}
		}
	}
}

func (e *Engine) publish(r Result) {
	if e.handler != nil {
		e.handler.HandleResult(r)
	}

	e.mu.Lock()
	e.latest = &r
	for ch := range e.subscribers {
		select {
		case ch <- r:
		default:
			// Slow subscriber; drop rather than stall the pipeline.
		}
	}
	e.mu.Unlock()
}

// Latest returns the most recent result, or false before the first
// classification.
func (e *Engine) Latest() (Result, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.latest == nil {
		return Result{}, false
	}
	return *e.latest, true
}

// Subscribe registers a result stream. Call the returned cancel function to
// unsubscribe; the channel is closed by cancel.
func (e *Engine) Subscribe() (<-chan Result, func()) {
	ch := make(chan Result, subscriberBuffer)
	e.mu.Lock()
	e.subscribers[ch] = struct{}{}
	e.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subscribers, ch)
			e.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SetOverride routes a manual override change through the engine loop so the
// pipeline stays single-writer.
func (e *Engine) SetOverride(o ManualOverride) {
	e.commands <- func(p *Pipeline) { p.SetOverride(o) }
}

// Snapshot is the published view of engine state for the API layer.
type Snapshot struct {
	Latest   *Result        `json:"latest,omitempty"`
	Override ManualOverride `json:"override"`
	Lock     LockState      `json:"mode_lock"`
	Tunnel   TunnelState    `json:"tunnel"`
}

// VoteHistoryNow reads the voter's recent classification history through
// the engine loop.
func (e *Engine) VoteHistoryNow(ctx context.Context) ([]HistoryEntry, error) {
	done := make(chan []HistoryEntry, 1)
	cmd := func(p *Pipeline) { done <- p.VoteHistory() }
	select {
	case e.commands <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case h := <-done:
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SnapshotNow reads a consistent snapshot through the engine loop.
func (e *Engine) SnapshotNow(ctx context.Context) (Snapshot, error) {
	done := make(chan Snapshot, 1)
	cmd := func(p *Pipeline) {
		s := Snapshot{
			Override: p.Override(),
			Lock:     p.LockState(),
			Tunnel:   p.TunnelState(),
		}
		if latest, ok := e.Latest(); ok {
			s.Latest = &latest
		}
		done <- s
	}
	select {
	case e.commands <- cmd:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-done:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}
