package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tgk/sluice/internal/batch"
	"github.com/tgk/sluice/internal/checkpoint"
	"github.com/tgk/sluice/internal/logger"
	"github.com/tgk/sluice/internal/metrics"
	"github.com/tgk/sluice/internal/models"
	"github.com/tgk/sluice/internal/schema"
	"github.com/tgk/sluice/internal/transform"
	"github.com/tgk/sluice/sinks"
	"github.com/tgk/sluice/sources"
)

// State is the engine lifecycle.
type State int32

const (
	Idle State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Phase is the per-batch sub-state of one source's loop.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhasePulling
	PhaseTransforming
	PhaseBatching
	PhaseWriting
	PhaseCommitting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePulling:
		return "pulling"
	case PhaseTransforming:
		return "transforming"
	case PhaseBatching:
		return "batching"
	case PhaseWriting:
		return "writing"
	case PhaseCommitting:
		return "committing"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// RetryConfig bounds sink write retries and source read retries.
type RetryConfig struct {
	Attempts    uint          `koanf:"attempts" json:"attempts"`
	BackoffBase time.Duration `koanf:"backoff_base" json:"backoff_base"`
	BackoffCap  time.Duration `koanf:"backoff_cap" json:"backoff_cap"`
}

const (
	DefaultAttempts     = 5
	DefaultBackoffBase  = 100 * time.Millisecond
	DefaultBackoffCap   = 30 * time.Second
	DefaultDrainTimeout = 30 * time.Second
)

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts == 0 {
		c.Attempts = DefaultAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	return c
}

// Pipeline is one source-to-sink lane: the engine runs each lane on its own
// goroutine with no shared mutable state beyond the schema registry and the
// checkpoint store.
type Pipeline struct {
	Source sources.Source
	Sink   sinks.Sink
	// DeadLetter, when set, receives batches whose sink writes exhausted
	// their retries. Without it, exhaustion is fatal to the lane.
	DeadLetter sinks.Sink
	Resolver   *schema.Resolver
	Chain      *transform.Chain
	Batch      batch.Config
	Retry      RetryConfig
}

// Engine drives the configured pipelines: pull, resolve, transform, batch,
// write, commit — committing a checkpoint only after the sink acknowledged
// the batch (at-least-once delivery).
type Engine struct {
	store   checkpoint.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger

	drainTimeout time.Duration

	state   atomic.Int32
	mu      sync.Mutex
	runners []*runner
}

// Option configures the engine.
type Option func(*Engine)

// WithDrainTimeout bounds how long a graceful drain may take; past it the
// engine stops without a final commit and the next run replays from the
// last good checkpoint.
func WithDrainTimeout(d time.Duration) Option {
	return func(e *Engine) { e.drainTimeout = d }
}

// New builds an engine over a checkpoint store. A nil metrics set is
// replaced with a fresh one; the runners record counters unconditionally.
func New(store checkpoint.Store, m *metrics.Metrics, opts ...Option) *Engine {
	if m == nil {
		m = metrics.New()
	}
	e := &Engine{
		store:        store,
		metrics:      m,
		logger:       logger.GetLogger("engine"),
		drainTimeout: DefaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Add registers a pipeline. Only legal before Run.
func (e *Engine) Add(p Pipeline) error {
	if e.State() != Idle {
		return errors.New("engine: pipelines must be added before Run")
	}
	if p.Source == nil || p.Sink == nil {
		return errors.New("engine: pipeline needs a source and a sink")
	}
	if p.Resolver == nil {
		p.Resolver = schema.NewResolver(schema.NewRegistry(), schema.ModeInferred)
	}
	if p.Chain == nil {
		p.Chain = transform.NewChain(transform.SkipAndLog)
	}
	if p.Chain.OnDrop == nil {
		m := e.metrics
		p.Chain.OnDrop = func(rec *models.Record, _ error) {
			m.RecordDropped(rec.SourceID)
		}
	}
	p.Retry = p.Retry.withDefaults()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.runners = append(e.runners, newRunner(e, p))
	return nil
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// Run executes all pipelines until every source is exhausted or ctx is
// canceled. Cancellation triggers a graceful drain: in-flight batches are
// flushed, written and committed within the drain timeout. The returned
// error joins the fatal errors of all lanes; nil means a clean stop.
func (e *Engine) Run(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return errors.New("engine: already started")
	}
	e.mu.Lock()
	runners := append([]*runner(nil), e.runners...)
	e.mu.Unlock()

	if len(runners) == 0 {
		e.state.Store(int32(Stopped))
		return errors.New("engine: no pipelines configured")
	}

	e.logger.Info().Int("pipelines", len(runners)).Msg("starting")

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			e.state.CompareAndSwap(int32(Running), int32(Draining))
			e.logger.Info().Msg("shutdown signal, draining")
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	errs := make([]error, len(runners))
	for i, r := range runners {
		wg.Add(1)
		go func(i int, r *runner) {
			defer wg.Done()
			errs[i] = r.run(ctx)
		}(i, r)
	}
	wg.Wait()
	close(done)
	e.state.Store(int32(Stopped))

	err := errors.Join(errs...)
	if err != nil {
		e.logger.Error().Err(err).Msg("stopped with fatal error")
	} else {
		e.logger.Info().Msg("stopped clean")
	}
	return err
}

// SourceReport is the user-visible outcome of one lane: its current phase,
// progress, and — after a fatal stop — the structured failure reason plus
// the last committed offset for precise resume.
type SourceReport struct {
	SourceID      string `json:"source_id"`
	Phase         string `json:"phase"`
	LastPulled    uint64 `json:"last_pulled_offset"`
	LastCommitted uint64 `json:"last_committed_offset"`
	Done          bool   `json:"done"`
	Clean         bool   `json:"clean"`
	Error         string `json:"error,omitempty"`
}

// Report snapshots every lane. Safe to call while running.
func (e *Engine) Report() []SourceReport {
	e.mu.Lock()
	runners := append([]*runner(nil), e.runners...)
	e.mu.Unlock()

	out := make([]SourceReport, 0, len(runners))
	for _, r := range runners {
		out = append(out, r.report())
	}
	return out
}
