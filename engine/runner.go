package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"github.com/tgk/sluice/internal/batch"
	"github.com/tgk/sluice/internal/logger"
	"github.com/tgk/sluice/internal/models"
	"github.com/tgk/sluice/sources"
)

// runner executes the Pulling→Transforming→Batching→Writing→Committing loop
// for one source. Runners share nothing but the schema registry and the
// checkpoint store.
type runner struct {
	eng *Engine
	p   Pipeline

	logger zerolog.Logger
	phase  atomic.Int32

	pulled    atomic.Uint64
	committed atomic.Uint64

	mu    sync.Mutex
	done  bool
	clean bool
	err   error
}

func newRunner(eng *Engine, p Pipeline) *runner {
	return &runner{
		eng: eng,
		p:   p,
		logger: logger.GetLogger("runner").With().
			Str("source", p.Source.Name()).Logger(),
	}
}

func (r *runner) setPhase(p Phase) { r.phase.Store(int32(p)) }

func (r *runner) report() SourceReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep := SourceReport{
		SourceID:      r.p.Source.Name(),
		Phase:         Phase(r.phase.Load()).String(),
		LastPulled:    r.pulled.Load(),
		LastCommitted: r.committed.Load(),
		Done:          r.done,
		Clean:         r.clean,
	}
	if r.err != nil {
		rep.Error = r.err.Error()
	}
	return rep
}

func (r *runner) finish(clean bool, err error) error {
	r.mu.Lock()
	r.done = true
	r.clean = clean
	r.err = err
	r.mu.Unlock()

	if err != nil {
		// The failure reason plus the last committed offset is what an
		// operator needs for a precise resume.
		r.logger.Error().
			Err(err).
			Uint64("last_committed_offset", r.committed.Load()).
			Msg("source stopped with fatal error")
		return err
	}
	if !clean {
		r.logger.Warn().
			Uint64("last_committed_offset", r.committed.Load()).
			Msg("source stopped without final commit")
		return nil
	}
	r.logger.Info().
		Uint64("last_committed_offset", r.committed.Load()).
		Msg("source stopped clean")
	return nil
}

func (r *runner) run(ctx context.Context) error {
	src := r.p.Source
	name := src.Name()

	// Idle → Running: restore the checkpoint and resume the source there.
	cp, ok, err := r.eng.store.Load(name)
	if err != nil {
		return r.finish(false, err)
	}
	from := uint64(0)
	if ok {
		from = cp + 1
		r.committed.Store(cp)
		r.logger.Info().Uint64("checkpoint", cp).Msg("resuming from checkpoint")
	}
	if err := src.Open(ctx, from); err != nil {
		return r.finish(false, err)
	}
	defer src.Close()

	if err := r.p.Sink.Open(ctx); err != nil {
		return r.finish(false, err)
	}
	defer r.p.Sink.Close()
	if r.p.DeadLetter != nil {
		if err := r.p.DeadLetter.Open(ctx); err != nil {
			return r.finish(false, err)
		}
		defer r.p.DeadLetter.Close()
	}

	batcher := batch.New(name, r.p.Batch)

	for {
		if ctx.Err() != nil {
			return r.finish(r.drain(batcher))
		}

		r.setPhase(PhasePulling)
		rec, pullErr, aged := r.pull(ctx, batcher)

		switch {
		case pullErr == nil:
			r.eng.metrics.RecordIngested(name)
			r.pulled.Store(rec.Offset)
			r.updateLag()

			out, err := r.process(rec)
			if err != nil {
				// Fail-fast or strict-schema failure aborts the open batch:
				// its records replay from the checkpoint on the next run.
				return r.finish(false, err)
			}
			r.setPhase(PhaseBatching)
			// All outputs of one input share its offset and go into the
			// batcher as one group, so the committed offset never runs
			// ahead of an unwritten sibling.
			if full := batcher.Add(out...); full != nil {
				if err := r.deliver(ctx, full); err != nil {
					return r.finish(false, err)
				}
			}
			if batcher.Due() {
				if err := r.deliver(ctx, batcher.Flush()); err != nil {
					return r.finish(false, err)
				}
			}

		case errors.Is(pullErr, io.EOF):
			// End of a finite stream: flush the partial batch and stop clean.
			if err := r.deliver(ctx, batcher.Flush()); err != nil {
				return r.finish(false, err)
			}
			return r.finish(true, nil)

		case ctx.Err() != nil:
			return r.finish(r.drain(batcher))

		case aged:
			// The open batch hit its age bound while the source was quiet.
			if err := r.deliver(ctx, batcher.Flush()); err != nil {
				return r.finish(false, err)
			}

		default:
			return r.finish(false, pullErr)
		}
	}
}

// pull reads the next record, bounding the wait by the open batch's age
// deadline so a quiet source cannot stall a partial batch. Source errors
// are retried with backoff; aged reports a deadline-driven wakeup.
func (r *runner) pull(ctx context.Context, batcher *batch.Batcher) (rec *models.Record, err error, aged bool) {
	pullCtx := ctx
	var cancel context.CancelFunc
	deadline, bounded := batcher.Deadline()
	if bounded {
		pullCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	err = retry.Do(
		func() error {
			var nerr error
			rec, nerr = r.p.Source.Next(pullCtx)
			return nerr
		},
		retry.Attempts(r.p.Retry.Attempts),
		retry.Delay(r.p.Retry.BackoffBase),
		retry.MaxDelay(r.p.Retry.BackoffCap),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(pullCtx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var serr *sources.SourceError
			return errors.As(err, &serr)
		}),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn().Uint("attempt", n+1).Err(err).Msg("source read failed, retrying")
		}),
	)
	if err != nil && bounded && ctx.Err() == nil && errors.Is(pullCtx.Err(), context.DeadlineExceeded) {
		return nil, err, true
	}
	return rec, err, false
}

// process resolves the record's schema and runs the transform chain.
func (r *runner) process(rec *models.Record) ([]*models.Record, error) {
	r.setPhase(PhaseTransforming)

	// Only strict mode fails resolution; a strict pipeline halts rather
	// than silently dropping records of an unknown shape.
	tagged, err := r.p.Resolver.Resolve(rec)
	if err != nil {
		return nil, err
	}

	return r.p.Chain.Apply(tagged)
}

// deliver writes one batch with retries, routes to the dead-letter sink on
// exhaustion, and commits the checkpoint once the batch is durable
// somewhere. Never commits for an unacknowledged batch.
func (r *runner) deliver(ctx context.Context, b *models.Batch) error {
	if b == nil || b.Empty() {
		return nil
	}
	name := b.SourceID
	r.setPhase(PhaseWriting)

	attempts := r.p.Retry.Attempts
	writeErr := retry.Do(
		func() error { return r.p.Sink.Write(ctx, b) },
		retry.Attempts(attempts),
		retry.Delay(r.p.Retry.BackoffBase),
		retry.MaxDelay(r.p.Retry.BackoffCap),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if n+1 < attempts {
				r.eng.metrics.SinkRetry(name)
				r.logger.Warn().
					Str("batch", b.ID.String()).
					Uint("attempt", n+1).
					Err(err).
					Msg("sink write failed, retrying")
			}
		}),
	)

	if writeErr != nil {
		if r.p.DeadLetter == nil {
			return fmt.Errorf("sink write exhausted %d attempts: %w", attempts, writeErr)
		}
		r.logger.Error().
			Str("batch", b.ID.String()).
			Uint64("first_offset", b.FirstOffset()).
			Uint64("last_offset", b.LastOffset()).
			Err(writeErr).
			Msg("routing batch to dead-letter sink")
		if dlErr := r.p.DeadLetter.Write(ctx, b); dlErr != nil {
			return errors.Join(
				fmt.Errorf("sink write exhausted %d attempts: %w", attempts, writeErr),
				fmt.Errorf("dead-letter write failed: %w", dlErr),
			)
		}
		r.eng.metrics.DeadLettered(name)
	} else {
		r.eng.metrics.BatchWritten(name)
	}

	// The batch is durable (at the sink or the dead-letter sink); only now
	// may the checkpoint advance.
	r.setPhase(PhaseCommitting)
	if err := r.eng.store.Commit(name, b.LastOffset()); err != nil {
		return err
	}
	r.committed.Store(b.LastOffset())
	r.updateLag()
	r.logger.Debug().
		Str("batch", b.ID.String()).
		Int("records", b.Len()).
		Uint64("committed", b.LastOffset()).
		Msg("batch committed")
	return nil
}

// drain is the Running → Draining → Stopped path: stop pulling, flush the
// in-flight batch, write and commit it within the drain timeout. Past the
// timeout the lane stops without a final commit; the next run replays from
// the last good checkpoint (at-least-once preserved).
func (r *runner) drain(batcher *batch.Batcher) (clean bool, err error) {
	pending := batcher.Pending()
	r.logger.Info().Int("pending_records", pending).Msg("draining")

	dctx, cancel := context.WithTimeout(context.Background(), r.eng.drainTimeout)
	defer cancel()

	if err := r.deliver(dctx, batcher.Flush()); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			r.logger.Warn().Msg("drain timeout exceeded, stopping without final commit")
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *runner) updateLag() {
	pulled := r.pulled.Load()
	committed := r.committed.Load()
	if pulled >= committed {
		r.eng.metrics.SetCheckpointLag(r.p.Source.Name(), float64(pulled-committed))
	}
}
