package transform

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tgk/sluice/internal/logger"
	"github.com/tgk/sluice/internal/models"
)

// Policy selects what the chain does when a stage fails on a record.
type Policy int

const (
	// SkipAndLog drops the offending record and continues. The default:
	// unstructured inputs are expected to contain malformed records.
	SkipAndLog Policy = iota
	// FailFast aborts the batch and propagates the error.
	FailFast
)

func (p Policy) String() string {
	if p == FailFast {
		return "fail-fast"
	}
	return "skip-and-log"
}

// ParsePolicy parses the config representation of a policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "skip", "skip-and-log":
		return SkipAndLog, nil
	case "fail", "fail-fast":
		return FailFast, nil
	default:
		return SkipAndLog, fmt.Errorf("unknown transform failure policy %q", s)
	}
}

// TransformError wraps a per-record stage failure.
type TransformError struct {
	Record *models.Record
	Stage  string
	Err    error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform: stage %s: source %s offset %d: %v",
		e.Stage, e.Record.SourceID, e.Record.Offset, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Stage is one stateless mapping step: zero output records drop the input
// (filter), one maps it, many fan out (flat-map). Stages must not mutate
// the input record.
type Stage interface {
	Name() string
	Apply(rec *models.Record) ([]*models.Record, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	ID string
	Fn func(rec *models.Record) ([]*models.Record, error)
}

func (s StageFunc) Name() string { return s.ID }

func (s StageFunc) Apply(rec *models.Record) ([]*models.Record, error) {
	return s.Fn(rec)
}

// Chain applies an ordered list of stages to each record.
type Chain struct {
	stages []Stage
	policy Policy
	logger zerolog.Logger

	// OnDrop, when set, observes every record dropped under SkipAndLog.
	OnDrop func(rec *models.Record, err error)
}

// NewChain builds a chain with the given failure policy. Stages run in
// declared order.
func NewChain(policy Policy, stages ...Stage) *Chain {
	return &Chain{
		stages: stages,
		policy: policy,
		logger: logger.GetLogger("transform"),
	}
}

func (c *Chain) Policy() Policy { return c.policy }
func (c *Chain) Len() int       { return len(c.stages) }

// Apply runs the record through every stage. Under SkipAndLog a failing
// record is dropped and processing continues with its siblings; under
// FailFast the first failure aborts with a *TransformError.
func (c *Chain) Apply(rec *models.Record) ([]*models.Record, error) {
	current := []*models.Record{rec}
	for _, stage := range c.stages {
		next := make([]*models.Record, 0, len(current))
		for _, in := range current {
			out, err := stage.Apply(in)
			if err != nil {
				terr := &TransformError{Record: in, Stage: stage.Name(), Err: err}
				if c.policy == FailFast {
					return nil, terr
				}
				c.logger.Warn().
					Str("stage", stage.Name()).
					Str("source", in.SourceID).
					Uint64("offset", in.Offset).
					Err(err).
					Msg("dropping record")
				if c.OnDrop != nil {
					c.OnDrop(in, terr)
				}
				continue
			}
			next = append(next, out...)
		}
		current = next
		if len(current) == 0 {
			return nil, nil
		}
	}
	return current, nil
}
