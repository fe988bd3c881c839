// Package multistep implements a meta-optimizer that repeatedly applies the
// optimization step proposed by another optimizer, accumulating the deltas.
package multistep

import (
	"context"

	"github.com/perturblabs/perturb/internal/optimization"
	"github.com/perturblabs/perturb/internal/optimization/engine"
	"github.com/perturblabs/perturb/internal/optimization/tensor"
)

// Config holds the construction parameters of a multi-step optimizer.
type Config struct {
	// Optimizer is the inner optimizer whose step is repeated.
	Optimizer optimization.Optimizer
	// NumSteps is the number of inner steps per Step call. Must be positive.
	NumSteps int
	// UnrollLoop selects the eagerly unrolled driver instead of the bounded
	// dynamic loop. Both produce identical results.
	UnrollLoop bool
}

// Optimizer repeats an inner optimizer's step NumSteps times per call,
// returning the elementwise sum of all produced deltas. Each inner step runs
// strictly after the previous iteration's deltas are finalized, so it
// observes all prior variable updates.
type Optimizer struct {
	inner      optimization.Optimizer
	numSteps   int
	unrollLoop bool
}

// New validates the configuration and creates a multi-step optimizer.
func New(cfg Config) (*Optimizer, error) {
	if cfg.Optimizer == nil {
		return nil, optimization.NewConfigError("multistep", "inner optimizer is required")
	}
	if cfg.NumSteps < 1 {
		return nil, optimization.NewConfigError("multistep", "num steps must be positive, got %d", cfg.NumSteps)
	}
	return &Optimizer{
		inner:      cfg.Optimizer,
		numSteps:   cfg.NumSteps,
		unrollLoop: cfg.UnrollLoop,
	}, nil
}

// Name implements optimization.Optimizer.
func (o *Optimizer) Name() string { return "multistep" }

// Step runs the inner optimizer NumSteps times and returns the summed deltas.
//
// If a reference callable is set it is invoked exactly once, up front, and
// its value is threaded to every inner step through an augmented copy of the
// arguments; the reference is not resampled per step. Inner-step failures
// propagate unmodified.
func (o *Optimizer) Step(ctx context.Context, req optimization.StepRequest) ([]*tensor.Tensor, error) {
	inner := req
	inner.Reference = nil
	if req.Reference != nil {
		ref, err := req.Reference(ctx, req.Arguments)
		if err != nil {
			return nil, err
		}
		inner.Arguments = req.Arguments.With("reference", ref)
	}

	// First step
	deltas, err := o.inner.Step(ctx, inner)
	if err != nil {
		return nil, err
	}

	// The remaining steps share one body with the accumulated deltas as the
	// loop-carried state. The inner step returns only after its own updates
	// have been materialized, so carrying the deltas is enough to order each
	// iteration after the previous one.
	body := func(deltas []*tensor.Tensor) ([]*tensor.Tensor, error) {
		stepDeltas, err := o.inner.Step(ctx, inner)
		if err != nil {
			return nil, err
		}
		for i := range deltas {
			deltas[i].Add(stepDeltas[i])
		}
		return deltas, nil
	}

	if o.unrollLoop {
		deltas, err = engine.Unroll(body, deltas, o.numSteps-1)
	} else {
		deltas, err = engine.Loop(engine.AlwaysTrue, body, deltas, o.numSteps-1)
	}
	if err != nil {
		return nil, err
	}
	return deltas, nil
}
