package optimization

import (
	"context"

	"github.com/perturblabs/perturb/internal/optimization/engine"
	"github.com/perturblabs/perturb/internal/optimization/tensor"
)

// Variable is a named model tensor owned by the caller. Its value is read
// freely but written only through ApplyStep, so that every mutation flows
// through the engine and carries a fence.
type Variable struct {
	Name  string
	Value *tensor.Tensor
}

// NewVariable creates a rank-1 variable around a copy of the given values.
func NewVariable(name string, values []float64) *Variable {
	t, err := tensor.FromSlice(values, len(values))
	if err != nil {
		panic(err)
	}
	return &Variable{Name: name, Value: t}
}

// Arguments carries the named inputs threaded through loss and reference
// callables. It is owned by the caller and never mutated by an optimizer.
type Arguments map[string]any

// With returns a copy of the arguments with one entry added or replaced. The
// receiver is left untouched.
func (a Arguments) With(key string, value any) Arguments {
	out := make(Arguments, len(a)+1)
	for k, v := range a {
		out[k] = v
	}
	out[key] = value
	return out
}

// LossFunc evaluates the scalar loss of the current model state.
type LossFunc func(ctx context.Context, args Arguments) (float64, error)

// ReferenceFunc produces the reference value used by comparative losses.
type ReferenceFunc func(ctx context.Context, args Arguments) (any, error)

// StepRequest bundles the inputs of one optimization step.
type StepRequest struct {
	// Time is a monotonically increasing step counter, opaque to optimizers.
	Time int64
	// Variables is the ordered set of tensors being optimized.
	Variables []*Variable
	// Arguments is forwarded to the loss and reference callables.
	Arguments Arguments
	// Loss evaluates the current loss. Required by loss-driven optimizers.
	Loss LossFunc
	// Reference, if set, is consumed by meta-optimizers that inject a
	// reference value into the arguments. It is not forwarded to inner steps.
	Reference ReferenceFunc
}

// Optimizer computes per-variable delta tensors for one optimization step.
// Implementations apply their own updates to the variables before returning;
// the returned deltas report the combined update for chaining and inspection.
type Optimizer interface {
	// Name identifies the algorithm, for logs and metrics.
	Name() string

	// Step performs one optimization step and returns one delta per variable,
	// shape-matched and in variable order. By the time Step returns, every
	// mutation it performed has been materialized.
	Step(ctx context.Context, req StepRequest) ([]*tensor.Tensor, error)
}

// ApplyStep adds the deltas to the variables as a single engine op and
// returns its fence. Variable and delta sequences must be the same length and
// pairwise shape-matched; violations are a caller contract violation. The
// fence is the ordering dependency every subsequent read of the variables
// must wait on.
func ApplyStep(eng *engine.Engine, variables []*Variable, deltas []*tensor.Tensor) *engine.Fence {
	return eng.Do(func() error {
		for i, v := range variables {
			v.Value.Add(deltas[i])
		}
		return nil
	})
}
