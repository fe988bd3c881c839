// Package descent implements plain gradient descent with central-difference
// gradient estimates, for models that expose only a loss callable.
package descent

import (
	"context"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/perturblabs/perturb/internal/optimization"
	"github.com/perturblabs/perturb/internal/optimization/engine"
	"github.com/perturblabs/perturb/internal/optimization/tensor"
)

// DefaultEpsilon is the probe width used when Config.Epsilon is zero.
const DefaultEpsilon = 1e-6

// Config holds the construction parameters of a descent optimizer.
type Config struct {
	// LearningRate scales the negated gradient estimate. Must be positive.
	LearningRate float64
	// Epsilon is the central-difference probe width. Defaults to
	// DefaultEpsilon.
	Epsilon float64
	// Engine executes variable mutations. When nil the optimizer creates and
	// owns one; Close releases it.
	Engine *engine.Engine
	// Logger receives step diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Optimizer performs one gradient descent step per call, estimating the
// gradient elementwise from loss evaluations at x+eps and x-eps.
type Optimizer struct {
	learningRate float64
	epsilon      float64
	eng          *engine.Engine
	ownsEngine   bool
	logger       *zap.Logger
}

// New validates the configuration and creates a descent optimizer.
func New(cfg Config) (*Optimizer, error) {
	if cfg.LearningRate <= 0 {
		return nil, optimization.NewConfigError("descent", "learning rate must be positive, got %g", cfg.LearningRate)
	}
	if cfg.Epsilon < 0 {
		return nil, optimization.NewConfigError("descent", "epsilon must not be negative, got %g", cfg.Epsilon)
	}
	o := &Optimizer{
		learningRate: cfg.LearningRate,
		epsilon:      cfg.Epsilon,
		eng:          cfg.Engine,
		logger:       cfg.Logger,
	}
	if o.epsilon == 0 {
		o.epsilon = DefaultEpsilon
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.eng == nil {
		o.eng = engine.New()
		o.ownsEngine = true
	}
	return o, nil
}

// Name implements optimization.Optimizer.
func (o *Optimizer) Name() string { return "descent" }

// Close releases the engine if the optimizer owns it.
func (o *Optimizer) Close() {
	if o.ownsEngine {
		o.eng.Close()
	}
}

// Step estimates the gradient of the loss by central differences, applies
// -learningRate * gradient to the variables and returns the applied deltas.
// Every probe mutation is fenced before the loss evaluation that reads it,
// and the variables are restored to their pre-probe values in between.
func (o *Optimizer) Step(ctx context.Context, req optimization.StepRequest) ([]*tensor.Tensor, error) {
	deltas := make([]*tensor.Tensor, len(req.Variables))
	for i, v := range req.Variables {
		grad := tensor.ZerosLike(v.Value)
		probe := tensor.ZerosLike(v.Value)
		probes := []*tensor.Tensor{probe}
		target := []*optimization.Variable{v}

		for j := 0; j < grad.Len(); j++ {
			probe.Set(j, o.epsilon)
			if err := optimization.ApplyStep(o.eng, target, probes).Wait(); err != nil {
				return nil, err
			}
			lossPlus, err := req.Loss(ctx, req.Arguments)
			if err != nil {
				return nil, err
			}

			probe.Set(j, -2*o.epsilon)
			if err := optimization.ApplyStep(o.eng, target, probes).Wait(); err != nil {
				return nil, err
			}
			lossMinus, err := req.Loss(ctx, req.Arguments)
			if err != nil {
				return nil, err
			}

			// Restore before probing the next element.
			probe.Set(j, o.epsilon)
			if err := optimization.ApplyStep(o.eng, target, probes).Wait(); err != nil {
				return nil, err
			}
			probe.Set(j, 0)

			grad.Set(j, (lossPlus-lossMinus)/(2*o.epsilon))
		}

		grad.Scale(-o.learningRate)
		deltas[i] = grad

		o.logger.Debug("Descent update computed",
			zap.Int64("time", req.Time),
			zap.String("variable", v.Name),
			zap.Float64("delta_norm", floats.Norm(grad.Data(), 2)))
	}

	if err := optimization.ApplyStep(o.eng, req.Variables, deltas).Wait(); err != nil {
		return nil, err
	}
	return deltas, nil
}
