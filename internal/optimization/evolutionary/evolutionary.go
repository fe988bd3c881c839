// Package evolutionary implements a zeroth-order optimizer that samples
// random perturbations of the variables and keeps or reverses each one
// depending on whether it improved the loss.
package evolutionary

import (
	"context"

	"go.uber.org/zap"

	"github.com/perturblabs/perturb/internal/optimization"
	"github.com/perturblabs/perturb/internal/optimization/engine"
	"github.com/perturblabs/perturb/internal/optimization/tensor"
)

// Config holds the construction parameters of an evolutionary optimizer.
type Config struct {
	// LearningRate scales every sampled perturbation. Must be positive.
	LearningRate float64
	// NumSamples is the number of perturbations probed per step. Must be
	// positive.
	NumSamples int
	// UnrollLoop selects the eagerly unrolled driver instead of the bounded
	// dynamic loop. Both produce identical results.
	UnrollLoop bool
	// Seed seeds the default perturbation sampler. Zero selects a time-based
	// seed. Ignored when Sampler is set.
	Seed int64
	// Sampler overrides the standard-normal perturbation source. Tests inject
	// deterministic samplers here.
	Sampler tensor.Sampler
	// Engine executes variable mutations. When nil the optimizer creates and
	// owns one; Close releases it.
	Engine *engine.Engine
	// Logger receives step diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Optimizer estimates an update direction by random search: perturb the
// variables, compare the loss against the unperturbed baseline, push in the
// direction that reduced it, and average over NumSamples probes.
type Optimizer struct {
	learningRate float64
	numSamples   int
	unrollLoop   bool
	sampler      tensor.Sampler
	eng          *engine.Engine
	ownsEngine   bool
	logger       *zap.Logger
}

// New validates the configuration and creates an evolutionary optimizer.
func New(cfg Config) (*Optimizer, error) {
	if cfg.LearningRate <= 0 {
		return nil, optimization.NewConfigError("evolutionary", "learning rate must be positive, got %g", cfg.LearningRate)
	}
	if cfg.NumSamples < 1 {
		return nil, optimization.NewConfigError("evolutionary", "num samples must be positive, got %d", cfg.NumSamples)
	}
	o := &Optimizer{
		learningRate: cfg.LearningRate,
		numSamples:   cfg.NumSamples,
		unrollLoop:   cfg.UnrollLoop,
		sampler:      cfg.Sampler,
		eng:          cfg.Engine,
		logger:       cfg.Logger,
	}
	if o.sampler == nil {
		o.sampler = tensor.NewNormalSampler(cfg.Seed)
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
func (o *Optimizer) Name() string { return "evolutionary" }

// Close releases the engine if the optimizer owns it.
func (o *Optimizer) Close() {
	if o.ownsEngine {
		o.eng.Close()
	}
}

// loopState is the loop-carried state of the sampling loop: the running sum
// of signed perturbations and the perturbations currently applied to the
// variables.
type loopState struct {
	deltasSum     []*tensor.Tensor
	perturbations []*tensor.Tensor
}

// Step probes NumSamples random perturbations and returns the averaged,
// direction-weighted estimate, one delta per variable.
//
// The variables trace the path original -> perturbation_1 -> ... ->
// perturbation_m -> original + deltas: each sample applies only the increment
// over the previously applied perturbation, and the final application offsets
// the last perturbation so the variables end exactly at original + deltas.
// Every loss evaluation waits on the fence of the mutation preceding it.
func (o *Optimizer) Step(ctx context.Context, req optimization.StepRequest) ([]*tensor.Tensor, error) {
	unperturbedLoss, err := req.Loss(ctx, req.Arguments)
	if err != nil {
		return nil, err
	}

	// First sample
	perturbations := o.sample(req.Variables)
	applied := optimization.ApplyStep(o.eng, req.Variables, perturbations)
	if err := applied.Wait(); err != nil {
		return nil, err
	}

	perturbedLoss, err := req.Loss(ctx, req.Arguments)
	if err != nil {
		return nil, err
	}
	direction := tensor.Sign(unperturbedLoss - perturbedLoss)
	deltasSum := make([]*tensor.Tensor, len(perturbations))
	for i, pert := range perturbations {
		d := pert.Clone()
		d.Scale(direction)
		deltasSum[i] = d
	}

	body := func(st loopState) (loopState, error) {
		perturbations := o.sample(req.Variables)
		perturbationDeltas := make([]*tensor.Tensor, len(perturbations))
		for i, pert := range perturbations {
			d := pert.Clone()
			d.Sub(st.perturbations[i])
			perturbationDeltas[i] = d
		}
		applied := optimization.ApplyStep(o.eng, req.Variables, perturbationDeltas)
		if err := applied.Wait(); err != nil {
			return st, err
		}

		perturbedLoss, err := req.Loss(ctx, req.Arguments)
		if err != nil {
			return st, err
		}
		direction := tensor.Sign(unperturbedLoss - perturbedLoss)
		for i, pert := range perturbations {
			st.deltasSum[i].AddScaled(direction, pert)
		}
		st.perturbations = perturbations
		return st, nil
	}

	st := loopState{deltasSum: deltasSum, perturbations: perturbations}
	if o.unrollLoop {
		st, err = engine.Unroll(body, st, o.numSamples-1)
	} else {
		st, err = engine.Loop(engine.AlwaysTrue, body, st, o.numSamples-1)
	}
	if err != nil {
		return nil, err
	}

	// Average, then offset the last applied perturbation so the variables end
	// at original + deltas rather than at the final sample.
	deltas := make([]*tensor.Tensor, len(st.deltasSum))
	finalDeltas := make([]*tensor.Tensor, len(st.deltasSum))
	for i, sum := range st.deltasSum {
		d := sum.Clone()
		d.Scale(1 / float64(o.numSamples))
		deltas[i] = d

		f := d.Clone()
		f.Sub(st.perturbations[i])
		finalDeltas[i] = f
	}
	applied = optimization.ApplyStep(o.eng, req.Variables, finalDeltas)
	if err := applied.Wait(); err != nil {
		return nil, err
	}

	o.logger.Debug("Evolutionary step complete",
		zap.Int64("time", req.Time),
		zap.Int("samples", o.numSamples),
		zap.Float64("unperturbed_loss", unperturbedLoss))
	return deltas, nil
}

// sample draws one fresh perturbation per variable, scaled by the learning
// rate. Draws are independent per variable and per sample.
func (o *Optimizer) sample(variables []*optimization.Variable) []*tensor.Tensor {
	perturbations := make([]*tensor.Tensor, len(variables))
	for i, v := range variables {
		pert := o.sampler.Sample(v.Value.Shape())
		pert.Scale(o.learningRate)
		perturbations[i] = pert
	}
	return perturbations
}
