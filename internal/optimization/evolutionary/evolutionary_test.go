package evolutionary

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perturblabs/perturb/internal/logging"
	"github.com/perturblabs/perturb/internal/optimization"
	"github.com/perturblabs/perturb/internal/optimization/objectives"
	"github.com/perturblabs/perturb/internal/optimization/tensor"
)

// fixedSampler returns the same values on every draw, letting tests pin the
// sampled perturbations exactly.
type fixedSampler struct {
	values []float64
	draws  int
}

func (s *fixedSampler) Sample(shape []int) *tensor.Tensor {
	s.draws++
	t := tensor.New(shape...)
	for i := 0; i < t.Len() && i < len(s.values); i++ {
		t.Set(i, s.values[i])
	}
	return t
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  Config{LearningRate: 0.1, NumSamples: 4},
		},
		{
			name:    "zero learning rate",
			cfg:     Config{LearningRate: 0, NumSamples: 4},
			wantErr: true,
		},
		{
			name:    "negative learning rate",
			cfg:     Config{LearningRate: -0.5, NumSamples: 4},
			wantErr: true,
		},
		{
			name:    "zero samples",
			cfg:     Config{LearningRate: 0.1, NumSamples: 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, err := New(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, optimization.IsConfigError(err), "expected a configuration error, got %v", err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, opt)
			opt.Close()
		})
	}
}

func quadraticRequest(v *optimization.Variable, target float64) optimization.StepRequest {
	loss := objectives.Quadratic([]float64{target})([]*optimization.Variable{v})
	return optimization.StepRequest{
		Variables: []*optimization.Variable{v},
		Arguments: optimization.Arguments{},
		Loss:      loss,
	}
}

func TestDirectionKeepsImprovingPerturbation(t *testing.T) {
	optimization.ForBothStrategies(t, func(t *testing.T, unroll bool) {
		// Loss (x-1)^2 from x=0; a +0.5 perturbation reduces it, so the
		// returned delta must equal the perturbation, not its negation.
		opt, err := New(Config{
			LearningRate: 1.0,
			NumSamples:   1,
			UnrollLoop:   unroll,
			Sampler:      &fixedSampler{values: []float64{0.5}},
		})
		require.NoError(t, err)
		defer opt.Close()

		v := optimization.NewVariable("x", []float64{0})
		deltas, err := opt.Step(context.Background(), quadraticRequest(v, 1))
		require.NoError(t, err)

		require.Len(t, deltas, 1)
		assert.InDelta(t, 0.5, deltas[0].At(0), 1e-12)
		assert.InDelta(t, 0.5, v.Value.At(0), 1e-12, "variable must end at original + delta")
	})
}

func TestDirectionReversesWorseningPerturbation(t *testing.T) {
	optimization.ForBothStrategies(t, func(t *testing.T, unroll bool) {
		// From x=0 toward target 1, a -0.5 perturbation increases the loss,
		// so its contribution is reversed.
		opt, err := New(Config{
			LearningRate: 1.0,
			NumSamples:   1,
			UnrollLoop:   unroll,
			Sampler:      &fixedSampler{values: []float64{-0.5}},
		})
		require.NoError(t, err)
		defer opt.Close()

		v := optimization.NewVariable("x", []float64{0})
		deltas, err := opt.Step(context.Background(), quadraticRequest(v, 1))
		require.NoError(t, err)

		assert.InDelta(t, 0.5, deltas[0].At(0), 1e-12)
		assert.InDelta(t, 0.5, v.Value.At(0), 1e-12)
	})
}

func TestTieBreakContributesNothing(t *testing.T) {
	optimization.ForBothStrategies(t, func(t *testing.T, unroll bool) {
		opt, err := New(Config{
			LearningRate: 1.0,
			NumSamples:   3,
			UnrollLoop:   unroll,
			Sampler:      &fixedSampler{values: []float64{0.5}},
		})
		require.NoError(t, err)
		defer opt.Close()

		v := optimization.NewVariable("x", []float64{0})
		constantLoss := func(ctx context.Context, args optimization.Arguments) (float64, error) {
			return 7.0, nil
		}
		deltas, err := opt.Step(context.Background(), optimization.StepRequest{
			Variables: []*optimization.Variable{v},
			Arguments: optimization.Arguments{},
			Loss:      constantLoss,
		})
		require.NoError(t, err)

		assert.Zero(t, deltas[0].At(0), "equal losses must contribute nothing")
		assert.Zero(t, v.Value.At(0), "variable must return to its original value")
	})
}

func TestAveragingOverIdenticalSamples(t *testing.T) {
	optimization.ForBothStrategies(t, func(t *testing.T, unroll bool) {
		// Every draw is the same improving perturbation p, so the sum is
		// k*p and the average exactly p.
		const k = 4
		opt, err := New(Config{
			LearningRate: 1.0,
			NumSamples:   k,
			UnrollLoop:   unroll,
			Sampler:      &fixedSampler{values: []float64{0.5}},
		})
		require.NoError(t, err)
		defer opt.Close()

		v := optimization.NewVariable("x", []float64{0})
		deltas, err := opt.Step(context.Background(), quadraticRequest(v, 1))
		require.NoError(t, err)

		assert.InDelta(t, 0.5, deltas[0].At(0), 1e-12)
		assert.InDelta(t, 0.5, v.Value.At(0), 1e-12)
	})
}

func TestStrategiesProduceIdenticalResults(t *testing.T) {
	run := func(unroll bool) ([]float64, []float64) {
		opt, err := New(Config{
			LearningRate: 0.1,
			NumSamples:   6,
			UnrollLoop:   unroll,
			Seed:         7,
		})
		require.NoError(t, err)
		defer opt.Close()

		v := optimization.NewVariable("x", []float64{0.3, -0.2, 1.1})
		loss := objectives.Sphere([]*optimization.Variable{v})
		deltas, err := opt.Step(context.Background(), optimization.StepRequest{
			Variables: []*optimization.Variable{v},
			Arguments: optimization.Arguments{},
			Loss:      loss,
		})
		require.NoError(t, err)
		return deltas[0].Data(), v.Value.Data()
	}

	unrolledDeltas, unrolledFinal := run(true)
	loopedDeltas, loopedFinal := run(false)

	assert.Equal(t, unrolledDeltas, loopedDeltas, "strategies must produce identical deltas for the same seed")
	assert.Equal(t, unrolledFinal, loopedFinal, "strategies must produce identical final variables for the same seed")
}

func TestFinalStateEqualsOriginalPlusDelta(t *testing.T) {
	optimization.ForBothStrategies(t, func(t *testing.T, unroll bool) {
		opt, err := New(Config{
			LearningRate: 0.05,
			NumSamples:   5,
			UnrollLoop:   unroll,
			Seed:         13,
		})
		require.NoError(t, err)
		defer opt.Close()

		original := []float64{0.4, -0.7}
		v := optimization.NewVariable("x", original)
		loss := objectives.Sphere([]*optimization.Variable{v})
		deltas, err := opt.Step(context.Background(), optimization.StepRequest{
			Variables: []*optimization.Variable{v},
			Arguments: optimization.Arguments{},
			Loss:      loss,
		})
		require.NoError(t, err)

		for i := range original {
			assert.InDelta(t, original[i]+deltas[0].At(i), v.Value.At(i), 1e-12,
				"variable element %d must end at original + delta", i)
		}
	})
}

func TestSingleSampleSkipsLoop(t *testing.T) {
	optimization.ForBothStrategies(t, func(t *testing.T, unroll bool) {
		sampler := &fixedSampler{values: []float64{0.5}}
		opt, err := New(Config{
			LearningRate: 1.0,
			NumSamples:   1,
			UnrollLoop:   unroll,
			Sampler:      sampler,
		})
		require.NoError(t, err)
		defer opt.Close()

		lossEvals := 0
		v := optimization.NewVariable("x", []float64{0})
		base := quadraticRequest(v, 1)
		counted := func(ctx context.Context, args optimization.Arguments) (float64, error) {
			lossEvals++
			return base.Loss(ctx, args)
		}
		_, err = opt.Step(context.Background(), optimization.StepRequest{
			Variables: base.Variables,
			Arguments: base.Arguments,
			Loss:      counted,
		})
		require.NoError(t, err)

		assert.Equal(t, 1, sampler.draws, "one sample means one draw")
		assert.Equal(t, 2, lossEvals, "baseline and one perturbed evaluation only")
	})
}

func TestLossErrorPropagates(t *testing.T) {
	lossErr := errors.New("loss exploded")
	opt, err := New(Config{
		LearningRate: 1.0,
		NumSamples:   2,
		Sampler:      &fixedSampler{values: []float64{0.5}},
	})
	require.NoError(t, err)
	defer opt.Close()

	evals := 0
	v := optimization.NewVariable("x", []float64{0})
	_, err = opt.Step(context.Background(), optimization.StepRequest{
		Variables: []*optimization.Variable{v},
		Arguments: optimization.Arguments{},
		Loss: func(ctx context.Context, args optimization.Arguments) (float64, error) {
			evals++
			if evals == 2 {
				return 0, lossErr
			}
			return 1.0, nil
		},
	})
	assert.ErrorIs(t, err, lossErr, "loss failures must propagate unmodified")
}

func TestStepLogsDiagnostics(t *testing.T) {
	var buf bytes.Buffer
	opt, err := New(Config{
		LearningRate: 1.0,
		NumSamples:   1,
		Sampler:      &fixedSampler{values: []float64{0.5}},
		Logger:       logging.NewZapLogger(logging.New(logging.DebugLevel, &buf)),
	})
	require.NoError(t, err)
	defer opt.Close()

	v := optimization.NewVariable("x", []float64{0})
	_, err = opt.Step(context.Background(), quadraticRequest(v, 1))
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "Evolutionary step complete")
	assert.Contains(t, buf.String(), "unperturbed_loss")
}

func TestOptimizesSphere(t *testing.T) {
	opt, err := New(Config{
		LearningRate: 0.05,
		NumSamples:   8,
		Seed:         42,
	})
	require.NoError(t, err)
	defer opt.Close()

	v := optimization.NewVariable("x", []float64{1.5, -1.0})
	loss := objectives.Sphere([]*optimization.Variable{v})
	ctx := context.Background()

	initial, err := loss(ctx, nil)
	require.NoError(t, err)

	for i := 0; i < 150; i++ {
		_, err := opt.Step(ctx, optimization.StepRequest{
			Time:      int64(i),
			Variables: []*optimization.Variable{v},
			Arguments: optimization.Arguments{},
			Loss:      loss,
		})
		require.NoError(t, err)
	}

	final, err := loss(ctx, nil)
	require.NoError(t, err)
	assert.Less(t, final, initial, "random search should reduce the sphere loss")
}
