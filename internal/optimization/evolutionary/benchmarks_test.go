package evolutionary

import (
	"context"
	"testing"

	"github.com/perturblabs/perturb/internal/optimization"
	"github.com/perturblabs/perturb/internal/optimization/objectives"
)

// BenchmarkStepScaling measures how one optimization step scales with the
// number of perturbation samples.
func BenchmarkStepScaling(b *testing.B) {
	tests := []struct {
		name       string
		numSamples int
	}{
		{"Samples1", 1},
		{"Samples8", 8},
		{"Samples32", 32},
	}

	for _, tt := range tests {
		b.Run(tt.name, func(b *testing.B) {
			opt, err := New(Config{
				LearningRate: 0.05,
				NumSamples:   tt.numSamples,
				Seed:         1,
			})
			if err != nil {
				b.Fatal(err)
			}
			defer opt.Close()

			v := optimization.NewVariable("x", []float64{1.5, -1.0, 0.5, 2.0})
			loss := objectives.Sphere([]*optimization.Variable{v})
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := opt.Step(ctx, optimization.StepRequest{
					Time:      int64(i),
					Variables: []*optimization.Variable{v},
					Arguments: optimization.Arguments{},
					Loss:      loss,
				}); err != nil {
					b.Fatal(err)
				}
			}

			b.ReportAllocs()
		})
	}
}

// BenchmarkStrategyComparison compares the two loop execution strategies on
// an otherwise identical step.
func BenchmarkStrategyComparison(b *testing.B) {
	tests := []struct {
		name   string
		unroll bool
	}{
		{"Unrolled", true},
		{"DynamicLoop", false},
	}

	for _, tt := range tests {
		b.Run(tt.name, func(b *testing.B) {
			opt, err := New(Config{
				LearningRate: 0.05,
				NumSamples:   8,
				UnrollLoop:   tt.unroll,
				Seed:         1,
			})
			if err != nil {
				b.Fatal(err)
			}
			defer opt.Close()

			v := optimization.NewVariable("x", []float64{0.3, -0.2, 1.1})
			loss := objectives.Sphere([]*optimization.Variable{v})
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := opt.Step(ctx, optimization.StepRequest{
					Time:      int64(i),
					Variables: []*optimization.Variable{v},
					Arguments: optimization.Arguments{},
					Loss:      loss,
				}); err != nil {
					b.Fatal(err)
				}
			}

			b.ReportAllocs()
		})
	}
}
