package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/perturblabs/perturb/internal/logging"
	"github.com/perturblabs/perturb/internal/optimization"
	"github.com/perturblabs/perturb/internal/optimization/descent"
	"github.com/perturblabs/perturb/internal/optimization/engine"
	"github.com/perturblabs/perturb/internal/optimization/evolutionary"
	"github.com/perturblabs/perturb/internal/optimization/multistep"
	"github.com/perturblabs/perturb/internal/optimization/objectives"
)

var (
	objective    string
	algorithm    string
	initial      []float64
	learningRate float64
	epsilon      float64
	numSamples   int
	numSteps     int
	iterations   int
	seed         int64
	unrollLoop   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a one-shot optimization",
	Long:  `Runs perturbation-based optimization of a benchmark objective and prints the result as JSON.`,
	RunE:  runOptimization,
}

func init() {
	runCmd.Flags().StringVar(&objective, "objective", "sphere", "Objective function name")
	runCmd.Flags().StringVar(&algorithm, "algorithm", "evolutionary", "Optimization algorithm (evolutionary, descent)")
	runCmd.Flags().Float64SliceVar(&initial, "initial", []float64{1, 1}, "Initial variable values")
	runCmd.Flags().Float64Var(&learningRate, "lr", 0.05, "Learning rate (perturbation scale)")
	runCmd.Flags().Float64Var(&epsilon, "epsilon", 0, "Central-difference probe width (descent only, 0 for the default)")
	runCmd.Flags().IntVar(&numSamples, "samples", 8, "Perturbation samples per step")
	runCmd.Flags().IntVar(&numSteps, "steps", 1, "Inner steps per iteration (multi-step wrapping if > 1)")
	runCmd.Flags().IntVar(&iterations, "iters", 200, "Number of optimization iterations")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "Random seed (0 for time-based)")
	runCmd.Flags().BoolVar(&unrollLoop, "unroll", false, "Use the unrolled loop strategy")

	rootCmd.AddCommand(runCmd)
}

func runOptimization(cmd *cobra.Command, args []string) error {
	builder, err := objectives.ByName(objective)
	if err != nil {
		return err
	}

	variable := optimization.NewVariable("x", initial)
	variables := []*optimization.Variable{variable}
	loss := builder(variables)

	eng := engine.New()
	defer eng.Close()

	stepLogger := logging.NewZapLogger(logger)

	var opt optimization.Optimizer
	switch algorithm {
	case "descent":
		opt, err = descent.New(descent.Config{
			LearningRate: learningRate,
			Epsilon:      epsilon,
			Engine:       eng,
			Logger:       stepLogger,
		})
	case "evolutionary":
		opt, err = evolutionary.New(evolutionary.Config{
			LearningRate: learningRate,
			NumSamples:   numSamples,
			UnrollLoop:   unrollLoop,
			Seed:         seed,
			Engine:       eng,
			Logger:       stepLogger,
		})
	default:
		return fmt.Errorf("unknown algorithm %q", algorithm)
	}
	if err != nil {
		return err
	}
	if numSteps > 1 {
		opt, err = multistep.New(multistep.Config{
			Optimizer:  opt,
			NumSteps:   numSteps,
			UnrollLoop: unrollLoop,
		})
		if err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger.Info("Starting optimization", map[string]interface{}{
		"objective":  objective,
		"algorithm":  algorithm,
		"dimensions": len(initial),
		"samples":    numSamples,
		"steps":      numSteps,
		"iterations": iterations,
	})

	start := time.Now()
	bestLoss, err := loss(ctx, nil)
	if err != nil {
		return err
	}
	bestValues := append([]float64(nil), variable.Value.Data()...)

	for i := 0; i < iterations; i++ {
		if _, err := opt.Step(ctx, optimization.StepRequest{
			Time:      int64(i),
			Variables: variables,
			Arguments: optimization.Arguments{},
			Loss:      loss,
		}); err != nil {
			return err
		}
		current, err := loss(ctx, nil)
		if err != nil {
			return err
		}
		if current < bestLoss {
			bestLoss = current
			bestValues = append(bestValues[:0], variable.Value.Data()...)
		}
	}

	logger.Info("Optimization finished", map[string]interface{}{
		"best_loss": bestLoss,
		"elapsed":   time.Since(start).String(),
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{
		"objective":   objective,
		"algorithm":   algorithm,
		"iterations":  iterations,
		"best_loss":   bestLoss,
		"best_values": bestValues,
		"final":       variable.Value.Data(),
	})
}
