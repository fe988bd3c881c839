package optimization

import (
	"testing"

	"github.com/perturblabs/perturb/internal/optimization/engine"
	"github.com/perturblabs/perturb/internal/optimization/tensor"
)

func TestArgumentsWithLeavesReceiverUntouched(t *testing.T) {
	args := Arguments{"batch": 3}
	augmented := args.With("reference", 1.5)

	if _, ok := args["reference"]; ok {
		t.Error("With mutated the receiver")
	}
	if augmented["reference"] != 1.5 {
		t.Errorf("expected reference 1.5, got %v", augmented["reference"])
	}
	if augmented["batch"] != 3 {
		t.Errorf("expected batch carried over, got %v", augmented["batch"])
	}

	// Replacing an existing key must not leak back either.
	replaced := augmented.With("reference", 2.5)
	if augmented["reference"] != 1.5 {
		t.Errorf("With mutated the receiver on replace: %v", augmented["reference"])
	}
	if replaced["reference"] != 2.5 {
		t.Errorf("expected reference 2.5, got %v", replaced["reference"])
	}
}

func TestApplyStepAddsDeltas(t *testing.T) {
	eng := engine.New()
	defer eng.Close()

	a := NewVariable("a", []float64{1, 2})
	b := NewVariable("b", []float64{10})
	da, _ := tensor.FromSlice([]float64{0.5, -0.5}, 2)
	db, _ := tensor.FromSlice([]float64{-1}, 1)

	fence := ApplyStep(eng, []*Variable{a, b}, []*tensor.Tensor{da, db})
	if err := fence.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.Value.At(0) != 1.5 || a.Value.At(1) != 1.5 {
		t.Errorf("variable a not updated: %v", a.Value.Data())
	}
	if b.Value.At(0) != 9 {
		t.Errorf("variable b not updated: %v", b.Value.Data())
	}
}

func TestApplyStepOrdering(t *testing.T) {
	eng := engine.New()
	defer eng.Close()

	v := NewVariable("v", []float64{0})
	one, _ := tensor.FromSlice([]float64{1}, 1)

	// Two sequential applies; waiting on the second fence must expose both.
	ApplyStep(eng, []*Variable{v}, []*tensor.Tensor{one})
	fence := ApplyStep(eng, []*Variable{v}, []*tensor.Tensor{one})
	if err := fence.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v.Value.At(0) != 2 {
		t.Errorf("expected 2 after two applies, got %v", v.Value.At(0))
	}
}
