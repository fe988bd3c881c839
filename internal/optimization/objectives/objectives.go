// Package objectives provides named benchmark loss functions over a variable
// set, used by the HTTP service, the CLI and tests.
package objectives

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/perturblabs/perturb/internal/optimization"
)

// Builder creates a loss over the given variables. The returned LossFunc
// reads the variables' current values on every evaluation.
type Builder func(variables []*optimization.Variable) optimization.LossFunc

var registry = map[string]Builder{
	"sphere":     Sphere,
	"rosenbrock": Rosenbrock,
	"rastrigin":  Rastrigin,
}

// Names lists the registered objectives in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByName returns the builder registered under name.
func ByName(name string) (Builder, error) {
	builder, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown objective %q (have %v)", name, Names())
	}
	return builder, nil
}

// flatten walks all variable elements in order.
func flatten(variables []*optimization.Variable, visit func(x float64)) {
	for _, v := range variables {
		for _, x := range v.Value.Data() {
			visit(x)
		}
	}
}

// Sphere is sum(x_i^2), minimum 0 at the origin.
func Sphere(variables []*optimization.Variable) optimization.LossFunc {
	return func(ctx context.Context, args optimization.Arguments) (float64, error) {
		sum := 0.0
		flatten(variables, func(x float64) {
			sum += x * x
		})
		return sum, nil
	}
}

// Rosenbrock is the classic banana valley over the concatenated variable
// elements, minimum 0 at (1, ..., 1). Requires at least two elements.
func Rosenbrock(variables []*optimization.Variable) optimization.LossFunc {
	return func(ctx context.Context, args optimization.Arguments) (float64, error) {
		var xs []float64
		flatten(variables, func(x float64) {
			xs = append(xs, x)
		})
		if len(xs) < 2 {
			return 0, fmt.Errorf("rosenbrock needs at least 2 elements, got %d", len(xs))
		}
		sum := 0.0
		for i := 0; i < len(xs)-1; i++ {
			a := xs[i+1] - xs[i]*xs[i]
			b := 1 - xs[i]
			sum += 100*a*a + b*b
		}
		return sum, nil
	}
}

// Rastrigin is the highly multimodal 10n + sum(x_i^2 - 10 cos(2 pi x_i)),
// minimum 0 at the origin.
func Rastrigin(variables []*optimization.Variable) optimization.LossFunc {
	return func(ctx context.Context, args optimization.Arguments) (float64, error) {
		sum := 0.0
		n := 0
		flatten(variables, func(x float64) {
			sum += x*x - 10*math.Cos(2*math.Pi*x)
			n++
		})
		return 10*float64(n) + sum, nil
	}
}

// Quadratic is sum((x_i - target_i)^2) over the concatenated variable
// elements. Targets beyond len(target) are treated as zero.
func Quadratic(target []float64) Builder {
	return func(variables []*optimization.Variable) optimization.LossFunc {
		return func(ctx context.Context, args optimization.Arguments) (float64, error) {
			sum := 0.0
			i := 0
			flatten(variables, func(x float64) {
				t := 0.0
				if i < len(target) {
					t = target[i]
				}
				d := x - t
				sum += d * d
				i++
			})
			return sum, nil
		}
	}
}
