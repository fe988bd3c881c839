package optimization

import "testing"

// ForBothStrategies runs fn as a subtest under each loop execution strategy.
// Optimizers must behave identically under both, so behavioral tests in the
// optimizer packages run through this helper.
func ForBothStrategies(t *testing.T, fn func(t *testing.T, unroll bool)) {
	t.Helper()
	t.Run("unrolled", func(t *testing.T) { fn(t, true) })
	t.Run("dynamic loop", func(t *testing.T) { fn(t, false) })
}
