package engine

// Cond decides whether a bounded loop should run another iteration, given the
// loop-carried state.
type Cond[S any] func(S) bool

// AlwaysTrue is the continuation condition of loops that always run to their
// maximum iteration count.
func AlwaysTrue[S any](S) bool { return true }

// Loop is the bounded dynamic loop construct. The body is defined once and
// executed while cond holds, up to maxIterations times, with the loop-carried
// state threaded between iterations. A body error stops the loop and is
// returned with the state of the last completed iteration.
func Loop[S any](cond Cond[S], body func(S) (S, error), state S, maxIterations int) (S, error) {
	for i := 0; i < maxIterations && cond(state); i++ {
		next, err := body(state)
		if err != nil {
			return state, err
		}
		state = next
	}
	return state, nil
}

// Unroll is the eager driver over the same body shape: the n repetitions are
// enumerated up front and run unconditionally. For any body, Unroll(body, s, n)
// and Loop(AlwaysTrue, body, s, n) must be equivalent.
func Unroll[S any](body func(S) (S, error), state S, n int) (S, error) {
	for i := 0; i < n; i++ {
		next, err := body(state)
		if err != nil {
			return state, err
		}
		state = next
	}
	return state, nil
}
