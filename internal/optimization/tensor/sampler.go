package tensor

import (
	"math/rand"
	"time"
)

// Sampler draws random tensors of a requested shape. Optimizers take a
// Sampler so tests can substitute deterministic draws.
type Sampler interface {
	Sample(shape []int) *Tensor
}

// NormalSampler draws tensors with independent standard-normal elements.
type NormalSampler struct {
	rng *rand.Rand
}

// NewNormalSampler creates a sampler seeded with the given value. A zero seed
// selects a time-based seed.
func NewNormalSampler(seed int64) *NormalSampler {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &NormalSampler{rng: rand.New(rand.NewSource(seed))}
}

// Sample draws a fresh standard-normal tensor with the given shape.
func (s *NormalSampler) Sample(shape []int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = s.rng.NormFloat64()
	}
	return t
}
