package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstantSampler(t *testing.T) {
	s := Constant{Size: 42, Life: 7}
	samples := s.Sample(3)
	assert.Len(t, samples, 3)
	for _, sm := range samples {
		assert.Equal(t, int64(42), sm.Size)
		assert.Equal(t, 7.0, sm.Life)
	}
}

func TestEmpiricalDeterministic(t *testing.T) {
	a := NewEmpirical(1, 365)
	b := NewEmpirical(1, 365)

	sa := a.Sample(500)
	sb := b.Sample(500)

	assert.Equal(t, sa, sb, "same seed must produce the same sample sequence")
}

func TestEmpiricalDifferentSeedsDiverge(t *testing.T) {
	a := NewEmpirical(1, 365)
	b := NewEmpirical(2, 365)

	assert.NotEqual(t, a.Sample(200), b.Sample(200))
}

func TestEmpiricalBounds(t *testing.T) {
	s := NewEmpirical(99, 365)
	for _, sm := range s.Sample(2000) {
		assert.GreaterOrEqual(t, sm.Size, int64(4))
		assert.LessOrEqual(t, sm.Size, int64(3000))
		assert.GreaterOrEqual(t, sm.Life, 1.0)
		assert.LessOrEqual(t, sm.Life, 366.0)
	}
}

func TestRandintUniformOverRange(t *testing.T) {
	s := NewEmpirical(7, 365)
	counts := make(map[int64]int)
	for i := 0; i < 10000; i++ {
		v := randint(s.rng, 1, 3)
		assert.GreaterOrEqual(t, v, int64(1))
		assert.LessOrEqual(t, v, int64(3))
		counts[v]++
	}
	assert.Len(t, counts, 3, "every value in [min, max] should eventually be drawn")
}

func TestRandintDegenerateRange(t *testing.T) {
	s := NewEmpirical(7, 365)
	assert.Equal(t, int64(5), randint(s.rng, 5, 5))
	assert.Equal(t, int64(5), randint(s.rng, 5, 4))
}
