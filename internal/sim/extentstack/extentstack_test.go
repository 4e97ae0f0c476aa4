package extentstack

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/asch/ssdsim/internal/sim/id"
)

func TestSinglePopStripeExtsSpansKeys(t *testing.T) {
	s := NewSingle()
	s.AddExtent(1, id.ExtentID(1))
	s.AddExtent(1, id.ExtentID(2))
	s.AddExtent(2, id.ExtentID(3))

	assert.Nil(t, s.PopStripeExts(4), "fewer extents than requested returns nothing")

	got := s.PopStripeExts(3)
	assert.Equal(t, []id.ExtentID{1, 2, 3}, got)
	assert.Zero(t, s.Len())
}

func TestSingleAddRemoveContains(t *testing.T) {
	s := NewSingle()
	s.AddExtent(5, id.ExtentID(10))
	assert.True(t, s.Contains(id.ExtentID(10)))

	s.Remove(id.ExtentID(10))
	assert.False(t, s.Contains(id.ExtentID(10)))
	assert.Zero(t, s.LenAtKey(5))
}

func TestMultiRequiresFullStripeFromSameKey(t *testing.T) {
	m := NewMulti()
	m.AddExtent(1, id.ExtentID(1))
	m.AddExtent(2, id.ExtentID(2))
	m.AddExtent(2, id.ExtentID(3))

	assert.Nil(t, m.PopStripeExts(3), "no single key's queue has 3 extents yet")

	m.AddExtent(1, id.ExtentID(4))
	m.AddExtent(2, id.ExtentID(5))
	got := m.PopStripeExts(3)
	assert.Equal(t, []id.ExtentID{2, 3, 5}, got, "the first key whose queue satisfies the stripe size is chosen")
}

func TestMultiNumStripes(t *testing.T) {
	m := NewMulti()
	for i := 0; i < 5; i++ {
		m.AddExtent(1, id.ExtentID(i))
	}
	assert.Equal(t, 2, m.NumStripes(2))
	assert.Zero(t, m.NumStripes(0))
}

func TestBestEffortClosestKeyTieBreaksHigh(t *testing.T) {
	b := NewBestEffort()
	b.AddExtent(10, id.ExtentID(1))
	b.AddExtent(20, id.ExtentID(2))

	ext, ok := b.GetAtClosestKey(15)
	assert.True(t, ok)
	assert.Equal(t, id.ExtentID(2), ext, "equidistant keys break toward the higher key")
}

func TestBestEffortClosestKeyBeyondRange(t *testing.T) {
	b := NewBestEffort()
	b.AddExtent(10, id.ExtentID(1))
	b.AddExtent(20, id.ExtentID(2))

	ext, ok := b.GetAtClosestKey(100)
	assert.True(t, ok)
	assert.Equal(t, id.ExtentID(2), ext)

	ext, ok = b.GetAtClosestKey(0)
	assert.True(t, ok)
	assert.Equal(t, id.ExtentID(1), ext)
}

func TestBestEffortClosestKeyEmpty(t *testing.T) {
	b := NewBestEffort()
	_, ok := b.GetAtClosestKey(1)
	assert.False(t, ok)
}

func TestRandomizerPreservesCountsAndKeys(t *testing.T) {
	inner := NewSingle()
	for i := 0; i < 20; i++ {
		inner.AddExtent(i%3, id.ExtentID(i))
	}
	r := NewRandomizer(inner, 42)

	before := inner.Len()
	got := r.PopStripeExts(6)
	assert.Len(t, got, 6)
	assert.Equal(t, before-6, r.Len())
}

func TestRandomizerDeterministicForSameSeed(t *testing.T) {
	build := func(seed int64) []id.ExtentID {
		inner := NewSingle()
		for i := 0; i < 10; i++ {
			inner.AddExtent(0, id.ExtentID(i))
		}
		r := NewRandomizer(inner, seed)
		return r.PopStripeExts(10)
	}

	assert.Equal(t, build(7), build(7))
}

func TestWholeObjectPrefersLargestBundleThenFillsGap(t *testing.T) {
	w := NewWholeObject()
	w.AddBundle([]id.ExtentID{1, 2, 3})
	w.AddBundle([]id.ExtentID{4, 5})
	w.AddBundle([]id.ExtentID{6})

	got := w.PopStripeExts(4)
	assert.Len(t, got, 4)
	assert.Contains(t, got, id.ExtentID(1))
	assert.Contains(t, got, id.ExtentID(2))
	assert.Contains(t, got, id.ExtentID(3))

	assert.Equal(t, 2, w.Len(), "the untouched bundle remains pooled")
}

func TestWholeObjectSplitsOversizedBundle(t *testing.T) {
	w := NewWholeObject()
	w.AddBundle([]id.ExtentID{1, 2, 3, 4, 5})

	got := w.PopStripeExts(2)
	assert.Len(t, got, 2)
	assert.Equal(t, 3, w.Len(), "the remainder of the split bundle is re-pooled")
}

func TestWholeObjectFillGapOvershootsRatherThanSplitting(t *testing.T) {
	w := NewWholeObject()
	w.AddBundle([]id.ExtentID{1, 2, 3, 4, 5})
	w.AddBundle([]id.ExtentID{6, 7, 8})
	w.AddBundle([]id.ExtentID{9, 10})

	got := w.PopStripeExts(6)
	assert.Len(t, got, 7, "the 5-bundle plus the whole 2-bundle overshoots the requested 6 rather than splitting")
	assert.Equal(t, 3, w.Len(), "only the untouched 3-bundle remains pooled")
}

func TestWholeObjectInsufficientTotalReturnsNil(t *testing.T) {
	w := NewWholeObject()
	w.AddBundle([]id.ExtentID{1, 2})
	assert.Nil(t, w.PopStripeExts(5))
}

func TestWholeObjectContainsAndRemove(t *testing.T) {
	w := NewWholeObject()
	w.AddBundle([]id.ExtentID{1, 2, 3})
	assert.True(t, w.Contains(id.ExtentID(2)))

	w.Remove(id.ExtentID(2))
	assert.False(t, w.Contains(id.ExtentID(2)))
	assert.Equal(t, 2, w.Len())
}
