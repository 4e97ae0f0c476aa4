package striper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asch/ssdsim/internal/sim/extent"
	"github.com/asch/ssdsim/internal/sim/extentstack"
	"github.com/asch/ssdsim/internal/sim/id"
	"github.com/asch/ssdsim/internal/sim/stripe"
)

func setup(t *testing.T, numDataExtsPerLocality, numLocalities int) (*Simple, *extent.Manager, extentstack.Stack) {
	t.Helper()
	sm, err := stripe.NewManager(numDataExtsPerLocality, 1, 2, numLocalities, 1.2857142857)
	require.NoError(t, err)
	em := extent.NewManager(10, 1)
	return &Simple{Stripes: sm, Extents: em}, em, extentstack.NewSingle()
}

func TestSimpleCreateStripesNeedsFullStripe(t *testing.T) {
	s, em, stack := setup(t, 2, 1)
	for i := 0; i < 2; i++ {
		ext := em.CreateExtent(0)
		stack.AddExtent(0, ext.ID)
	}

	costs := s.CreateStripes(stack)
	assert.Equal(t, 1, costs.Stripes)
	assert.Equal(t, int64(20), costs.Reads)
	assert.Equal(t, int64(20), costs.Writes)
	assert.Equal(t, 1, s.Stripes.Count())
}

func TestSimpleCreateStripesInsufficientExtsReturnsZero(t *testing.T) {
	s, em, stack := setup(t, 3, 1)
	ext := em.CreateExtent(0)
	stack.AddExtent(0, ext.ID)

	costs := s.CreateStripes(stack)
	assert.Zero(t, costs)
	assert.Zero(t, s.Stripes.Count())
}

func TestExtentStackDrainConsumesWholeStack(t *testing.T) {
	s, em, stack := setup(t, 2, 1)
	for i := 0; i < 6; i++ {
		ext := em.CreateExtent(0)
		stack.AddExtent(0, ext.ID)
	}

	d := NewExtentStackDrain(s, 2)
	costs := d.CreateStripes(stack)
	assert.Equal(t, 3, costs.Stripes)
	assert.Zero(t, stack.Len())
	assert.Zero(t, d.NumStripesRequired(), "a draining striper has no fixed per-cycle count")
}

func TestFixedCountCapsStripesPerCall(t *testing.T) {
	s, em, stack := setup(t, 1, 1)
	for i := 0; i < 10; i++ {
		ext := em.CreateExtent(0)
		stack.AddExtent(0, ext.ID)
	}

	f := NewFixedCount(s, 3)
	costs := f.CreateStripes(stack)
	assert.Equal(t, 3, costs.Stripes, "only 3 of the 10 available single-extent stripes are sealed")
	assert.Equal(t, 3, f.NumStripesRequired())
	assert.Equal(t, 7, stack.Len())
}

func TestWithECScalesWriteCost(t *testing.T) {
	s, em, stack := setup(t, 2, 1)
	for i := 0; i < 2; i++ {
		ext := em.CreateExtent(0)
		stack.AddExtent(0, ext.ID)
	}

	w := NewWithEC(s, s.Stripes)
	costs := w.CreateStripes(stack)
	assert.Equal(t, int64(20), costs.Reads)
	assert.Equal(t, int64(float64(20)*1.2857142857), costs.Writes)
}

func TestWithECCostToReplaceWholeStripe(t *testing.T) {
	s, _, _ := setup(t, 2, 2)
	w := NewWithEC(s, s.Stripes)

	localities := []LocalityReplacement{
		{ExtsReplaced: 2, ObsoleteData: 5, ValidObjs: 3},
		{ExtsReplaced: 2, ObsoleteData: 5, ValidObjs: 3},
	}
	costs := w.CostToReplaceExtents(10, localities)
	assert.Equal(t, float64(2*10), costs.GlobalParityWrites)
	assert.Equal(t, int64(1*10), costs.LocalParityWrites)
	assert.Zero(t, costs.ValidObjReads, "a whole-stripe replacement skips the per-locality read/rebuild path entirely")
}

func TestWithECCostToReplacePartialLocality(t *testing.T) {
	s, _, _ := setup(t, 2, 2)
	w := NewWithEC(s, s.Stripes)

	localities := []LocalityReplacement{
		{ExtsReplaced: 1, ObsoleteData: 4, ValidObjs: 6},
		{ExtsReplaced: 0},
	}
	costs := w.CostToReplaceExtents(10, localities)
	assert.Equal(t, int64(6), costs.ValidObjReads)
	assert.Equal(t, int64(4), costs.ObsoleteDataReads)
	assert.Equal(t, int64(10), costs.LocalParityReads)
	assert.Equal(t, int64(10), costs.LocalParityWrites)
	assert.Equal(t, 1, w.NumTimesDefault)
}

func TestWithEfficientECTieGoesToDefault(t *testing.T) {
	s, _, _ := setup(t, 4, 2)
	w := NewWithEfficientEC(s, s.Stripes)

	// Engineered so defaultReads (2*10 global + 30 obsolete + 10 local = 60)
	// exactly equals AbsentDataReads ((4-2)*10 + 4*10 = 60): an exact tie
	// must be resolved in favor of the default model, not the alternative.
	localities := []LocalityReplacement{
		{ExtsReplaced: 2, ObsoleteData: 30, ValidObjs: 5},
		{ExtsReplaced: 0},
	}
	costs := w.CostToReplaceExtents(10, localities)

	assert.Equal(t, 1, w.NumTimesDefault)
	assert.Zero(t, w.NumTimesAlternative)
	assert.Zero(t, costs.AbsentDataReads)
	assert.Equal(t, int64(30), costs.ObsoleteDataReads)
}

func TestWithEfficientECPicksCheaperModel(t *testing.T) {
	s, _, _ := setup(t, 4, 2)
	w := NewWithEfficientEC(s, s.Stripes)

	// One locality fully replaced, the other untouched: the alternative
	// model avoids re-reading obsolete/valid data for the untouched
	// locality's neighbors, at the cost of reading its absent data instead.
	localities := []LocalityReplacement{
		{ExtsReplaced: 4, ObsoleteData: 100, ValidObjs: 100},
		{ExtsReplaced: 0},
	}
	costs := w.CostToReplaceExtents(10, localities)

	total := w.NumTimesDefault + w.NumTimesAlternative
	assert.Equal(t, 1, total, "exactly one of the two models is chosen per call")

	// default reads are 2*10 global + 100 obsolete = 120; the alternative
	// reads only the untouched locality, 4*10 = 40, so it is picked
	assert.Equal(t, 1, w.NumTimesAlternative)
	assert.Equal(t, int64(40), costs.AbsentDataReads)
}
