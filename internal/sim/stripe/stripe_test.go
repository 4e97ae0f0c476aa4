package stripe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asch/ssdsim/internal/sim/extent"
	"github.com/asch/ssdsim/internal/sim/id"
)

func TestNewManagerRejectsEmptyGeometry(t *testing.T) {
	_, err := NewManager(0, 1, 1, 3, 1.2857142857)
	assert.Error(t, err)

	_, err = NewManager(2, 1, 1, 0, 1.2857142857)
	assert.Error(t, err)
}

func TestNewManagerComputesGeometry(t *testing.T) {
	m, err := NewManager(2, 1, 2, 3, 1.2857142857)
	require.NoError(t, err)
	assert.Equal(t, 6, m.NumDataExtsPerStripe)
	assert.Equal(t, 6+1+2, m.NumExtsPerStripe)
}

func TestAddExtentFillsLocalitiesRoundRobin(t *testing.T) {
	m, err := NewManager(2, 1, 1, 2, 1)
	require.NoError(t, err)
	em := extent.NewManager(10, 1)

	s := m.CreateNewStripe(10)
	for i := 0; i < 4; i++ {
		ext := em.CreateExtent(0)
		require.NoError(t, s.AddExtent(ext))
	}

	assert.Len(t, s.Localities[0], 2)
	assert.Len(t, s.Localities[1], 2)
	assert.Zero(t, s.FreeSlots)

	overflow := em.CreateExtent(0)
	assert.Error(t, s.AddExtent(overflow))
}

func TestDelExtentRestoresSlotAndObsolete(t *testing.T) {
	m, err := NewManager(1, 1, 1, 1, 1)
	require.NoError(t, err)
	em := extent.NewManager(10, 1)

	s := m.CreateNewStripe(10)
	ext := em.CreateExtent(0)
	ext.Obsolete = 4
	require.NoError(t, s.AddExtent(ext))

	s.Obsolete += ext.Obsolete
	s.DelExtent(ext)

	assert.Equal(t, 1, s.FreeSlots)
	assert.Zero(t, s.Obsolete)
	assert.Equal(t, id.NoStripe, ext.Stripe)
	assert.Empty(t, s.Localities[0])
}

func TestExtentsReturnsAllInLocalityOrder(t *testing.T) {
	m, err := NewManager(2, 1, 1, 2, 1)
	require.NoError(t, err)
	em := extent.NewManager(10, 1)

	s := m.CreateNewStripe(10)
	var want []id.ExtentID
	for i := 0; i < 4; i++ {
		ext := em.CreateExtent(0)
		require.NoError(t, s.AddExtent(ext))
		want = append(want, ext.ID)
	}

	assert.Equal(t, want, s.Extents())
}

func TestManagerIDsDeterministic(t *testing.T) {
	m, err := NewManager(1, 1, 1, 1, 1)
	require.NoError(t, err)

	var want []id.StripeID
	for i := 0; i < 10; i++ {
		want = append(want, m.CreateNewStripe(10).ID)
	}

	got := m.IDs()
	assert.Len(t, got, 10)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i])
	}

	m.DeleteStripe(want[2])
	got = m.IDs()
	assert.Len(t, got, 9)
	assert.NotContains(t, got, want[2])
}

func TestObsoletePercentage(t *testing.T) {
	m, err := NewManager(2, 1, 1, 1, 1)
	require.NoError(t, err)
	s := m.CreateNewStripe(10)

	assert.Zero(t, s.ObsoletePercentage())
	s.Obsolete = 10
	assert.Equal(t, 50.0, s.ObsoletePercentage())
}

func TestDataDCSizeAndTotalDCSize(t *testing.T) {
	m, err := NewManager(2, 1, 1, 1, 1.5)
	require.NoError(t, err)
	m.CreateNewStripe(10)
	m.CreateNewStripe(10)

	assert.Equal(t, int64(40), m.DataDCSize())
	assert.Equal(t, 60.0, m.TotalDCSize())
}
