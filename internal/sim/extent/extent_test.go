package extent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/asch/ssdsim/internal/sim/id"
)

func TestAddObjectClampsToFree(t *testing.T) {
	m := NewManager(100, 5)
	e := m.CreateExtent(0)

	placed := e.AddObject(id.ObjectID(1), 60, 1, 10)
	assert.Equal(t, int64(60), placed)
	assert.Equal(t, int64(40), e.Free)

	placed = e.AddObject(id.ObjectID(2), 60, 2, 5)
	assert.Equal(t, int64(40), placed, "second object should be clamped to remaining free space")
	assert.Zero(t, e.Free)

	assert.Equal(t, 2, e.Generation, "generation tracks the max across resident objects")
	assert.Equal(t, 5.0, e.Timestamp, "timestamp tracks the min creation time across resident objects")
}

func TestAccountingInvariantHolds(t *testing.T) {
	m := NewManager(100, 5)
	e := m.CreateExtent(0)

	e.AddObject(id.ObjectID(1), 30, 0, 0)
	e.AddObject(id.ObjectID(2), 30, 0, 0)
	e.DelObject(id.ObjectID(1))

	assert.Equal(t, e.Capacity, e.Free+e.ObjectSize(id.ObjectID(2))+e.Obsolete)
}

func TestDelObjectMarksObsoleteAndReportsPercentage(t *testing.T) {
	m := NewManager(100, 5)
	e := m.CreateExtent(0)
	e.AddObject(id.ObjectID(1), 50, 0, 0)

	pct := e.DelObject(id.ObjectID(1))
	assert.Equal(t, 50.0, pct)
	assert.Equal(t, int64(50), e.Obsolete)

	_, resident := e.Objects[id.ObjectID(1)]
	assert.False(t, resident)
}

func TestDelObjectUnknownIsNoop(t *testing.T) {
	m := NewManager(100, 5)
	e := m.CreateExtent(0)
	assert.Zero(t, e.DelObject(id.ObjectID(999)))
}

func TestRemoveObjectsReturnsLiveBytesAndClears(t *testing.T) {
	m := NewManager(100, 5)
	e := m.CreateExtent(0)
	e.AddObject(id.ObjectID(1), 20, 0, 0)
	e.AddObject(id.ObjectID(2), 30, 0, 0)

	live := e.RemoveObjects()
	total := int64(0)
	for _, lo := range live {
		total += lo.Size
	}
	assert.Equal(t, int64(50), total)
	assert.Empty(t, e.Objects)
}

func TestManagerCreateGetDelete(t *testing.T) {
	m := NewManager(500, 5)
	e1 := m.CreateExtent(0)
	e2 := m.CreateExtent(200)

	assert.Equal(t, int64(500), e1.Capacity)
	assert.Equal(t, int64(200), e2.Capacity)
	assert.Equal(t, 2, m.Count())

	got, ok := m.Get(e1.ID)
	assert.True(t, ok)
	assert.Same(t, e1, got)

	m.DeleteExtent(e1.ID)
	assert.Equal(t, 1, m.Count())
	_, ok = m.Get(e1.ID)
	assert.False(t, ok)
}

func TestManagerIDsSortedAndStable(t *testing.T) {
	m := NewManager(10, 1)
	var ids []id.ExtentID
	for i := 0; i < 20; i++ {
		ids = append(ids, m.CreateExtent(0).ID)
	}

	got := m.IDs()
	assert.Len(t, got, 20)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i], "IDs must come back in ascending order")
	}

	m.DeleteExtent(ids[3])
	got = m.IDs()
	assert.Len(t, got, 19)
	assert.NotContains(t, got, ids[3])
}

func TestKeyFunctions(t *testing.T) {
	e := &Extent{Generation: 4, Timestamp: 12}
	assert.Equal(t, 0, DefaultKey(e))
	assert.Equal(t, 4, GenerationKey(e))
	assert.Equal(t, 8, AgeBucketKey(20)(e))
}
