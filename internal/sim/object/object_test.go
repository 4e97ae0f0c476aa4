package object

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/asch/ssdsim/internal/sim/clock"
	"github.com/asch/ssdsim/internal/sim/event"
	"github.com/asch/ssdsim/internal/sim/id"
	"github.com/asch/ssdsim/internal/sim/sampler"
)

func TestCreateObjectsRegistersEventsAndIDs(t *testing.T) {
	clk := clock.New(0)
	events := event.New()
	m := New(sampler.Constant{Size: 100, Life: 10}, events, clk, false, 0)

	objs := m.CreateObjects(3)
	assert.Len(t, objs, 3)
	assert.Equal(t, 3, m.Count())

	for i, o := range objs {
		assert.Equal(t, id.ObjectID(i), o.ID)
		assert.Equal(t, int64(100), o.Size)
		assert.Equal(t, 10.0, o.Expiry)
		assert.Zero(t, o.PlacedBytes())
		assert.False(t, o.FullyPlaced())
	}

	due := events.PopIfDue(10)
	assert.Len(t, due, 3)
}

func TestCreateObjectsZeroOrNegativeIsNoop(t *testing.T) {
	clk := clock.New(0)
	m := New(sampler.Constant{Size: 1, Life: 1}, event.New(), clk, false, 0)
	assert.Empty(t, m.CreateObjects(0))
	assert.Empty(t, m.CreateObjects(-5))
	assert.Zero(t, m.Count())
}

func TestAddNoiseJittersLifeWithinBounds(t *testing.T) {
	clk := clock.New(0)
	m := New(sampler.Constant{Size: 1, Life: 100}, event.New(), clk, true, 42)

	for _, o := range m.CreateObjects(50) {
		assert.GreaterOrEqual(t, o.Life, 100+float64(-12)/24)
		assert.LessOrEqual(t, o.Life, 100+float64(12)/24)
	}
}

func TestShardPlacementAndRemoval(t *testing.T) {
	o := &Object{ID: 1, Size: 100}
	o.AddShard(id.ExtentID(1), 40)
	o.AddShard(id.ExtentID(2), 60)

	assert.Equal(t, int64(100), o.PlacedBytes())
	assert.True(t, o.FullyPlaced())

	removed := o.RemoveShardsIn(id.ExtentID(1))
	assert.Equal(t, int64(40), removed)
	assert.Equal(t, int64(60), o.PlacedBytes())
	assert.Len(t, o.Shards, 1)
}

func TestRemoveAndGet(t *testing.T) {
	clk := clock.New(0)
	m := New(sampler.Constant{Size: 1, Life: 1}, event.New(), clk, false, 0)
	objs := m.CreateObjects(1)

	_, ok := m.Get(objs[0].ID)
	assert.True(t, ok)

	m.Remove(objs[0].ID)
	_, ok = m.Get(objs[0].ID)
	assert.False(t, ok)
	assert.Zero(t, m.Count())
}
