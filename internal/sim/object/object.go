// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package object implements the variable-lifetime objects that get packed
// into extents, and the manager that creates them from a Sampler and
// registers their expiry with the event manager.
package object

import (
	"math/rand"

	"github.com/asch/ssdsim/internal/sim/clock"
	"github.com/asch/ssdsim/internal/sim/event"
	"github.com/asch/ssdsim/internal/sim/id"
	"github.com/asch/ssdsim/internal/sim/sampler"
)

// Shard is the slice of an object stored inside one extent.
type Shard struct {
	Extent id.ExtentID
	Size   int64
}

// Object is a declared-size, expiring unit of data. Shards record where its
// bytes have actually landed so far; Size - PlacedBytes() is what remains in
// the owning packer's pool.
type Object struct {
	ID           id.ObjectID
	Size         int64
	Life         float64
	Expiry       float64
	Generation   int
	CreationTime float64
	Shards       []Shard
}

// PlacedBytes returns the total bytes placed into shards so far.
func (o *Object) PlacedBytes() int64 {
	var sum int64
	for _, s := range o.Shards {
		sum += s.Size
	}
	return sum
}

// FullyPlaced reports whether every declared byte has a shard.
func (o *Object) FullyPlaced() bool {
	return o.PlacedBytes() >= o.Size
}

// AddShard records size bytes newly placed in ext.
func (o *Object) AddShard(ext id.ExtentID, size int64) {
	o.Shards = append(o.Shards, Shard{Extent: ext, Size: size})
}

// RemoveShardsIn drops every shard this object has in ext (used when the
// extent is deleted or GCed and the object's live data must re-enter a pool).
func (o *Object) RemoveShardsIn(ext id.ExtentID) int64 {
	var removed int64
	kept := o.Shards[:0]
	for _, s := range o.Shards {
		if s.Extent == ext {
			removed += s.Size
			continue
		}
		kept = append(kept, s)
	}
	o.Shards = kept
	return removed
}

// Manager owns the registry of live objects and mints new ones from a
// Sampler, wiring their expiry into the event manager. Noise mirrors the
// reference simulator's +/-12 unit jitter on life, divided by 24.
type Manager struct {
	objects   map[id.ObjectID]*Object
	generator id.Generator
	events    *event.Manager
	sampler   sampler.Sampler
	clock     *clock.Clock
	addNoise  bool
	noiseRng  *rand.Rand
}

// New returns an object manager backed by the given sampler and event queue.
func New(s sampler.Sampler, events *event.Manager, c *clock.Clock, addNoise bool, noiseSeed int64) *Manager {
	return &Manager{
		objects:  make(map[id.ObjectID]*Object),
		events:   events,
		sampler:  s,
		clock:    c,
		addNoise: addNoise,
		noiseRng: rand.New(rand.NewSource(noiseSeed)),
	}
}

// CreateObjects draws numSamples (size, life) pairs and creates one fresh
// Object per pair, registering its deletion event and returning the new
// objects so the caller can add them to a packer's pool.
func (m *Manager) CreateObjects(numSamples int) []*Object {
	if numSamples <= 0 {
		return nil
	}

	samples := m.sampler.Sample(numSamples)
	now := m.clock.Now()
	objs := make([]*Object, 0, numSamples)

	for _, s := range samples {
		life := s.Life
		if m.addNoise {
			noise := float64(m.noiseRng.Intn(25) - 12)
			life += noise / 24
		}
		expiry := now + life

		obj := &Object{
			ID:           id.ObjectID(m.generator.Next()),
			Size:         s.Size,
			Life:         life,
			Expiry:       expiry,
			CreationTime: now,
		}
		m.objects[obj.ID] = obj
		m.events.Push(expiry, obj.ID)
		objs = append(objs, obj)
	}

	return objs
}

// Get returns the object for id, if it is still registered.
func (m *Manager) Get(oid id.ObjectID) (*Object, bool) {
	o, ok := m.objects[oid]
	return o, ok
}

// Remove drops obj from the registry. It does not touch any extent the
// object may still have shards in; that is the deletion/GC path's job.
func (m *Manager) Remove(oid id.ObjectID) {
	delete(m.objects, oid)
}

// Count returns the number of live registered objects.
func (m *Manager) Count() int {
	return len(m.objects)
}
