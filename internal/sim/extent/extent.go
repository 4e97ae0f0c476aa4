// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package extent implements the fixed-capacity allocation unit that shards of
// one or more objects are packed into, and the manager that mints and retires
// them.
package extent

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/asch/ssdsim/internal/sim/id"
)

// LiveObject is a (object, still-resident bytes) pair handed back when an
// extent is dissolved and its survivors must re-enter a packer's pool.
type LiveObject struct {
	Object id.ObjectID
	Size   int64
}

// Extent holds shards of one or more objects up to Capacity bytes.
// Invariant: Free + sum(shard sizes) + Obsolete == Capacity.
type Extent struct {
	ID                 id.ExtentID
	Capacity           int64
	Free               int64
	Obsolete           int64
	Stripe             id.StripeID
	Locality           int
	Generation         int
	Timestamp          float64
	hasTimestamp       bool
	Type               string
	SecondaryThreshold int

	// Objects maps each resident object to the sizes of the (possibly
	// several) shards it has placed here, in placement order.
	Objects map[id.ObjectID][]int64
}

func newExtent(eid id.ExtentID, capacity int64, secondaryThreshold int) *Extent {
	return &Extent{
		ID:                 eid,
		Capacity:           capacity,
		Free:               capacity,
		Stripe:             id.NoStripe,
		Type:               "0",
		SecondaryThreshold: secondaryThreshold,
		Objects:            make(map[id.ObjectID][]int64),
	}
}

// ObsoletePercentage returns the fraction of Capacity that is obsolete, as a
// percentage in [0, 100].
func (e *Extent) ObsoletePercentage() float64 {
	return float64(e.Obsolete) / float64(e.Capacity) * 100
}

// ObjectSize returns the total bytes of obj resident in this extent.
func (e *Extent) ObjectSize(obj id.ObjectID) int64 {
	var sum int64
	for _, s := range e.Objects[obj] {
		sum += s
	}
	return sum
}

// ValidBytes returns the live (non-obsolete, non-free) bytes in the extent.
func (e *Extent) ValidBytes() int64 {
	return e.Capacity - e.Free - e.Obsolete
}

// AddObject places up to size bytes of obj into the extent's remaining free
// space, updating generation (max over resident objects) and timestamp (min
// creation time over resident objects). Returns the number of bytes actually
// placed, which is size clamped to Free.
func (e *Extent) AddObject(obj id.ObjectID, size int64, objGeneration int, objCreationTime float64) int64 {
	placed := size
	if placed > e.Free {
		placed = e.Free
	}

	if !e.hasTimestamp || objCreationTime < e.Timestamp {
		e.Timestamp = objCreationTime
		e.hasTimestamp = true
	}
	if objGeneration > e.Generation {
		e.Generation = objGeneration
	}

	e.Objects[obj] = append(e.Objects[obj], placed)
	e.Free -= placed

	return placed
}

// DelObject marks obj's resident bytes as obsolete and removes its
// back-reference, returning the extent's new obsolete percentage.
func (e *Extent) DelObject(obj id.ObjectID) float64 {
	if sizes, ok := e.Objects[obj]; ok {
		var sum int64
		for _, s := range sizes {
			sum += s
		}
		e.Obsolete += sum
		delete(e.Objects, obj)
	}
	return e.ObsoletePercentage()
}

// RemoveObjects clears every resident object without accounting the space as
// obsolete; used when dissolving a stripe whose survivors are about to be
// re-pooled rather than reclaimed as garbage.
func (e *Extent) RemoveObjects() []LiveObject {
	live := make([]LiveObject, 0, len(e.Objects))
	for obj, sizes := range e.Objects {
		var sum int64
		for _, s := range sizes {
			sum += s
		}
		live = append(live, LiveObject{Object: obj, Size: sum})
	}
	e.Objects = make(map[id.ObjectID][]int64)
	return live
}

// DefaultKey is the placement/extent key function shared by policies that do
// not partition extents: constant zero.
func DefaultKey(*Extent) int { return 0 }

// GenerationKey buckets an extent by the number of times the objects it
// contains have been GCed.
func GenerationKey(e *Extent) int { return e.Generation }

// AgeBucketKey returns an extent key function that buckets by floor(age) at
// the given reference time, matching the AgeBased packer family.
func AgeBucketKey(now float64) func(*Extent) int {
	return func(e *Extent) int {
		return int(now - e.Timestamp)
	}
}

// Manager allocates extents with monotonically increasing ids and retires
// them. KeyFunc computes the placement key a sealed extent is pushed onto its
// extent stack under; it mirrors the single key-function-per-manager design
// of the reference simulator.
type Manager struct {
	defaultCapacity    int64
	secondaryThreshold int
	generator          id.Generator
	extents            map[id.ExtentID]*Extent
	KeyFunc            func(*Extent) int
}

// NewManager returns an extent manager that creates extents of
// defaultCapacity bytes by default, with secondaryThreshold used by
// with-extents GC strategies.
func NewManager(defaultCapacity int64, secondaryThreshold int) *Manager {
	return &Manager{
		defaultCapacity:    defaultCapacity,
		secondaryThreshold: secondaryThreshold,
		extents:            make(map[id.ExtentID]*Extent),
		KeyFunc:            DefaultKey,
	}
}

// CreateExtent allocates a fresh extent. size of 0 uses the manager's default
// capacity.
func (m *Manager) CreateExtent(size int64) *Extent {
	if size <= 0 {
		size = m.defaultCapacity
	}
	e := newExtent(id.ExtentID(m.generator.Next()), size, m.secondaryThreshold)
	m.extents[e.ID] = e
	return e
}

// Get looks up an extent by id.
func (m *Manager) Get(eid id.ExtentID) (*Extent, bool) {
	e, ok := m.extents[eid]
	return e, ok
}

// DeleteExtent retires an extent. The caller must have already unlinked it
// from any stripe and re-pooled its live objects.
func (m *Manager) DeleteExtent(eid id.ExtentID) {
	delete(m.extents, eid)
}

// Count returns the number of live extents.
func (m *Manager) Count() int {
	return len(m.extents)
}

// IDs returns every live extent id in ascending order, giving callers a
// deterministic view over the otherwise unordered-iteration extents map.
func (m *Manager) IDs() []id.ExtentID {
	ids := maps.Keys(m.extents)
	slices.Sort(ids)
	return ids
}

// Key returns the manager's configured placement key for ext.
func (m *Manager) Key(ext *Extent) int {
	return m.KeyFunc(ext)
}
