// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package packer implements the object packer: it pools partially-placed
// object fragments and packs them into extents, sealing a fragment's current
// extent onto an extent stack once it fills. Placement policy is composed
// from a key function, a pool draining order and a small set of behavior
// flags rather than one subclass per policy.
package packer

import (
	"sort"

	"github.com/asch/ssdsim/internal/sim/clock"
	"github.com/asch/ssdsim/internal/sim/extent"
	"github.com/asch/ssdsim/internal/sim/extentstack"
	"github.com/asch/ssdsim/internal/sim/id"
	"github.com/asch/ssdsim/internal/sim/object"
)

// KeyFn computes the extent-stack key a fragment of obj should be packed
// under. Typical policies bucket by size, by object generation (GC passes)
// or return a constant for an unpartitioned pool.
type KeyFn func(obj *object.Object) int

// ConstantKey is the trivial KeyFn used by policies with a single shared
// pool.
func ConstantKey(*object.Object) int { return 0 }

// GenerationKey buckets fragments by how many GC passes the object has
// already survived, keeping cold, much-rewritten data away from fresh
// writes.
func GenerationKey(obj *object.Object) int { return obj.Generation }

// sizeClassBounds are the upper bound of each size class, matching the
// sampler's own bucket boundaries so objects drawn from one size bucket
// tend to land in extents with their peers.
var sizeClassBounds = []int64{10, 50, 100, 200, 300, 400, 500, 600, 700, 800, 900, 1000, 1500, 2000, 3000}

// SizeClassKey buckets fragments by the declared object size falling into
// one of the sampler's size ranges, keeping like-sized objects (and their
// similar lifetimes) co-located.
func SizeClassKey(obj *object.Object) int {
	for i, bound := range sizeClassBounds {
		if obj.Size <= bound {
			return i
		}
	}
	return len(sizeClassBounds)
}

// AgeBasedKey returns a KeyFn that buckets fragments by floor(object age) as
// of whenever the returned function is called. It closes over clk rather
// than a fixed timestamp so the bucket a given object falls into advances
// tick over tick, matching the "age bucket" policy's intent of separating
// freshly-created objects from ones that have sat in the pool a while.
func AgeBasedKey(clk *clock.Clock) KeyFn {
	return func(obj *object.Object) int {
		age := clk.Now() - obj.CreationTime
		if age < 0 {
			return 0
		}
		return int(age)
	}
}

// Ordering controls the order the pool is drained in each PackObjects pass.
type Ordering int

const (
	// FIFO drains fragments in arrival order.
	FIFO Ordering = iota
	// LIFO drains the most recently added fragment first.
	LIFO
	// LargestFirst sorts the whole pool by remaining size, descending,
	// before draining; it tends to seal extents with fewer fragments.
	LargestFirst
)

// Flags toggles packer behaviors that don't warrant a whole policy type.
type Flags uint8

const (
	// RecordExtentTypes tags an extent on every placement into it with a
	// coarse descriptor of that placement: "large" when the fragment fills
	// the whole capacity, "small" when the object is smaller than the
	// extent's secondary threshold value and the extent has no tag yet, and
	// otherwise "sparse", "mixed" or "dense" by the fragment's share of
	// capacity. A later placement's label replaces an earlier one, except in
	// the "small" case.
	RecordExtentTypes Flags = 1 << iota
)

type fragment struct {
	obj  *object.Object
	size int64
}

// Sampler lets a packer draw fresh object demand of its own, used by
// GenerateExtentsAtKey to top up an extent stack that needs more supply
// than the pool currently holds. object.Manager satisfies this.
type Sampler interface {
	CreateObjects(n int) []*object.Object
}

// SharedPool holds the pool-and-open-extents state two Packer instances can
// share, for policies (MixedObj) whose main and GC packers drain the same
// pool of fragments and fill the same open extents instead of each keeping
// their own, mirroring the source's aliased-pointer object pool.
type SharedPool struct {
	pool        []fragment
	currentExts map[int]id.ExtentID
}

// NewSharedPool returns an empty pool ready to be handed to two Policy
// values' Pool field.
func NewSharedPool() *SharedPool {
	return &SharedPool{currentExts: make(map[int]id.ExtentID)}
}

// Policy bundles the axes a packer's placement strategy is composed from.
type Policy struct {
	Key      KeyFn
	Order    Ordering
	Flags    Flags
	PoolCap  int // not read by the packer; pack passes run only when PackObjects is called
	ExtSize  int64
	ExtTypes map[id.ExtentID]string

	// Sampler and Clock are optional. When set, GenerateExtentsAtKey draws
	// fresh objects to reach its target instead of sealing them empty.
	Sampler Sampler
	Clock   *clock.Clock

	// Pool is optional. When set, the packer drains and fills this pool
	// instead of one private to itself -- pass the same *SharedPool to two
	// Policy values to give their packers one shared pool.
	Pool *SharedPool
}

// Packer pools object fragments and packs them into extents using Policy,
// pushing sealed extents onto Stack.
type Packer struct {
	policy  Policy
	extents *extent.Manager
	stack   extentstack.Stack
	sampler Sampler
	clock   *clock.Clock

	shared   *SharedPool
	extTypes map[id.ExtentID]string
}

// New returns a packer that seals extents via extents and pools them onto
// stack according to policy.
func New(policy Policy, extents *extent.Manager, stack extentstack.Stack) *Packer {
	if policy.Key == nil {
		policy.Key = ConstantKey
	}
	shared := policy.Pool
	if shared == nil {
		shared = NewSharedPool()
	}
	return &Packer{
		policy:   policy,
		extents:  extents,
		stack:    stack,
		sampler:  policy.Sampler,
		clock:    policy.Clock,
		shared:   shared,
		extTypes: make(map[id.ExtentID]string),
	}
}

// AddObject pools size bytes of obj for a future pack pass. size may be less
// than obj.Size when only the object's still-unplaced remainder is being
// re-pooled after a partial GC reclaim.
func (p *Packer) AddObject(obj *object.Object, size int64) {
	if size <= 0 {
		return
	}
	p.shared.pool = append(p.shared.pool, fragment{obj: obj, size: size})
}

// PoolSize returns the number of unpacked bytes currently pooled.
func (p *Packer) PoolSize() int64 {
	var total int64
	for _, f := range p.shared.pool {
		total += f.size
	}
	return total
}

// PoolLen returns the number of pooled fragments.
func (p *Packer) PoolLen() int { return len(p.shared.pool) }

func (p *Packer) drainOrder() []fragment {
	pool := p.shared.pool
	switch p.policy.Order {
	case LIFO:
		reversed := make([]fragment, len(pool))
		for i, f := range pool {
			reversed[len(pool)-1-i] = f
		}
		return reversed
	case LargestFirst:
		sorted := append([]fragment(nil), pool...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].size > sorted[j].size })
		return sorted
	default:
		return pool
	}
}

// PackObjects drains the pool, placing each fragment into the open extent
// for its key (minting one if none is open), sealing and pushing to the
// extent stack whenever an extent fills. Fragments that don't fully fit
// spill the remainder into a freshly opened extent at the same key,
// continuing until the whole fragment is placed.
func (p *Packer) PackObjects(now float64) {
	ordered := p.drainOrder()
	p.shared.pool = p.shared.pool[:0]

	for _, f := range ordered {
		key := p.policy.Key(f.obj)
		remaining := f.size

		for remaining > 0 {
			ext := p.currentExtent(key)
			placed := ext.AddObject(f.obj.ID, remaining, f.obj.Generation, f.obj.CreationTime)
			f.obj.AddShard(ext.ID, placed)
			remaining -= placed

			if p.policy.Flags&RecordExtentTypes != 0 {
				p.updateExtentType(ext, f.obj, placed)
			}

			if ext.Free == 0 {
				p.sealExtent(key, ext)
			}
		}
	}
}

func (p *Packer) currentExtent(key int) *extent.Extent {
	eid, ok := p.shared.currentExts[key]
	if ok {
		if ext, ok := p.extents.Get(eid); ok {
			return ext
		}
	}
	ext := p.extents.CreateExtent(p.policy.ExtSize)
	p.shared.currentExts[key] = ext.ID
	return ext
}

func (p *Packer) sealExtent(key int, ext *extent.Extent) {
	delete(p.shared.currentExts, key)
	p.stack.AddExtent(p.extents.Key(ext), ext.ID)
}

// FlushPartial seals every currently-open extent regardless of fill level,
// used at the end of a simulation run so no resident data is left
// unaccounted for in the extent stacks.
func (p *Packer) FlushPartial() {
	for key, eid := range p.shared.currentExts {
		if ext, ok := p.extents.Get(eid); ok {
			p.stack.AddExtent(p.extents.Key(ext), ext.ID)
		}
		delete(p.shared.currentExts, key)
	}
}

// SealEmptyExtentAtKey mints a fresh extent and immediately pushes it onto
// the stack under key, even though it's still empty. Used by the striping
// coordinator when a caller needs a guaranteed extent at a key and the pool
// has nothing queued there yet.
func (p *Packer) SealEmptyExtentAtKey(key int) *extent.Extent {
	ext := p.extents.CreateExtent(p.policy.ExtSize)
	p.stack.AddExtent(key, ext.ID)
	return ext
}

// GenerateExtentsAtKey tops the stack up to at least n extents at key: while
// it falls short, it draws one fresh object from the sampler, pools it and
// runs a pack pass, same as the reference simulator replenishing supply on
// demand rather than manufacturing it out of nothing. Only once a bounded
// number of draws still hasn't reached key -- or no sampler is configured,
// as in tests -- does it fall back to sealing the shortfall as empty
// extents, since some policies (generation, for one) can never bucket
// freshly sampled objects into every key.
func (p *Packer) GenerateExtentsAtKey(n int, key int) {
	const maxDraws = 10000
	for draws := 0; p.sampler != nil && p.stack.LenAtKey(key) < n && draws < maxDraws; draws++ {
		for _, obj := range p.sampler.CreateObjects(1) {
			p.AddObject(obj, obj.Size)
		}
		p.PackObjects(p.now())
	}
	for p.stack.LenAtKey(key) < n {
		p.SealEmptyExtentAtKey(key)
	}
}

func (p *Packer) now() float64 {
	if p.clock == nil {
		return 0
	}
	return p.clock.Now()
}

func (p *Packer) updateExtentType(ext *extent.Extent, obj *object.Object, placed int64) {
	switch {
	case placed >= ext.Capacity:
		p.extTypes[ext.ID] = "large"
	case obj.Size < int64(ext.SecondaryThreshold):
		if _, ok := p.extTypes[ext.ID]; !ok {
			p.extTypes[ext.ID] = "small"
		}
	default:
		pct := float64(placed) / float64(ext.Capacity) * 100
		p.extTypes[ext.ID] = bucketLabel(pct)
	}
	ext.Type = p.extTypes[ext.ID]
}

func bucketLabel(pct float64) string {
	switch {
	case pct < 25:
		return "sparse"
	case pct < 75:
		return "mixed"
	default:
		return "dense"
	}
}
