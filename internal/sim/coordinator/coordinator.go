// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package coordinator wires the object pool, extent stacks, striper and GC
// strategy together into the per-tick striping process: packing pooled
// objects into extents, sealing extents into stripes, and servicing the GC
// strategies' need for replacement extents and restriping. A tick runs its
// main striping pass and its GC pass strictly in sequence; both read and
// mutate the same extent/stripe/object managers, which carry no locking of
// their own, so interleaving them would race.
package coordinator

import (
	"github.com/asch/ssdsim/internal/sim/clock"
	"github.com/asch/ssdsim/internal/sim/extent"
	"github.com/asch/ssdsim/internal/sim/extentstack"
	"github.com/asch/ssdsim/internal/sim/gc"
	"github.com/asch/ssdsim/internal/sim/id"
	"github.com/asch/ssdsim/internal/sim/object"
	"github.com/asch/ssdsim/internal/sim/packer"
	"github.com/asch/ssdsim/internal/sim/stripe"
	"github.com/asch/ssdsim/internal/sim/striper"
)

// Coordinator is the facade every tick of the simulation drives: it owns
// both the main and GC object pools/extent stacks and knows how to produce
// a stripe or an extent on demand for either one.
type Coordinator struct {
	ObjectPacker   *packer.Packer
	GCObjectPacker *packer.Packer
	Striper        striper.Striper
	GCStriper      striper.Striper
	ExtentStack    extentstack.Stack
	GCExtentStack  extentstack.Stack
	Stripes        *stripe.Manager
	Extents        *extent.Manager
	Objects        *object.Manager
	Clock          *clock.Clock

	// DefaultKey is the key used when no better one applies, e.g. the
	// GetStripe draining key.
	DefaultKey int

	// AvgObjectSize estimates bytes-per-object so GenerateObjects can turn
	// a reclaimed-space target into a sample count.
	AvgObjectSize float64
}

// GCExtent strips ext of its resident objects and re-pools whatever bytes
// each object still has unaccounted for, ready for the GC packer's next
// pass.
func (c *Coordinator) GCExtent(ext *extent.Extent) {
	for _, live := range ext.RemoveObjects() {
		obj, ok := c.Objects.Get(live.Object)
		if !ok {
			continue
		}
		if removed := obj.RemoveShardsIn(ext.ID); removed > 0 {
			c.GCObjectPacker.AddObject(obj, removed)
		}
	}
}

// closestKeyStack is satisfied by extent stacks that offer a nearest-key
// lookup: extentstack.BestEffort, and every extentstack.Randomizer, whose
// lookup reports a miss when its inner stack has none. Checked via type
// assertion rather than a coordinator subtype, so best-effort behavior is
// just whatever stack was configured; a miss falls through to the exact-key
// path.
type closestKeyStack interface {
	GetAtClosestKey(key int) (id.ExtentID, bool)
}

// GetGCExtent returns an extent already queued in the GC pool at key, if
// any. When GCExtentStack is best-effort, an exact miss falls back to the
// numerically closest key instead of failing outright.
func (c *Coordinator) GetGCExtent(key int) (*extent.Extent, bool) {
	if cs, ok := c.GCExtentStack.(closestKeyStack); ok {
		if eid, ok := cs.GetAtClosestKey(key); ok {
			return c.Extents.Get(eid)
		}
	}

	if c.GCExtentStack.LenAtKey(key) == 0 {
		return nil, false
	}
	eid, ok := c.GCExtentStack.PopAtKey(key)
	if !ok {
		return nil, false
	}
	return c.Extents.Get(eid)
}

// GetExtent returns an extent queued in the main pool at key, minting and
// sealing a fresh one first if the pool has nothing there yet. When
// ExtentStack is best-effort, an exact miss at a non-empty stack falls back
// to the numerically closest key instead of minting a fresh extent.
func (c *Coordinator) GetExtent(key int) *extent.Extent {
	if cs, ok := c.ExtentStack.(closestKeyStack); ok {
		if c.ExtentStack.Len() == 0 {
			c.ObjectPacker.GenerateExtentsAtKey(1, key)
		}
		if eid, ok := cs.GetAtClosestKey(key); ok {
			ext, _ := c.Extents.Get(eid)
			return ext
		}
	}

	if c.ExtentStack.LenAtKey(key) == 0 {
		c.ObjectPacker.GenerateExtentsAtKey(1, key)
	}
	eid, ok := c.ExtentStack.PopAtKey(key)
	if !ok {
		return c.ObjectPacker.SealEmptyExtentAtKey(key)
	}
	ext, _ := c.Extents.Get(eid)
	return ext
}

// GetStripe seals whatever the main striper produces in one call, topping
// up the main extent stack at DefaultKey first if it can't yet supply a
// whole stripe.
func (c *Coordinator) GetStripe() striper.StripeCosts {
	numExtsPerStripe := c.Stripes.NumDataExtsPerStripe
	if c.ExtentStack.LenAtKey(c.DefaultKey) < numExtsPerStripe {
		c.ObjectPacker.GenerateExtentsAtKey(numExtsPerStripe, c.DefaultKey)
	}
	return c.Striper.CreateStripes(c.ExtentStack)
}

// GenerateStripes packs the main object pool into extents and seals
// whatever stripes the main striper is configured to produce.
func (c *Coordinator) GenerateStripes() striper.StripeCosts {
	c.ObjectPacker.PackObjects(c.Clock.Now())
	return c.Striper.CreateStripes(c.ExtentStack)
}

// GenerateGCStripes packs the GC object pool into extents and seals
// whatever stripes the GC striper is configured to produce.
func (c *Coordinator) GenerateGCStripes() striper.StripeCosts {
	c.GCObjectPacker.PackObjects(c.Clock.Now())
	return c.GCStriper.CreateStripes(c.GCExtentStack)
}

// GenerateExtents packs whatever the GC pool already holds into extents
// without sealing a stripe.
func (c *Coordinator) GenerateExtents() {
	c.GCObjectPacker.PackObjects(c.Clock.Now())
}

// GenerateObjects creates enough fresh demand to account for roughly
// reclaimedSpace bytes and pools it into the GC packer, used by strategies
// that replenish the data center after a dissolve.
func (c *Coordinator) GenerateObjects(reclaimedSpace float64) {
	if c.AvgObjectSize <= 0 || reclaimedSpace <= 0 {
		return
	}
	numSamples := int(reclaimedSpace/c.AvgObjectSize) + 1
	for _, obj := range c.Objects.CreateObjects(numSamples) {
		c.GCObjectPacker.AddObject(obj, obj.Size)
	}
}

// PackExtents forces numExts fresh extents to be sealed at key in the main
// pool.
func (c *Coordinator) PackExtents(numExts, key int) {
	c.ObjectPacker.GenerateExtentsAtKey(numExts, key)
}

// ExtentKey returns the main extent manager's configured placement key for
// ext.
func (c *Coordinator) ExtentKey(ext *extent.Extent) int {
	return c.Extents.Key(ext)
}

// DelSealedExtent handles the out-of-band deletion of a sealed-but-not-yet
// striped extent (e.g. every resident object expired before it was picked
// up by a striping pass): its survivors lose their shard in ext, re-enter
// whichever pool it came from, and that pool is packed again at once.
func (c *Coordinator) DelSealedExtent(ext *extent.Extent) {
	live := ext.RemoveObjects()

	switch {
	case c.ExtentStack.Contains(ext.ID):
		c.ExtentStack.Remove(ext.ID)
		for _, lo := range live {
			if obj, ok := c.Objects.Get(lo.Object); ok {
				obj.RemoveShardsIn(ext.ID)
				c.ObjectPacker.AddObject(obj, lo.Size)
			}
		}
		c.ObjectPacker.PackObjects(c.Clock.Now())
	case c.GCExtentStack.Contains(ext.ID):
		c.GCExtentStack.Remove(ext.ID)
		for _, lo := range live {
			if obj, ok := c.Objects.Get(lo.Object); ok {
				obj.RemoveShardsIn(ext.ID)
				c.GCObjectPacker.AddObject(obj, lo.Size)
			}
		}
		c.GCObjectPacker.PackObjects(c.Clock.Now())
	}
}

// ExtentInExtentStacks reports whether ext is still queued in either pool
// (as opposed to already part of a sealed stripe).
func (c *Coordinator) ExtentInExtentStacks(ext *extent.Extent) bool {
	return c.ExtentStack.Contains(ext.ID) || c.GCExtentStack.Contains(ext.ID)
}

type statTracker interface {
	Stats() (numDefault, numAlternative int)
}

// ProportionOfStripers reports what percentage of replacement-cost
// decisions, across both the main and GC stripers, fell into the default
// model versus the read-minimizing alternative. Zero/zero if neither
// striper tracks the distinction (e.g. erasure coding isn't enabled).
func (c *Coordinator) ProportionOfStripers() (defaultPct, alternativePct float64) {
	var numDefault, numAlternative int
	if t, ok := c.Striper.(statTracker); ok {
		d, a := t.Stats()
		numDefault += d
		numAlternative += a
	}
	if t, ok := c.GCStriper.(statTracker); ok {
		d, a := t.Stats()
		numDefault += d
		numAlternative += a
	}
	total := numDefault + numAlternative
	if total == 0 {
		return 0, 0
	}
	return float64(numDefault) * 100 / float64(total), float64(numAlternative) * 100 / float64(total)
}

// RunCycle drives one simulation tick's striping work: the main pool's
// packing-and-striping pass runs to completion, then the GC strategy sweeps
// the candidate stripes. Object creation precedes packing precedes striping
// precedes GC, strictly in that order, within a tick.
func (c *Coordinator) RunCycle(strategy gc.Strategy, candidates []*stripe.Stripe) (striper.StripeCosts, gc.HandlerResult) {
	mainCosts := c.GenerateStripes()
	gcResult := strategy.GCHandler(candidates)
	return mainCosts, gcResult
}
