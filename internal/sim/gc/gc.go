// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package gc implements the garbage collection strategies that reclaim
// obsolete space from stripes once they cross a primary obsolescence
// threshold: dissolve-and-restripe, in-place per-extent replacement, and a
// shared-pool variant of dissolve-and-restripe. Each strategy only needs a
// narrow slice of the striping coordinator's behavior, declared locally so
// this package never imports the coordinator package.
package gc

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/asch/ssdsim/internal/sim/extent"
	"github.com/asch/ssdsim/internal/sim/id"
	"github.com/asch/ssdsim/internal/sim/stripe"
	"github.com/asch/ssdsim/internal/sim/striper"
)

// Coordinator is the subset of the striping process coordinator a GC
// strategy drives. Satisfied implicitly by *coordinator.Coordinator.
type Coordinator interface {
	// GCExtent reclaims ext: its live objects are stripped of their shard
	// in ext and re-pooled for the next packing pass.
	GCExtent(ext *extent.Extent)
	// GetGCExtent takes a sealed extent queued in the GC extent stack at
	// key, if one is there.
	GetGCExtent(key int) (*extent.Extent, bool)
	// GetExtent takes a sealed extent queued in the main extent stack at
	// key, minting and sealing one there first if none is queued.
	GetExtent(key int) *extent.Extent
	// GenerateGCStripes drains the GC extent stacks into fresh stripes.
	GenerateGCStripes() striper.StripeCosts
	// GetStripe seals whatever the main striper is configured to produce
	// in one cycle.
	GetStripe() striper.StripeCosts
	// GenerateExtents packs any pooled object remainders into extents.
	GenerateExtents()
	// GenerateObjects creates reclaimedSpace worth of fresh demand, used by
	// the shared-pool strategy to keep the data center full after GC.
	GenerateObjects(reclaimedSpace float64)
	// ExtentKey returns the placement key configured for ext.
	ExtentKey(ext *extent.Extent) int
}

// StripeGCResult is the per-stripe accounting produced by one GC pass,
// mirroring the reference simulator's stripe_gc_ret.
type StripeGCResult struct {
	ReclaimedSpace     int64
	UserReads          int64
	UserWrites         int64
	GlobalParityReads  float64
	GlobalParityWrites float64
	LocalParityReads   int64
	LocalParityWrites  int64
	ObsoleteDataReads  int64
	AbsentDataReads    int64
	ValidObjTransfers  int64
	NumExtsReplaced    int
}

// HandlerResult aggregates StripeGCResult across every stripe a handler pass
// reclaimed, mirroring gc_handler_ret.
type HandlerResult struct {
	ReclaimedSpace     int64
	TotalUserReads     int64
	TotalUserWrites    int64
	GlobalParityReads  float64
	GlobalParityWrites float64
	LocalParityReads   int64
	LocalParityWrites  int64
	ObsoleteDataReads  int64
	AbsentDataReads    int64
	ValidObjTransfers  int64
	NumExtsReplaced    int
}

func (h *HandlerResult) add(r StripeGCResult) {
	h.ReclaimedSpace += r.ReclaimedSpace
	h.TotalUserReads += r.UserReads
	h.TotalUserWrites += r.UserWrites
	h.GlobalParityReads += r.GlobalParityReads
	h.GlobalParityWrites += r.GlobalParityWrites
	h.LocalParityReads += r.LocalParityReads
	h.LocalParityWrites += r.LocalParityWrites
	h.ObsoleteDataReads += r.ObsoleteDataReads
	h.AbsentDataReads += r.AbsentDataReads
	h.ValidObjTransfers += r.ValidObjTransfers
	h.NumExtsReplaced += r.NumExtsReplaced
}

// Strategy is the common interface every GC policy implements.
type Strategy interface {
	StripeGC(s *stripe.Stripe) StripeGCResult
	GCHandler(stripes []*stripe.Stripe) HandlerResult
}

func sortedByID(stripes []*stripe.Stripe) []*stripe.Stripe {
	sorted := append([]*stripe.Stripe(nil), stripes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return sorted
}

func localityReplacements(numLocalities int, extsPerLocality, obsPerLocality, validPerLocality []int64) []striper.LocalityReplacement {
	out := make([]striper.LocalityReplacement, numLocalities)
	for i := range out {
		out[i] = striper.LocalityReplacement{
			ExtsReplaced: int(extsPerLocality[i]),
			ObsoleteData: obsPerLocality[i],
			ValidObjs:    validPerLocality[i],
		}
	}
	return out
}

// base holds the fields every strategy shares.
type base struct {
	PrimaryThreshold   float64
	SecondaryThreshold float64
	Extents            *extent.Manager
	Coordinator        Coordinator
	GCStriper          *striper.WithEC

	NumGCCycles       int
	NumExtsGCed       int
	NumLocalitiesInGC int

	// reclaimed tracks every extent ID this strategy has ever reclaimed, as
	// a compressed bitmap rather than a map[id.ExtentID]bool: over a long
	// run the id space is dense and monotonically increasing, which is
	// exactly the case roaring bitmaps compress well.
	reclaimed *roaring64.Bitmap
}

func newBase(primary, secondary float64, extents *extent.Manager, coord Coordinator, gcStriper *striper.WithEC) base {
	return base{
		PrimaryThreshold:   primary,
		SecondaryThreshold: secondary,
		Extents:            extents,
		Coordinator:        coord,
		GCStriper:          gcStriper,
		reclaimed:          roaring64.New(),
	}
}

func (b *base) recordCycle(numExts, numLocalities int) {
	b.NumGCCycles++
	b.NumExtsGCed += numExts
	b.NumLocalitiesInGC += numLocalities
}

// markReclaimed records eid as reclaimed and reports whether this strategy
// has already reclaimed it before, which should never happen since extent
// IDs aren't reused once deleted.
func (b *base) markReclaimed(eid id.ExtentID) (alreadySeen bool) {
	alreadySeen = b.reclaimed.Contains(uint64(eid))
	b.reclaimed.Add(uint64(eid))
	return alreadySeen
}

// NumDistinctExtentsReclaimed returns the number of distinct extents this
// strategy has reclaimed over its lifetime.
func (b *base) NumDistinctExtentsReclaimed() uint64 {
	return b.reclaimed.GetCardinality()
}

// reclaimExtent reads ext's obsolete and valid byte counts, leaving those
// fields unchanged, and hands its still-live objects back to the
// coordinator's object pool, returning the obsolete bytes it held and its
// valid (non-obsolete) byte count.
func reclaimExtent(ext *extent.Extent, coord Coordinator) (obsolete, valid int64) {
	obsolete = ext.Obsolete
	valid = ext.ValidBytes()
	coord.GCExtent(ext)
	return obsolete, valid
}

// NoExts dissolves a stripe entirely once it qualifies for GC: every data
// extent is reclaimed and deleted, the stripe itself is torn down, and the
// surviving live data is restriped from scratch via the GC extent stacks.
type NoExts struct {
	base
	Stripes *stripe.Manager
}

// NewNoExts returns the dissolve-and-restripe GC strategy.
func NewNoExts(primary, secondary float64, extents *extent.Manager, stripes *stripe.Manager, coord Coordinator, gcStriper *striper.WithEC) *NoExts {
	return &NoExts{
		base:    newBase(primary, secondary, extents, coord, gcStriper),
		Stripes: stripes,
	}
}

func (n *NoExts) StripeGC(s *stripe.Stripe) StripeGCResult {
	var ret StripeGCResult
	localities := make(map[int]bool)

	for _, eid := range s.Extents() {
		ext, ok := n.Extents.Get(eid)
		if !ok {
			continue
		}
		obsolete, _ := reclaimExtent(ext, n.Coordinator)
		n.markReclaimed(ext.ID)
		ret.ReclaimedSpace += obsolete
		ret.ValidObjTransfers += ext.ValidBytes()
		ret.NumExtsReplaced++
		localities[ext.Locality] = true

		s.DelExtent(ext)
		n.Extents.DeleteExtent(ext.ID)
	}

	n.recordCycle(ret.NumExtsReplaced, len(localities))
	if ret.ReclaimedSpace == 0 {
		return ret
	}

	n.Stripes.DeleteStripe(s.ID)

	generated := n.Coordinator.GenerateGCStripes()
	numStripes, reads, writes := generated.Stripes, generated.Reads, generated.Writes
	if numStripes < 1 {
		sealed := n.Coordinator.GetStripe()
		ret.UserReads = sealed.Reads
		ret.UserWrites = sealed.Writes
	} else {
		ret.UserReads = reads
		ret.UserWrites = writes
	}

	parityWrites := ret.UserWrites - ret.UserReads
	ret.GlobalParityWrites = float64(parityWrites) / 2
	ret.LocalParityWrites = parityWrites / 2
	ret.UserWrites = ret.UserReads

	return ret
}

func (n *NoExts) GCHandler(stripes []*stripe.Stripe) HandlerResult {
	var ret HandlerResult
	for _, s := range sortedByID(stripes) {
		if s.ObsoletePercentage() < n.PrimaryThreshold {
			continue
		}
		ret.add(n.StripeGC(s))
	}
	return ret
}

// WithExts replaces only the data extents of a qualifying stripe that are
// individually above the secondary threshold, leaving the stripe and its
// still-useful extents in place.
type WithExts struct {
	base
}

// NewWithExts returns the in-place per-extent-replacement GC strategy.
func NewWithExts(primary, secondary float64, extents *extent.Manager, coord Coordinator, gcStriper *striper.WithEC) *WithExts {
	return &WithExts{base: newBase(primary, secondary, extents, coord, gcStriper)}
}

func (w *WithExts) filter(ext *extent.Extent) bool {
	return ext.ObsoletePercentage() >= w.SecondaryThreshold
}

// replaceExtent swaps ext for a sealed extent queued at the same placement
// key, preferring one from the GC extent stack over the main one.
func (w *WithExts) replaceExtent(ext *extent.Extent, s *stripe.Stripe) (userReads, userWrites int64) {
	key := w.Coordinator.ExtentKey(ext)
	replacement, ok := w.Coordinator.GetGCExtent(key)
	if !ok {
		replacement = w.Coordinator.GetExtent(key)
	}
	s.AddExtent(replacement)
	return ext.Capacity, ext.Capacity
}

func (w *WithExts) StripeGC(s *stripe.Stripe) StripeGCResult {
	var ret StripeGCResult
	localities := make(map[int]bool)

	numLocalities := s.NumLocalities
	extsPerLocality := make([]int64, numLocalities)
	obsPerLocality := make([]int64, numLocalities)
	validPerLocality := make([]int64, numLocalities)

	for _, eid := range s.Extents() {
		ext, ok := w.Extents.Get(eid)
		if !ok || !w.filter(ext) {
			continue
		}

		obsolete, valid := reclaimExtent(ext, w.Coordinator)
		w.markReclaimed(ext.ID)
		ret.ReclaimedSpace += obsolete
		ret.ValidObjTransfers += valid
		ret.NumExtsReplaced++
		localities[ext.Locality] = true
		extsPerLocality[ext.Locality]++
		obsPerLocality[ext.Locality] += obsolete
		validPerLocality[ext.Locality] += valid

		s.DelExtent(ext)
		w.Extents.DeleteExtent(ext.ID)

		reads, writes := w.replaceExtent(ext, s)
		ret.UserReads += reads
		ret.UserWrites += writes
	}

	w.recordCycle(ret.NumExtsReplaced, len(localities))

	if ret.ReclaimedSpace > 0 && w.GCStriper != nil {
		localityReps := localityReplacements(numLocalities, extsPerLocality, obsPerLocality, validPerLocality)
		extSize := s.ExtSize
		repl := w.GCStriper.CostToReplaceExtents(extSize, localityReps)
		ret.GlobalParityReads += repl.GlobalParityReads
		ret.GlobalParityWrites += repl.GlobalParityWrites
		ret.LocalParityReads += repl.LocalParityReads
		ret.LocalParityWrites += repl.LocalParityWrites
		ret.ObsoleteDataReads += repl.ObsoleteDataReads
		ret.AbsentDataReads += repl.AbsentDataReads
	}

	return ret
}

func (w *WithExts) GCHandler(stripes []*stripe.Stripe) HandlerResult {
	var ret HandlerResult
	for _, s := range sortedByID(stripes) {
		if s.ObsoletePercentage() < w.PrimaryThreshold {
			continue
		}
		ret.add(w.StripeGC(s))
	}
	return ret
}

// MixObjStripeLevel dissolves qualifying stripes like NoExts but defers
// restriping: reclaimed data is pooled across all dissolved stripes in one
// handler pass, then packed and restriped together, sharing overhead across
// a GC cycle instead of per stripe.
type MixObjStripeLevel struct {
	base
}

// NewMixObjStripeLevel returns the shared-pool dissolve GC strategy.
func NewMixObjStripeLevel(primary, secondary float64, extents *extent.Manager, coord Coordinator, gcStriper *striper.WithEC) *MixObjStripeLevel {
	return &MixObjStripeLevel{base: newBase(primary, secondary, extents, coord, gcStriper)}
}

func (m *MixObjStripeLevel) StripeGC(s *stripe.Stripe) StripeGCResult {
	var ret StripeGCResult
	localities := make(map[int]bool)

	for _, eid := range s.Extents() {
		ext, ok := m.Extents.Get(eid)
		if !ok {
			continue
		}
		obsolete, _ := reclaimExtent(ext, m.Coordinator)
		m.markReclaimed(ext.ID)
		ret.ReclaimedSpace += obsolete
		ret.ValidObjTransfers += ext.ValidBytes()
		ret.NumExtsReplaced++
		localities[ext.Locality] = true

		s.DelExtent(ext)
		m.Extents.DeleteExtent(ext.ID)
	}

	m.recordCycle(ret.NumExtsReplaced, len(localities))
	return ret
}

func (m *MixObjStripeLevel) GCHandler(stripes []*stripe.Stripe) HandlerResult {
	var ret HandlerResult
	var anyReclaimed bool

	for _, s := range sortedByID(stripes) {
		if s.ObsoletePercentage() < m.PrimaryThreshold {
			continue
		}
		res := m.StripeGC(s)
		ret.add(res)
		if res.ReclaimedSpace > 0 {
			anyReclaimed = true
		}
	}

	if !anyReclaimed {
		return ret
	}

	m.Coordinator.GenerateExtents()
	m.Coordinator.GenerateObjects(float64(ret.ReclaimedSpace))

	sealed := m.Coordinator.GetStripe()
	parityWrites := sealed.Writes - sealed.Reads
	ret.GlobalParityWrites += float64(parityWrites) / 2
	ret.LocalParityWrites += parityWrites / 2
	ret.TotalUserWrites += sealed.Reads
	ret.TotalUserReads += sealed.Reads

	return ret
}
