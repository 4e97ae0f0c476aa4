// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package striper turns pooled extents into sealed stripes and prices the
// read/write cost of doing so, including the cost of replacing GCed extents
// under erasure coding. Each behavior (batching a whole pass, running a
// fixed number of stripes per cycle, applying coding overhead) is a small
// composed wrapper around a Striper rather than a named subclass, so the
// chain a caller builds is visible at the call site instead of hidden behind
// inheritance.
package striper

import (
	"sync"

	"github.com/asch/ssdsim/internal/sim/extent"
	"github.com/asch/ssdsim/internal/sim/extentstack"
	"github.com/asch/ssdsim/internal/sim/stripe"
)

// StripeCosts accumulates the read/write cost of sealing stripes.
type StripeCosts struct {
	Stripes int
	Reads   int64
	Writes  int64
}

// Add accumulates rhs into s.
func (s *StripeCosts) Add(rhs StripeCosts) {
	s.Stripes += rhs.Stripes
	s.Reads += rhs.Reads
	s.Writes += rhs.Writes
}

// ReplCosts prices the read/write traffic required to replace the extents a
// GC pass reclaimed in one stripe.
type ReplCosts struct {
	GlobalParityReads  float64
	GlobalParityWrites float64
	LocalParityReads   int64
	LocalParityWrites  int64
	ObsoleteDataReads  int64
	ValidObjReads      int64
	AbsentDataReads    int64
}

// LocalityReplacement describes one locality's worth of extents being
// replaced in a GC pass: how many extents are being swapped out, how many
// obsolete bytes they held and how many valid object bytes must be
// preserved.
type LocalityReplacement struct {
	ExtsReplaced int
	ObsoleteData int64
	ValidObjs    int64
}

// Striper is the common interface every stripe-creation policy satisfies.
type Striper interface {
	// CreateStripes seals as many stripes as the policy calls for from
	// stack, returning the aggregate cost.
	CreateStripes(stack extentstack.Stack) StripeCosts
	// NumStripesRequired reports how many stripes one cycle is configured
	// to produce; 0 means "drain the stack".
	NumStripesRequired() int
	// CostToReplaceExtents prices replacing the extents a GC pass
	// reclaimed, given per-locality replacement stats.
	CostToReplaceExtents(extSize int64, localities []LocalityReplacement) ReplCosts
}

// Simple seals exactly one stripe per call, pulling NumDataExtsPerStripe
// extents off the stack and writing+reading every byte of each.
type Simple struct {
	Stripes *stripe.Manager
	Extents *extent.Manager
}

func (s *Simple) NumStripesRequired() int { return 1 }

func (s *Simple) CreateStripes(stack extentstack.Stack) StripeCosts {
	numExts := s.Stripes.NumDataExtsPerStripe
	extIDs := stack.PopStripeExts(numExts)
	if len(extIDs) < numExts {
		return StripeCosts{}
	}

	first, ok := s.Extents.Get(extIDs[0])
	if !ok {
		return StripeCosts{}
	}
	newStripe := s.Stripes.CreateNewStripe(first.Capacity)

	var writes, reads int64
	for _, eid := range extIDs {
		ext, ok := s.Extents.Get(eid)
		if !ok {
			continue
		}
		if err := newStripe.AddExtent(ext); err != nil {
			continue
		}
		writes += ext.Capacity
		reads += ext.Capacity
	}

	return StripeCosts{Stripes: 1, Reads: reads, Writes: writes}
}

func (s *Simple) CostToReplaceExtents(int64, []LocalityReplacement) ReplCosts {
	return ReplCosts{}
}

// Decorator is the common embedding every wrapper uses to forward the parts
// of Striper it doesn't override.
type decorator struct {
	inner Striper
}

func (d decorator) NumStripesRequired() int { return d.inner.NumStripesRequired() }
func (d decorator) CostToReplaceExtents(extSize int64, localities []LocalityReplacement) ReplCosts {
	return d.inner.CostToReplaceExtents(extSize, localities)
}

// ExtentStackDrain repeatedly invokes inner.CreateStripes until the stack
// can no longer supply a full stripe, mutex-guarded so concurrent calls on
// the same drain are serialized.
type ExtentStackDrain struct {
	decorator
	stripesPerCall int
	mu             sync.Mutex
}

// NewExtentStackDrain wraps inner so a single CreateStripes call drains the
// whole stack instead of sealing just one stripe.
func NewExtentStackDrain(inner Striper, stripesPerCall int) *ExtentStackDrain {
	return &ExtentStackDrain{decorator: decorator{inner: inner}, stripesPerCall: stripesPerCall}
}

func (d *ExtentStackDrain) NumStripesRequired() int { return 0 }

func (d *ExtentStackDrain) CreateStripes(stack extentstack.Stack) StripeCosts {
	d.mu.Lock()
	defer d.mu.Unlock()

	var total StripeCosts
	for stack.NumStripes(d.stripesPerCall) > 0 {
		total.Add(d.inner.CreateStripes(stack))
	}
	return total
}

// FixedCount runs inner's CreateStripes a fixed number of times per cycle,
// modeling a striping process with a per-cycle stripe budget instead of
// draining the whole pool.
type FixedCount struct {
	decorator
	NumPerCycle int
}

// NewFixedCount wraps inner to produce exactly n stripes per
// CreateStripes call (fewer if the stack runs dry).
func NewFixedCount(inner Striper, n int) *FixedCount {
	return &FixedCount{decorator: decorator{inner: inner}, NumPerCycle: n}
}

func (f *FixedCount) NumStripesRequired() int { return f.NumPerCycle }

func (f *FixedCount) CreateStripes(stack extentstack.Stack) StripeCosts {
	var total StripeCosts
	for i := 0; i < f.NumPerCycle; i++ {
		total.Add(f.inner.CreateStripes(stack))
	}
	return total
}

// WithEC scales the write cost of every sealed stripe by the configured
// erasure-coding overhead and prices GC extent replacement using the
// straightforward "always rebuild global parity" model.
type WithEC struct {
	decorator
	Stripes *stripe.Manager
	mu      sync.Mutex

	NumTimesDefault     int
	NumTimesAlternative int
}

// NewWithEC wraps inner to account for the coding overhead configured on
// stripes.
func NewWithEC(inner Striper, stripes *stripe.Manager) *WithEC {
	return &WithEC{decorator: decorator{inner: inner}, Stripes: stripes}
}

// Stats reports how many replacement-cost calls fell into the default vs.
// alternative model. For WithEC every counted call is "default";
// WithEfficientEC overrides the split by choosing per call. Whole-stripe
// replacements return before either counter is touched.
func (w *WithEC) Stats() (numDefault, numAlternative int) {
	return w.NumTimesDefault, w.NumTimesAlternative
}

func (w *WithEC) CreateStripes(stack extentstack.Stack) StripeCosts {
	w.mu.Lock()
	defer w.mu.Unlock()

	costs := w.inner.CreateStripes(stack)
	costs.Writes = int64(float64(costs.Writes) * w.Stripes.CodingOverhead)
	return costs
}

// CostToReplaceExtents implements the reference "default" replacement model:
// whole-stripe replacement only writes fresh global and local parity,
// partial replacement per locality reads back obsolete + valid data to
// recompute local parity, and global parity is always rebuilt from the final
// result.
func (w *WithEC) CostToReplaceExtents(extSize int64, localities []LocalityReplacement) ReplCosts {
	w.mu.Lock()
	defer w.mu.Unlock()

	var costs ReplCosts
	var totalReplaced int
	for _, l := range localities {
		totalReplaced += l.ExtsReplaced
	}

	if totalReplaced == w.Stripes.NumDataExtsPerStripe {
		costs.GlobalParityWrites = float64(w.Stripes.NumGlobalParities) * float64(extSize)
		costs.LocalParityWrites = int64(w.Stripes.NumLocalParities) * extSize
		return costs
	}

	numExtsPerLocality := w.Stripes.NumDataExtsPerLocality
	for _, l := range localities {
		switch {
		case l.ExtsReplaced == numExtsPerLocality:
			costs.ValidObjReads += l.ValidObjs
			costs.ObsoleteDataReads += l.ObsoleteData
			costs.LocalParityWrites += extSize
		case l.ExtsReplaced != 0:
			costs.ValidObjReads += l.ValidObjs
			costs.ObsoleteDataReads += l.ObsoleteData
			costs.LocalParityReads += extSize
			costs.LocalParityWrites += extSize
		}
	}

	costs.GlobalParityReads += float64(w.Stripes.NumGlobalParities) * float64(extSize)
	costs.GlobalParityWrites += float64(w.Stripes.NumGlobalParities) * float64(extSize)
	w.NumTimesDefault++
	return costs
}

// WithEfficientEC chooses, per GC pass, between the default replacement
// model (rebuild parity from obsolete+valid reads) and an alternative that
// instead reads the untouched extents of a partially-replaced locality
// directly, picking whichever would cost fewer reads.
type WithEfficientEC struct {
	*WithEC
}

// NewWithEfficientEC wraps inner with the read-minimizing replacement-cost
// model.
func NewWithEfficientEC(inner Striper, stripes *stripe.Manager) *WithEfficientEC {
	return &WithEfficientEC{WithEC: NewWithEC(inner, stripes)}
}

func (w *WithEfficientEC) CostToReplaceExtents(extSize int64, localities []LocalityReplacement) ReplCosts {
	w.mu.Lock()
	defer w.mu.Unlock()

	var costs ReplCosts
	var totalReplaced int
	for _, l := range localities {
		totalReplaced += l.ExtsReplaced
	}

	if totalReplaced == w.Stripes.NumDataExtsPerStripe {
		costs.GlobalParityWrites = float64(w.Stripes.NumGlobalParities) * float64(extSize)
		costs.LocalParityWrites = int64(w.Stripes.NumLocalParities) * extSize
		return costs
	}

	numExtsPerLocality := w.Stripes.NumDataExtsPerLocality
	for _, l := range localities {
		switch {
		case l.ExtsReplaced == numExtsPerLocality:
			costs.ValidObjReads += l.ValidObjs
			costs.ObsoleteDataReads += l.ObsoleteData
			costs.LocalParityWrites += extSize
		case l.ExtsReplaced != 0:
			costs.ValidObjReads += l.ValidObjs
			costs.ObsoleteDataReads += l.ObsoleteData
			costs.LocalParityReads += extSize
			costs.AbsentDataReads += int64(numExtsPerLocality-l.ExtsReplaced) * extSize
			costs.LocalParityWrites += extSize
		default:
			costs.AbsentDataReads += int64(numExtsPerLocality) * extSize
		}
	}

	costs.GlobalParityReads += float64(w.Stripes.NumGlobalParities) * float64(extSize)
	costs.GlobalParityWrites += float64(w.Stripes.NumGlobalParities) * float64(extSize)

	defaultReads := int64(costs.GlobalParityReads) + costs.ObsoleteDataReads + costs.LocalParityReads
	if defaultReads <= costs.AbsentDataReads {
		w.NumTimesDefault++
		costs.AbsentDataReads = 0
		return costs
	}

	w.NumTimesAlternative++
	costs.GlobalParityReads = 0
	costs.LocalParityReads = 0
	costs.ObsoleteDataReads = 0
	costs.ValidObjReads = 0
	return costs
}
