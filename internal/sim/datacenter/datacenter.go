// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package datacenter assembles every simulator component from a Config and
// drives the per-tick sequence: create objects, retire expired ones, pack
// and stripe the main pool, then run a GC pass over stripes that have
// crossed the primary obsolescence threshold.
package datacenter

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/asch/ssdsim/internal/config"
	"github.com/asch/ssdsim/internal/sim/clock"
	"github.com/asch/ssdsim/internal/sim/coordinator"
	"github.com/asch/ssdsim/internal/sim/event"
	"github.com/asch/ssdsim/internal/sim/extent"
	"github.com/asch/ssdsim/internal/sim/extentstack"
	"github.com/asch/ssdsim/internal/sim/gc"
	"github.com/asch/ssdsim/internal/sim/id"
	"github.com/asch/ssdsim/internal/sim/metrics"
	"github.com/asch/ssdsim/internal/sim/object"
	"github.com/asch/ssdsim/internal/sim/packer"
	"github.com/asch/ssdsim/internal/sim/sampler"
	"github.com/asch/ssdsim/internal/sim/stripe"
	"github.com/asch/ssdsim/internal/sim/striper"
)

// DataCenter owns every manager and drives the simulation clock forward one
// tick at a time.
type DataCenter struct {
	Clock   *clock.Clock
	Events  *event.Manager
	Objects *object.Manager
	Extents *extent.Manager
	Stripes *stripe.Manager

	Coordinator *coordinator.Coordinator
	GCStrategy  gc.Strategy
	Metrics     *metrics.Metrics

	NumObjectsPerCycle int
	PrimaryThreshold   float64

	// trace folds every tick's counters into a single running checksum, so
	// two runs can be compared for determinism without retaining their full
	// per-tick history.
	trace *xxhash.Digest
}

// New builds a complete DataCenter from cfg, wiring the packer policy,
// extent-stack variant, striper decorator chain and GC strategy named in
// the configuration.
func New(cfg config.Config) (*DataCenter, error) {
	if cfg.Threshold < 0 || cfg.Threshold > 100 || cfg.SecondaryThreshold < 0 || cfg.SecondaryThreshold > 100 {
		return nil, fmt.Errorf("thresholds out of [0,100]: threshold %d, secondary threshold %d", cfg.Threshold, cfg.SecondaryThreshold)
	}

	clk := clock.New(0)
	events := event.New()

	samp := sampler.NewEmpirical(cfg.Sim.SizeSeed, cfg.Sim.Time)
	objects := object.New(samp, events, clk, cfg.Sim.AddNoise, cfg.Sim.NoiseSeed)

	extSize := int64(cfg.ExtSize.Bytes())
	extents := extent.NewManager(extSize, cfg.SecondaryThreshold)
	switch cfg.Packer.Policy {
	case "generation":
		extents.KeyFunc = extent.GenerationKey
	case "age":
		extents.KeyFunc = extent.AgeBucketKey(0)
	default:
		extents.KeyFunc = extent.DefaultKey
	}

	stripes, err := stripe.NewManager(
		cfg.DataCenter.NumDataExtsPerLocality,
		cfg.DataCenter.NumLocalParities,
		cfg.DataCenter.NumGlobalParities,
		cfg.DataCenter.NumLocalities,
		cfg.DataCenter.CodingOverhead,
	)
	if err != nil {
		return nil, fmt.Errorf("building stripe manager: %w", err)
	}

	mainStack := newExtentStack(cfg)
	gcStack := newExtentStack(cfg)

	var packKey packer.KeyFn
	var ordering packer.Ordering
	switch cfg.Packer.Policy {
	case "generation":
		packKey = packer.GenerationKey
	case "age":
		packKey = packer.AgeBasedKey(clk)
	case "size":
		packKey = packer.SizeClassKey
	default:
		packKey = packer.ConstantKey
	}
	switch cfg.Packer.Ordering {
	case "lifo":
		ordering = packer.LIFO
	case "largest_first":
		ordering = packer.LargestFirst
	default:
		ordering = packer.FIFO
	}

	policy := packer.Policy{Key: packKey, Order: ordering, ExtSize: extSize, Sampler: objects, Clock: clk}
	if cfg.GC.Strategy == "mix_obj" {
		// MixedObj shares one pool between the main and GC packers rather
		// than each draining its own, per the reference simulator's aliased
		// object pool.
		policy.Pool = packer.NewSharedPool()
	}
	mainPacker := packer.New(policy, extents, mainStack)
	gcPacker := packer.New(policy, extents, gcStack)

	mainStriper := buildStriper(&striper.Simple{Stripes: stripes, Extents: extents}, stripes, cfg)
	gcStriperInner := buildStriper(&striper.Simple{Stripes: stripes, Extents: extents}, stripes, cfg)

	var gcStriper *striper.WithEC
	if cfg.Striper.EfficientEC {
		gcStriper = striper.NewWithEfficientEC(gcStriperInner, stripes).WithEC
	} else {
		gcStriper = striper.NewWithEC(gcStriperInner, stripes)
	}

	coord := &coordinator.Coordinator{
		ObjectPacker:   mainPacker,
		GCObjectPacker: gcPacker,
		Striper:        mainStriper,
		GCStriper:      gcStriper,
		ExtentStack:    mainStack,
		GCExtentStack:  gcStack,
		Stripes:        stripes,
		Extents:        extents,
		Objects:        objects,
		Clock:          clk,
		AvgObjectSize:  35000,
	}

	strategy := buildGCStrategy(cfg, extents, coord, gcStriper)

	return &DataCenter{
		Clock:              clk,
		Events:             events,
		Objects:            objects,
		Extents:            extents,
		Stripes:            stripes,
		Coordinator:        coord,
		GCStrategy:         strategy,
		Metrics:            metrics.New(),
		NumObjectsPerCycle: cfg.Sim.NumObjectsPerCycle,
		PrimaryThreshold:   float64(cfg.Threshold),
		trace:              xxhash.New(),
	}, nil
}

// TraceChecksum folds every tick run so far into a single value: two
// DataCenters built from identical configuration and driven for the same
// number of ticks must report identical checksums.
func (dc *DataCenter) TraceChecksum() uint64 {
	return dc.trace.Sum64()
}

func (dc *DataCenter) recordTrace(now float64, mainCosts striper.StripeCosts, gcResult gc.HandlerResult) {
	var buf [8 * 6]byte
	binary.LittleEndian.PutUint64(buf[0:], math.Float64bits(now))
	binary.LittleEndian.PutUint64(buf[8:], uint64(mainCosts.Stripes))
	binary.LittleEndian.PutUint64(buf[16:], uint64(mainCosts.Reads))
	binary.LittleEndian.PutUint64(buf[24:], uint64(mainCosts.Writes))
	binary.LittleEndian.PutUint64(buf[32:], uint64(gcResult.ReclaimedSpace))
	binary.LittleEndian.PutUint64(buf[40:], uint64(gcResult.NumExtsReplaced))
	_, _ = dc.trace.Write(buf[:])
}

func newExtentStack(cfg config.Config) extentstack.Stack {
	var base extentstack.Stack
	switch cfg.ExtentStack.Variant {
	case "multi":
		base = extentstack.NewMulti()
	case "best_effort":
		base = extentstack.NewBestEffort()
	case "whole_object":
		base = extentstack.NewWholeObject()
	default:
		base = extentstack.NewSingle()
	}
	if cfg.ExtentStack.Randomize {
		return extentstack.NewRandomizer(base, cfg.ExtentStack.RandomSeed)
	}
	return base
}

// buildStriper wraps a Simple striper the same way for both the main and GC
// stripers: a fixed number of stripes per cycle if configured, otherwise
// drain-the-stack batching.
func buildStriper(simple *striper.Simple, stripes *stripe.Manager, cfg config.Config) striper.Striper {
	if cfg.Striper.StripesPerCycle > 0 {
		return striper.NewFixedCount(simple, cfg.Striper.StripesPerCycle)
	}
	return extentStackDrain(simple)
}

func extentStackDrain(inner striper.Striper) striper.Striper {
	return striper.NewExtentStackDrain(inner, stripeSizeOf(inner))
}

// stripeSizeOf extracts NumDataExtsPerStripe from a *striper.Simple; every
// striper this package builds wraps one, so the type assertion never fails
// in practice. Returned as 1 defensively so a drain never spins forever on a
// stack it can't make progress on.
func stripeSizeOf(s striper.Striper) int {
	if simple, ok := s.(*striper.Simple); ok {
		return simple.Stripes.NumDataExtsPerStripe
	}
	return 1
}

func buildGCStrategy(cfg config.Config, extents *extent.Manager, coord *coordinator.Coordinator, gcStriper *striper.WithEC) gc.Strategy {
	primary := float64(cfg.Threshold)
	secondary := float64(cfg.SecondaryThreshold)

	switch cfg.GC.Strategy {
	case "with_exts":
		return gc.NewWithExts(primary, secondary, extents, coord, gcStriper)
	case "mix_obj":
		return gc.NewMixObjStripeLevel(primary, secondary, extents, coord, gcStriper)
	default:
		return gc.NewNoExts(primary, secondary, extents, coord.Stripes, coord, gcStriper)
	}
}

// Run advances the simulation for totalTime time units, one tick per unit,
// stopping early if ctx is cancelled. Whatever remains open in the packers'
// pools when Run returns is flushed so no resident data goes unaccounted.
func (dc *DataCenter) Run(ctx context.Context, totalTime float64) {
	for dc.Clock.Now() < totalTime {
		select {
		case <-ctx.Done():
			dc.Coordinator.ObjectPacker.FlushPartial()
			dc.Coordinator.GCObjectPacker.FlushPartial()
			return
		default:
		}
		dc.Tick()
	}
	dc.Coordinator.ObjectPacker.FlushPartial()
	dc.Coordinator.GCObjectPacker.FlushPartial()
}

// Tick runs one simulation step: create this cycle's objects, retire
// whatever expired by now, then pack/stripe the main pool and, after that,
// sweep GC candidates.
func (dc *DataCenter) Tick() {
	now := dc.Clock.Now()

	for _, obj := range dc.Objects.CreateObjects(dc.NumObjectsPerCycle) {
		dc.Coordinator.ObjectPacker.AddObject(obj, obj.Size)
		dc.Metrics.ObjectsCreated.Inc()
	}

	for _, due := range dc.Events.PopIfDue(now) {
		dc.retireObject(due.Object)
	}

	ids := dc.Stripes.IDs()
	candidates := make([]*stripe.Stripe, 0, len(ids))
	for _, sid := range ids {
		if s, ok := dc.Stripes.Get(sid); ok {
			candidates = append(candidates, s)
		}
	}

	mainCosts, gcResult := dc.Coordinator.RunCycle(dc.GCStrategy, candidates)
	dc.recordCosts(mainCosts, gcResult)
	dc.recordTrace(now, mainCosts, gcResult)
	dc.Metrics.LiveBytes.Set(float64(dc.Stripes.DataDCSize()))

	log.Debug().
		Float64("time", now).
		Int("stripes_sealed", mainCosts.Stripes).
		Int("gc_exts_replaced", gcResult.NumExtsReplaced).
		Msg("tick complete")

	dc.Clock.Advance(1)
}

func (dc *DataCenter) retireObject(oid id.ObjectID) {
	obj, ok := dc.Objects.Get(oid)
	if !ok {
		return
	}
	for _, shard := range obj.Shards {
		if ext, ok := dc.Extents.Get(shard.Extent); ok {
			ext.DelObject(obj.ID)
		}
	}
	dc.Objects.Remove(obj.ID)
}

func (dc *DataCenter) recordCosts(main striper.StripeCosts, gcResult gc.HandlerResult) {
	dc.Metrics.StripesSealed.Add(float64(main.Stripes))
	dc.Metrics.UserReads.Add(float64(main.Reads))
	dc.Metrics.UserWrites.Add(float64(main.Writes))

	if gcResult.NumExtsReplaced > 0 {
		dc.Metrics.GCCycles.Inc()
	}
	dc.Metrics.ExtentsGCed.Add(float64(gcResult.NumExtsReplaced))
	dc.Metrics.ReclaimedBytes.Add(float64(gcResult.ReclaimedSpace))
	dc.Metrics.UserReads.Add(float64(gcResult.TotalUserReads))
	dc.Metrics.UserWrites.Add(float64(gcResult.TotalUserWrites))
	dc.Metrics.GlobalParityIO.Add(gcResult.GlobalParityReads + gcResult.GlobalParityWrites)
	dc.Metrics.LocalParityIO.Add(float64(gcResult.LocalParityReads + gcResult.LocalParityWrites))
	dc.Metrics.AbsentDataReads.Add(float64(gcResult.AbsentDataReads))
}
