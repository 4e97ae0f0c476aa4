// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package sampler produces the synthetic (size, life) workload consumed by
// the object manager. The empirical distribution and its bucket boundaries
// are taken from the reference simulator; the uniform integer draw inside
// each bucket is implemented correctly here instead of reproducing the
// off-by-construction randint() of the original C++ (see DESIGN.md).
package sampler

import "math/rand"

// Sample is one (size, life) draw.
type Sample struct {
	Size int64
	Life float64
}

// Sampler is a pluggable, lazily-evaluated source of workload samples.
type Sampler interface {
	Sample(numSamples int) []Sample
}

type bucket struct {
	min, max int64
	cumPct   float64
}

var sizeBuckets = []bucket{
	{4, 10, 50},
	{11, 50, 65},
	{51, 100, 75.1},
	{101, 200, 81.3},
	{201, 300, 85.5},
	{301, 400, 88},
	{401, 500, 89.5},
	{501, 600, 90.7},
	{601, 700, 91.8},
	{701, 800, 92.7},
	{801, 900, 93.6},
	{901, 1000, 94},
	{1001, 1500, 95.2},
	{1501, 2000, 96.2},
	{2001, 3000, 100},
}

type lifeBucket struct {
	min, max int64
	cumPct   float64
	fixed    bool // single fixed value (min == max, and "final" bucket uses simTime)
}

// Empirical is the reference distribution: sizes and lives are drawn by
// bucketed inverse-CDF, each bucket sampled uniformly. Deterministic when
// seeded with NewEmpirical.
type Empirical struct {
	rng     *rand.Rand
	simTime float64
}

// NewEmpirical returns a sampler seeded deterministically. simTime caps the
// final life bucket, which represents "lives past the end of the run".
func NewEmpirical(seed int64, simTime float64) *Empirical {
	return &Empirical{rng: rand.New(rand.NewSource(seed)), simTime: simTime}
}

func (s *Empirical) lifeBuckets() []lifeBucket {
	return []lifeBucket{
		{1, 1, 5, true},
		{2, 7, 9, false},
		{8, 30, 12, false},
		{31, 90, 16, false},
		{91, 365, 26, false},
		{int64(s.simTime) + 1, int64(s.simTime) + 1, 100, true},
	}
}

// randint returns a proper uniform integer in [min, max], correcting the
// reference implementation's (rand() % ((max+1)+min)) + min bug.
func randint(rng *rand.Rand, min, max int64) int64 {
	if max <= min {
		return min
	}
	return min + rng.Int63n(max-min+1)
}

func (s *Empirical) Sample(numSamples int) []Sample {
	samples := make([]Sample, numSamples)
	buckets := s.lifeBuckets()

	for i := 0; i < numSamples; i++ {
		roll := s.rng.Float64() * 100
		for _, b := range sizeBuckets {
			if roll < b.cumPct {
				samples[i].Size = randint(s.rng, b.min, b.max)
				break
			}
		}

		roll = s.rng.Float64() * 100
		for _, b := range buckets {
			if roll < b.cumPct {
				if b.fixed {
					samples[i].Life = float64(b.min)
				} else {
					samples[i].Life = float64(randint(s.rng, b.min, b.max))
				}
				break
			}
		}
	}

	return samples
}

// Constant always returns the same (size, life) pair. Used for SanityCheck
// style deterministic tests of the downstream pipeline.
type Constant struct {
	Size int64
	Life float64
}

func (s Constant) Sample(numSamples int) []Sample {
	samples := make([]Sample, numSamples)
	for i := range samples {
		samples[i] = Sample{Size: s.Size, Life: s.Life}
	}
	return samples
}
