// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package extentstack implements the key-ordered pools that hold sealed
// extents awaiting striping. Extents enter keyed by whatever a packer's key
// function computed (age, generation, size...) and leave either by exact key
// match or, for the best-effort variant, by nearest key.
package extentstack

import (
	"math/rand"
	"sort"

	"github.com/asch/ssdsim/internal/sim/id"
)

// Stack is the common behavior every extent-stack variant exposes to a
// packer or striper.
type Stack interface {
	AddExtent(key int, ext id.ExtentID)
	NumStripes(stripeSize int) int
	PopStripeExts(stripeSize int) []id.ExtentID
	// PopAtKey removes and returns a single extent queued under key.
	PopAtKey(key int) (id.ExtentID, bool)
	Len() int
	LenAtKey(key int) int
	Contains(ext id.ExtentID) bool
	Remove(ext id.ExtentID)
}

// ordered is the shared keyed-queue storage: a map of key to FIFO queue of
// extent ids, plus the keys kept sorted for nearest-key and in-order pop
// operations.
type ordered struct {
	queues map[int][]id.ExtentID
	keys   []int
}

func newOrdered() ordered {
	return ordered{queues: make(map[int][]id.ExtentID)}
}

func (o *ordered) addExtent(key int, ext id.ExtentID) {
	if _, ok := o.queues[key]; !ok {
		i := sort.SearchInts(o.keys, key)
		o.keys = append(o.keys, 0)
		copy(o.keys[i+1:], o.keys[i:])
		o.keys[i] = key
	}
	o.queues[key] = append(o.queues[key], ext)
}

func (o *ordered) dropKeyIfEmpty(key int) {
	if len(o.queues[key]) > 0 {
		return
	}
	delete(o.queues, key)
	i := sort.SearchInts(o.keys, key)
	if i < len(o.keys) && o.keys[i] == key {
		o.keys = append(o.keys[:i], o.keys[i+1:]...)
	}
}

func (o *ordered) popFront(key int) (id.ExtentID, bool) {
	q, ok := o.queues[key]
	if !ok || len(q) == 0 {
		return 0, false
	}
	ext := q[0]
	o.queues[key] = q[1:]
	o.dropKeyIfEmpty(key)
	return ext, true
}

func (o *ordered) Len() int {
	n := 0
	for _, q := range o.queues {
		n += len(q)
	}
	return n
}

func (o *ordered) LenAtKey(key int) int {
	return len(o.queues[key])
}

func (o *ordered) Contains(ext id.ExtentID) bool {
	for _, q := range o.queues {
		for _, e := range q {
			if e == ext {
				return true
			}
		}
	}
	return false
}

func (o *ordered) Remove(ext id.ExtentID) {
	for key, q := range o.queues {
		kept := q[:0]
		for _, e := range q {
			if e != ext {
				kept = append(kept, e)
			}
		}
		o.queues[key] = kept
		o.dropKeyIfEmpty(key)
	}
}

// Single drains a single key's queue at a time; a stripe may span several
// keys when one key's queue runs out early.
type Single struct {
	ordered
}

func NewSingle() *Single {
	return &Single{ordered: newOrdered()}
}

func (s *Single) AddExtent(key int, ext id.ExtentID) { s.addExtent(key, ext) }

func (s *Single) PopAtKey(key int) (id.ExtentID, bool) { return s.popFront(key) }

func (s *Single) NumStripes(stripeSize int) int {
	if stripeSize <= 0 {
		return 0
	}
	return s.Len() / stripeSize
}

// PopStripeExts pulls stripeSize extents, walking keys in order and
// continuing into the next key whenever the current one is exhausted. Empty
// if fewer than stripeSize extents are available overall.
func (s *Single) PopStripeExts(stripeSize int) []id.ExtentID {
	if s.Len() < stripeSize {
		return nil
	}

	ret := make([]id.ExtentID, 0, stripeSize)
	for _, key := range append([]int(nil), s.keys...) {
		for len(ret) < stripeSize {
			ext, ok := s.popFront(key)
			if !ok {
				break
			}
			ret = append(ret, ext)
		}
		if len(ret) == stripeSize {
			break
		}
	}
	return ret
}

// Multi requires an entire stripe's extents to come from the same key's
// queue; it skips keys that cannot supply a full stripe.
type Multi struct {
	ordered
}

func NewMulti() *Multi {
	return &Multi{ordered: newOrdered()}
}

func (m *Multi) AddExtent(key int, ext id.ExtentID) { m.addExtent(key, ext) }

func (m *Multi) PopAtKey(key int) (id.ExtentID, bool) { return m.popFront(key) }

func (m *Multi) NumStripes(stripeSize int) int {
	if stripeSize <= 0 {
		return 0
	}
	n := 0
	for _, q := range m.queues {
		n += len(q) / stripeSize
	}
	return n
}

func (m *Multi) PopStripeExts(stripeSize int) []id.ExtentID {
	for _, key := range m.keys {
		if len(m.queues[key]) >= stripeSize {
			ret := append([]id.ExtentID(nil), m.queues[key][:stripeSize]...)
			m.queues[key] = m.queues[key][stripeSize:]
			m.dropKeyIfEmpty(key)
			return ret
		}
	}
	return nil
}

// BestEffort behaves like Single for stripe assembly but additionally
// supports pulling the extent whose key is nearest a requested key, ties
// broken toward the higher key.
type BestEffort struct {
	Single
}

func NewBestEffort() *BestEffort {
	return &BestEffort{Single: *NewSingle()}
}

// GetAtClosestKey removes and returns one extent from the queue whose key is
// nearest to key. With a single remaining key that key's extent is returned
// unconditionally. Ties are broken toward the higher key.
func (b *BestEffort) GetAtClosestKey(key int) (id.ExtentID, bool) {
	if len(b.keys) == 0 {
		return 0, false
	}
	if len(b.keys) == 1 {
		return b.popFront(b.keys[0])
	}
	if key < b.keys[0] {
		return b.popFront(b.keys[0])
	}
	last := b.keys[len(b.keys)-1]
	if key > last {
		return b.popFront(last)
	}

	i := sort.SearchInts(b.keys, key)
	if i < len(b.keys) && b.keys[i] == key {
		return b.popFront(b.keys[i])
	}
	nextKey := b.keys[i]
	prevKey := b.keys[i-1]
	if nextKey-key < key-prevKey {
		return b.popFront(nextKey)
	}
	// Tie or prev closer: higher key wins ties.
	if nextKey-key == key-prevKey {
		return b.popFront(nextKey)
	}
	return b.popFront(prevKey)
}

// Randomizer wraps another Stack and shuffles each key's queue with a
// deterministic, seeded source before every pop, so which physical extents
// end up adjacent in a stripe is randomized without affecting key ordering
// or counts.
type Randomizer struct {
	inner Stack
	order *ordered // only set if inner exposes its queues; nil otherwise disables shuffling
	rng   *rand.Rand
}

// NewRandomizer wraps inner. seed makes the shuffle order reproducible.
func NewRandomizer(inner Stack, seed int64) *Randomizer {
	r := &Randomizer{inner: inner, rng: rand.New(rand.NewSource(seed))}
	switch v := inner.(type) {
	case *Single:
		r.order = &v.ordered
	case *Multi:
		r.order = &v.ordered
	case *BestEffort:
		r.order = &v.ordered
	}
	return r
}

func (r *Randomizer) shuffle() {
	if r.order == nil {
		return
	}
	for _, q := range r.order.queues {
		r.rng.Shuffle(len(q), func(i, j int) { q[i], q[j] = q[j], q[i] })
	}
}

func (r *Randomizer) AddExtent(key int, ext id.ExtentID) { r.inner.AddExtent(key, ext) }
func (r *Randomizer) NumStripes(stripeSize int) int      { return r.inner.NumStripes(stripeSize) }
func (r *Randomizer) Len() int                           { return r.inner.Len() }
func (r *Randomizer) LenAtKey(key int) int                { return r.inner.LenAtKey(key) }
func (r *Randomizer) Contains(ext id.ExtentID) bool       { return r.inner.Contains(ext) }
func (r *Randomizer) Remove(ext id.ExtentID)              { r.inner.Remove(ext) }

func (r *Randomizer) PopStripeExts(stripeSize int) []id.ExtentID {
	r.shuffle()
	return r.inner.PopStripeExts(stripeSize)
}

func (r *Randomizer) PopAtKey(key int) (id.ExtentID, bool) {
	r.shuffle()
	return r.inner.PopAtKey(key)
}

// GetAtClosestKey forwards to the wrapped stack's nearest-key lookup, if it
// has one, after shuffling each key's queue as every other pop does. Only
// meaningful when inner is (or wraps) a BestEffort stack.
func (r *Randomizer) GetAtClosestKey(key int) (id.ExtentID, bool) {
	closest, ok := r.inner.(interface {
		GetAtClosestKey(int) (id.ExtentID, bool)
	})
	if !ok {
		return 0, false
	}
	r.shuffle()
	return closest.GetAtClosestKey(key)
}

// bundle is a group of extents belonging to the same object, kept together
// so WholeObject places an object's extents in one stripe where it can. A
// bundle is split only when it is the largest one and exceeds the stripe
// size, or when PopAtKey takes a single extent out of it.
type bundle struct {
	exts []id.ExtentID
}

// WholeObject pools extents in object-sized bundles keyed by bundle length,
// preferring to place whole bundles into a stripe. Only the largest bundle,
// when it exceeds the stripe size, is sliced; the bundles that fill the
// remaining slots are taken whole, so a stripe can receive more extents
// than it asked for.
type WholeObject struct {
	bundles map[int][]*bundle
	keys    []int
}

func NewWholeObject() *WholeObject {
	return &WholeObject{bundles: make(map[int][]*bundle)}
}

// AddBundle pools a whole object's extents together, keyed by count.
func (w *WholeObject) AddBundle(exts []id.ExtentID) {
	if len(exts) == 0 {
		return
	}
	key := len(exts)
	if _, ok := w.bundles[key]; !ok {
		i := sort.SearchInts(w.keys, key)
		w.keys = append(w.keys, 0)
		copy(w.keys[i+1:], w.keys[i:])
		w.keys[i] = key
	}
	w.bundles[key] = append(w.bundles[key], &bundle{exts: append([]id.ExtentID(nil), exts...)})
}

// AddExtent satisfies Stack by wrapping a lone extent as a size-1 bundle.
func (w *WholeObject) AddExtent(_ int, ext id.ExtentID) {
	w.AddBundle([]id.ExtentID{ext})
}

func (w *WholeObject) dropKeyIfEmpty(key int) {
	if len(w.bundles[key]) > 0 {
		return
	}
	delete(w.bundles, key)
	i := sort.SearchInts(w.keys, key)
	if i < len(w.keys) && w.keys[i] == key {
		w.keys = append(w.keys[:i], w.keys[i+1:]...)
	}
}

func (w *WholeObject) Len() int {
	n := 0
	for _, bs := range w.bundles {
		for _, b := range bs {
			n += len(b.exts)
		}
	}
	return n
}

func (w *WholeObject) LenAtKey(int) int { return w.Len() }

// PopAtKey takes a single extent out of the smallest available bundle,
// re-pooling whatever remains of it. Key is ignored: whole-object pooling
// has no notion of an exact-match key, only bundle size.
func (w *WholeObject) PopAtKey(int) (id.ExtentID, bool) {
	if len(w.keys) == 0 {
		return 0, false
	}
	key := w.keys[0]
	bs := w.bundles[key]
	b := bs[0]
	w.bundles[key] = bs[1:]
	w.dropKeyIfEmpty(key)

	ext := b.exts[0]
	if len(b.exts) > 1 {
		w.AddBundle(b.exts[1:])
	}
	return ext, true
}

func (w *WholeObject) NumStripes(stripeSize int) int {
	if stripeSize <= 0 {
		return 0
	}
	return w.Len() / stripeSize
}

func (w *WholeObject) Contains(ext id.ExtentID) bool {
	for _, bs := range w.bundles {
		for _, b := range bs {
			for _, e := range b.exts {
				if e == ext {
					return true
				}
			}
		}
	}
	return false
}

func (w *WholeObject) Remove(ext id.ExtentID) {
	for key, bs := range w.bundles {
		var kept []*bundle
		for _, b := range bs {
			filtered := b.exts[:0]
			for _, e := range b.exts {
				if e != ext {
					filtered = append(filtered, e)
				}
			}
			b.exts = filtered
			if len(b.exts) > 0 {
				kept = append(kept, b)
			}
		}
		w.bundles[key] = kept
		w.dropKeyIfEmpty(key)
	}
}

// popLargestBundle removes and returns the largest remaining bundle.
func (w *WholeObject) popLargestBundle() *bundle {
	if len(w.keys) == 0 {
		return nil
	}
	largest := w.keys[len(w.keys)-1]
	bs := w.bundles[largest]
	b := bs[0]
	w.bundles[largest] = bs[1:]
	w.dropKeyIfEmpty(largest)
	return b
}

// fillGap tops up a stripe by taking, each round, the largest remaining
// bundle no larger than the gap, or the smallest remaining bundle when none
// fits. Each chosen bundle is taken whole, so the last one pulled can
// overshoot the gap rather than being split to fit it exactly.
func (w *WholeObject) fillGap(numNeeded int) []id.ExtentID {
	var ret []id.ExtentID
	for numNeeded > 0 && len(w.keys) > 0 {
		i := sort.SearchInts(w.keys, numNeeded+1) - 1
		if i < 0 {
			i = 0
		}
		key := w.keys[i]
		bs := w.bundles[key]
		b := bs[0]
		w.bundles[key] = bs[1:]
		w.dropKeyIfEmpty(key)

		ret = append(ret, b.exts...)
		numNeeded -= len(b.exts)
	}
	return ret
}

// PopStripeExts assembles a stripe preferring the largest available bundle,
// then fills any remaining slots from smaller bundles. The leftover tail of
// the largest bundle, if any, is re-pooled rather than discarded.
func (w *WholeObject) PopStripeExts(stripeSize int) []id.ExtentID {
	if w.Len() < stripeSize {
		return nil
	}

	b := w.popLargestBundle()
	if b == nil {
		return nil
	}

	take := len(b.exts)
	if take > stripeSize {
		take = stripeSize
	}
	ret := append([]id.ExtentID(nil), b.exts[:take]...)
	if take < len(b.exts) {
		w.AddBundle(b.exts[take:])
	}

	if remaining := stripeSize - len(ret); remaining > 0 {
		ret = append(ret, w.fillGap(remaining)...)
	}

	return ret
}
