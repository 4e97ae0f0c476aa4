// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package id provides the integer handle types used for every cross-entity
// back-reference in the simulator (object, extent and stripe identity) and
// synchronized counters for minting fresh ones.
//
// Entities are arena-allocated by their owning manager and addressed by these
// handles everywhere else, never by pointer, so an evicted entity can be
// dropped from its manager's arena without leaving a dangling reference
// anywhere in the object graph.
package id

import "sync"

// ObjectID identifies an Object in the object manager's arena.
type ObjectID int64

// ExtentID identifies an Extent in the extent manager's arena.
type ExtentID int64

// StripeID identifies a Stripe in the stripe manager's arena.
type StripeID int64

// NoExtent is the sentinel back-reference used for "no extent".
const NoExtent ExtentID = -1

// NoStripe is the sentinel back-reference used for "no stripe".
const NoStripe StripeID = -1

// Generator hands out monotonically increasing ids. Safe for concurrent use.
type Generator struct {
	mutex sync.Mutex
	next  int64
}

// Next returns the next unassigned value and advances the counter.
func (g *Generator) Next() int64 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	v := g.next
	g.next++

	return v
}

// Current returns the next unassigned value without advancing it.
func (g *Generator) Current() int64 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.next
}
