// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package stripe implements the erasure-coded grouping of data extents into
// locality-partitioned stripes, and the factory/roster that allocates and
// retires them.
package stripe

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/asch/ssdsim/internal/sim/extent"
	"github.com/asch/ssdsim/internal/sim/id"
)

// Stripe groups NumDataExtsPerLocality x NumLocalities data extents,
// protected by one local parity per locality and NumGlobalParities global
// parities. Invariant: once sealed it holds exactly
// NumDataExtsPerLocality*NumLocalities data extents until GCed.
type Stripe struct {
	ID                     id.StripeID
	NumDataExtsPerLocality int
	NumLocalities          int
	NumLocalParities       int
	NumGlobalParities      int
	ExtSize                int64

	Obsolete  int64
	FreeSlots int
	Timestamp float64

	// Localities[i] holds the data extent ids assigned to locality i.
	Localities [][]id.ExtentID
}

func (s *Stripe) numDataSlots() int {
	return s.NumDataExtsPerLocality * s.NumLocalities
}

// ObsoletePercentage returns the obsolete fraction of the stripe's data
// capacity as a percentage in [0, 100].
func (s *Stripe) ObsoletePercentage() float64 {
	total := int64(s.numDataSlots()) * s.ExtSize
	if total == 0 {
		return 0
	}
	return float64(s.Obsolete) / float64(total) * 100
}

// AddExtent assigns ext to the first locality with room, round-robin filling
// each locality to NumDataExtsPerLocality before moving to the next.
func (s *Stripe) AddExtent(ext *extent.Extent) error {
	if s.FreeSlots <= 0 {
		return fmt.Errorf("stripe %d: attempt to add extent to a full stripe", s.ID)
	}

	locality := 0
	for len(s.Localities[locality]) == s.NumDataExtsPerLocality {
		locality++
	}

	s.Localities[locality] = append(s.Localities[locality], ext.ID)
	ext.Locality = locality
	ext.Stripe = s.ID
	s.FreeSlots--

	if ext.Timestamp > s.Timestamp {
		s.Timestamp = ext.Timestamp
	}

	return nil
}

// DelExtent removes ext from its locality slot, rolling its obsolete bytes
// out of the stripe total and unlinking the back-reference. It does not touch
// the extent's resident objects; the caller decides whether those are
// reclaimed or re-pooled.
func (s *Stripe) DelExtent(ext *extent.Extent) {
	locality := ext.Locality
	kept := s.Localities[locality][:0]
	for _, e := range s.Localities[locality] {
		if e != ext.ID {
			kept = append(kept, e)
		}
	}
	s.Localities[locality] = kept

	s.Obsolete -= ext.Obsolete
	ext.Stripe = id.NoStripe
	s.FreeSlots++
}

// Extents returns every data extent id currently in the stripe, in locality
// order.
func (s *Stripe) Extents() []id.ExtentID {
	var all []id.ExtentID
	for _, l := range s.Localities {
		all = append(all, l...)
	}
	return all
}

// Manager is the stateless factory plus roster of allocated stripes.
type Manager struct {
	NumDataExtsPerLocality int
	NumLocalParities       int
	NumGlobalParities      int
	NumLocalities          int
	CodingOverhead         float64

	NumExtsPerStripe     int
	NumDataExtsPerStripe int

	generator id.Generator
	stripes   map[id.StripeID]*Stripe
}

// NewManager validates the geometry and returns a stripe manager. An
// inconsistent geometry (fewer than one data extent overall) is a
// configuration error surfaced at construction.
func NewManager(numDataExtsPerLocality, numLocalParities, numGlobalParities, numLocalities int, codingOverhead float64) (*Manager, error) {
	if numDataExtsPerLocality*numLocalities < 1 {
		return nil, errors.Errorf("stripe geometry invalid: %d data extents per locality x %d localities < 1", numDataExtsPerLocality, numLocalities)
	}

	return &Manager{
		NumDataExtsPerLocality: numDataExtsPerLocality,
		NumLocalParities:       numLocalParities,
		NumGlobalParities:      numGlobalParities,
		NumLocalities:          numLocalities,
		CodingOverhead:         codingOverhead,
		NumExtsPerStripe:       numDataExtsPerLocality*numLocalities + numLocalParities + numGlobalParities,
		NumDataExtsPerStripe:   numDataExtsPerLocality * numLocalities,
		stripes:                make(map[id.StripeID]*Stripe),
	}, nil
}

// CreateNewStripe allocates a stripe with the manager's configured geometry,
// sized to extSize, and adds it to the roster.
func (m *Manager) CreateNewStripe(extSize int64) *Stripe {
	localities := make([][]id.ExtentID, m.NumLocalities)
	for i := range localities {
		localities[i] = make([]id.ExtentID, 0, m.NumDataExtsPerLocality)
	}

	s := &Stripe{
		ID:                     id.StripeID(m.generator.Next()),
		NumDataExtsPerLocality: m.NumDataExtsPerLocality,
		NumLocalities:          m.NumLocalities,
		NumLocalParities:       m.NumLocalParities,
		NumGlobalParities:      m.NumGlobalParities,
		ExtSize:                extSize,
		FreeSlots:              m.NumDataExtsPerStripe,
		Localities:             localities,
	}
	m.stripes[s.ID] = s
	return s
}

// DeleteStripe is the sole legitimate way to retire a stripe.
func (m *Manager) DeleteStripe(sid id.StripeID) {
	delete(m.stripes, sid)
}

// Get looks up a stripe by id.
func (m *Manager) Get(sid id.StripeID) (*Stripe, bool) {
	s, ok := m.stripes[sid]
	return s, ok
}

// All returns every stripe currently on the roster.
func (m *Manager) All() map[id.StripeID]*Stripe {
	return m.stripes
}

// Count returns the number of stripes on the roster.
func (m *Manager) Count() int {
	return len(m.stripes)
}

// IDs returns every roster id in ascending order, giving callers (e.g. GC
// candidate selection) a deterministic view over the otherwise
// unordered-iteration stripes map.
func (m *Manager) IDs() []id.StripeID {
	ids := maps.Keys(m.stripes)
	slices.Sort(ids)
	return ids
}

// DataDCSize returns the data (non-overhead) capacity, in bytes, of every
// stripe on the roster: extent size times data extents per stripe, obsolete
// and free bytes included.
func (m *Manager) DataDCSize() int64 {
	var size int64
	for _, s := range m.stripes {
		size += s.ExtSize * int64(m.NumDataExtsPerStripe)
	}
	return size
}

// TotalDCSize returns DataDCSize scaled by the coding overhead, i.e. the
// bytes actually resident on storage including erasure-coding redundancy.
func (m *Manager) TotalDCSize() float64 {
	return float64(m.DataDCSize()) * m.CodingOverhead
}
