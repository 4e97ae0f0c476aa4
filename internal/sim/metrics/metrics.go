// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package metrics collects the simulation's running counters as Prometheus
// instruments and renders a human-readable summary at the end of a run. The
// simulator has no wire-facing endpoint to scrape; the registry exists so
// the same counters could be exposed over one later without reworking the
// accounting call sites, and so its Gather() output can be asserted on in
// tests.
package metrics

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds every counter and gauge the simulation updates over a run.
type Metrics struct {
	Registry *prometheus.Registry

	ObjectsCreated  prometheus.Counter
	StripesSealed   prometheus.Counter
	GCCycles        prometheus.Counter
	ExtentsGCed     prometheus.Counter
	ReclaimedBytes  prometheus.Counter
	UserReads       prometheus.Counter
	UserWrites      prometheus.Counter
	GlobalParityIO  prometheus.Counter
	LocalParityIO   prometheus.Counter
	AbsentDataReads prometheus.Counter
	LiveBytes       prometheus.Gauge
}

// New returns a fresh, registered set of counters.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	newCounter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ssdsim",
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(c)
		return c
	}

	liveBytes := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ssdsim",
		Name:      "live_bytes",
		Help:      "Data (non-parity) capacity of every stripe on the roster, obsolete and free bytes included.",
	})
	reg.MustRegister(liveBytes)

	return &Metrics{
		Registry:        reg,
		ObjectsCreated:  newCounter("objects_created_total", "Objects created over the run."),
		StripesSealed:   newCounter("stripes_sealed_total", "Stripes sealed by any striper."),
		GCCycles:        newCounter("gc_cycles_total", "Stripe-level GC passes run."),
		ExtentsGCed:     newCounter("extents_gced_total", "Extents reclaimed by GC."),
		ReclaimedBytes:  newCounter("reclaimed_bytes_total", "Obsolete bytes reclaimed by GC."),
		UserReads:       newCounter("user_reads_bytes_total", "Bytes read to satisfy striping/GC."),
		UserWrites:      newCounter("user_writes_bytes_total", "Bytes written to satisfy striping/GC."),
		GlobalParityIO:  newCounter("global_parity_io_bytes_total", "Bytes read or written for global parity."),
		LocalParityIO:   newCounter("local_parity_io_bytes_total", "Bytes read or written for local parity."),
		AbsentDataReads: newCounter("absent_data_read_bytes_total", "Bytes read from extents not being GCed, under the efficient EC replacement model."),
		LiveBytes:       liveBytes,
	}
}

// counterValue reads the current value out of a prometheus.Counter, used
// only for rendering the end-of-run textual summary.
func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	_ = c.Write(&m)
	return m.GetCounter().GetValue()
}

// Summary renders every counter as a human-scaled byte count or plain
// integer, one line each, suitable for printing at the end of a run.
func (m *Metrics) Summary() string {
	var b strings.Builder

	line := func(label string, value float64, bytes bool) {
		if bytes {
			fmt.Fprintf(&b, "%-28s %s\n", label+":", humanize.Bytes(uint64(value)))
		} else {
			fmt.Fprintf(&b, "%-28s %s\n", label+":", humanize.Comma(int64(value)))
		}
	}

	line("objects created", counterValue(m.ObjectsCreated), false)
	line("stripes sealed", counterValue(m.StripesSealed), false)
	line("gc cycles", counterValue(m.GCCycles), false)
	line("extents gced", counterValue(m.ExtentsGCed), false)
	line("reclaimed", counterValue(m.ReclaimedBytes), true)
	line("user reads", counterValue(m.UserReads), true)
	line("user writes", counterValue(m.UserWrites), true)
	line("global parity i/o", counterValue(m.GlobalParityIO), true)
	line("local parity i/o", counterValue(m.LocalParityIO), true)
	line("absent data reads", counterValue(m.AbsentDataReads), true)

	return b.String()
}
