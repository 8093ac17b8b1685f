package chmembership

import "github.com/prometheus/client_golang/prometheus"

var (
	rebuildsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chmembership",
		Name:      "rebuilds_total",
		Help:      "Rings published after a roster change.",
	}, []string{"group"})

	rebuildErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chmembership",
		Name:      "rebuild_errors_total",
		Help:      "Roster reads that failed and were retried.",
	}, []string{"group"})

	skippedMembersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chmembership",
		Name:      "skipped_members_total",
		Help:      "Members left out of a rebuild because their payload did not decode.",
	}, []string{"group"})

	ringSlots = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chmembership",
		Name:      "ring_slots",
		Help:      "Occupied partition slots of the current ring.",
	}, []string{"group"})
)

func init() {
	prometheus.MustRegister(rebuildsTotal, rebuildErrorsTotal, skippedMembersTotal, ringSlots)
}
