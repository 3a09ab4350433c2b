package controller

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the controller's counters. Collectors are created per
// controller and registered on the injected registerer so tests can use a
// private registry.
type Metrics struct {
	OfflinePartitionRate   prometheus.Counter
	UncleanElectionRate    prometheus.Counter
	LeaderAndIsrRequests   *prometheus.CounterVec
	UpdateMetadataRequests *prometheus.CounterVec
	ControllerElections    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OfflinePartitionRate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "castellan",
			Name:      "offline_partition_rate",
			Help:      "Partitions whose first leader could not be set: no live assigned replica, or a leader node already present.",
		}),
		UncleanElectionRate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "castellan",
			Name:      "unclean_leader_election_rate",
			Help:      "Leader elections that fell back to a replica outside the ISR.",
		}),
		LeaderAndIsrRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "castellan",
			Name:      "leader_and_isr_requests_total",
			Help:      "LeaderAndIsr requests sent, by destination broker.",
		}, []string{"broker"}),
		UpdateMetadataRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "castellan",
			Name:      "update_metadata_requests_total",
			Help:      "UpdateMetadata requests sent, by destination broker.",
		}, []string{"broker"}),
		ControllerElections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "castellan",
			Name:      "controller_elections_total",
			Help:      "Times this process won the controller election.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.OfflinePartitionRate,
			m.UncleanElectionRate,
			m.LeaderAndIsrRequests,
			m.UpdateMetadataRequests,
			m.ControllerElections,
		)
	}
	return m
}
