package keeper

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the keeper binary's exported counters, per SPEC_FULL's
// domain stack: ballots tallied, consensus reached, lamports routed,
// epochs closed.
type Metrics struct {
	BallotsTallied   prometheus.Counter
	ConsensusReached prometheus.Counter
	LamportsRouted   prometheus.Counter
	EpochsClosed     prometheus.Counter
}

// NewMetrics builds and registers the keeper's metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BallotsTallied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tip_router_ballots_tallied_total",
			Help: "Number of votes cast across all ballot boxes.",
		}),
		ConsensusReached: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tip_router_consensus_reached_total",
			Help: "Number of epochs that reached ballot consensus.",
		}),
		LamportsRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tip_router_lamports_routed_total",
			Help: "Lamports moved through the base and NCN reward routers.",
		}),
		EpochsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tip_router_epochs_closed_total",
			Help: "Number of epochs whose EpochState account has closed.",
		}),
	}
	reg.MustRegister(m.BallotsTallied, m.ConsensusReached, m.LamportsRouted, m.EpochsClosed)
	return m
}
