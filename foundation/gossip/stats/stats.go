// Package stats collects simulation statistics in a go-metrics registry so
// the outside consumer can observe propagation behavior without reaching
// into peer state.
package stats

import (
	"sync"

	mtr "github.com/rcrowley/go-metrics"
)

// sampleSize bounds the reservoir behind each histogram.
const sampleSize = 500

// Stats aggregates counters and histograms across the whole simulation.
type Stats struct {
	BlocksAccepted  mtr.Counter
	BlocksRejected  mtr.Counter
	BlocksTrusted   mtr.Counter
	ForkWarnings    mtr.Counter
	Blacklistings   mtr.Counter
	ConnectionsMade mtr.Counter
	ConnectionsLost mtr.Counter

	// PropagationTicks samples the tick distance between a block's creation
	// and each acceptance of it across the network.
	PropagationTicks mtr.Histogram

	mu       sync.Mutex
	registry mtr.Registry
}

// New constructs a stats collector with a fresh registry.
func New() *Stats {
	registry := mtr.NewPrefixedRegistry("gossipsim - ")

	return &Stats{
		BlocksAccepted:   mtr.GetOrRegisterCounter("blocks accepted", registry),
		BlocksRejected:   mtr.GetOrRegisterCounter("blocks rejected", registry),
		BlocksTrusted:    mtr.GetOrRegisterCounter("blocks trusted", registry),
		ForkWarnings:     mtr.GetOrRegisterCounter("fork warnings", registry),
		Blacklistings:    mtr.GetOrRegisterCounter("blacklistings", registry),
		ConnectionsMade:  mtr.GetOrRegisterCounter("connections made", registry),
		ConnectionsLost:  mtr.GetOrRegisterCounter("connections lost", registry),
		PropagationTicks: mtr.GetOrRegisterHistogram("propagation ticks", registry, mtr.NewUniformSample(sampleSize)),
		registry:         registry,
	}
}

// Snapshot represents a point-in-time copy of the collected statistics.
type Snapshot struct {
	BlocksAccepted  int64   `json:"blocks_accepted"`
	BlocksRejected  int64   `json:"blocks_rejected"`
	BlocksTrusted   int64   `json:"blocks_trusted"`
	ForkWarnings    int64   `json:"fork_warnings"`
	Blacklistings   int64   `json:"blacklistings"`
	ConnectionsMade int64   `json:"connections_made"`
	ConnectionsLost int64   `json:"connections_lost"`
	PropagationP50  float64 `json:"propagation_p50"`
	PropagationP95  float64 `json:"propagation_p95"`
	PropagationMax  int64   `json:"propagation_max"`
}

// Snapshot returns a copy of the current statistics.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := s.PropagationTicks.Snapshot()
	ps := hist.Percentiles([]float64{0.5, 0.95})

	return Snapshot{
		BlocksAccepted:  s.BlocksAccepted.Count(),
		BlocksRejected:  s.BlocksRejected.Count(),
		BlocksTrusted:   s.BlocksTrusted.Count(),
		ForkWarnings:    s.ForkWarnings.Count(),
		Blacklistings:   s.Blacklistings.Count(),
		ConnectionsMade: s.ConnectionsMade.Count(),
		ConnectionsLost: s.ConnectionsLost.Count(),
		PropagationP50:  ps[0],
		PropagationP95:  ps[1],
		PropagationMax:  hist.Max(),
	}
}
