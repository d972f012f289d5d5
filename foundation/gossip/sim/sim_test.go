package sim_test

import (
	"testing"
	"time"

	"github.com/chainmesh/gossipsim/foundation/gossip/identity"
	"github.com/chainmesh/gossipsim/foundation/gossip/sim"
	"github.com/chainmesh/gossipsim/foundation/validate"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// newTestSim constructs a small, stable simulation: enough minimum
// connections to mesh the population fully and no link failures, so every
// flood reaches every peer within the maximum link latency.
func newTestSim(t *testing.T, peers int, users int, events *[]sim.Event) *sim.Simulation {
	t.Helper()

	cfg := sim.Config{
		PeerCount:             peers,
		UserCount:             users,
		MaxConnectionsPerPeer: peers - 1,
		ConnectionFailureRate: 0,
		PaymentRate:           0,
		TickInterval:          time.Second,
		BaseTicks:             2,
		Seed:                  1,
	}

	sink := func(evt sim.Event) {
		if events != nil {
			*events = append(*events, evt)
		}
	}

	s, err := sim.New(cfg, sink, nil)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the simulation: %v", failed, err)
	}
	t.Logf("\t%s\tShould be able to construct the simulation.", success)

	return s
}

// =============================================================================

func Test_GenesisPropagation(t *testing.T) {
	var events []sim.Event
	s := newTestSim(t, 6, 3, &events)

	// Each user starts with one chain of two blocks. Link latency is at
	// most five ticks, so a direct mesh delivers everything well within
	// twelve steps.
	for i := 0; i < 12; i++ {
		s.Step()
	}

	exp := 2 * 3
	for _, info := range s.Peers() {
		if info.Blocks != exp {
			t.Logf("\t\tpeer %s got: %d", info.ID, info.Blocks)
			t.Logf("\t\tpeer %s exp: %d", info.ID, exp)
			t.Fatalf("\t%s\tShould flood every genesis block to every peer.", failed)
		}
		if info.Inflight != 0 {
			t.Fatalf("\t%s\tShould drain every in-flight message.", failed)
		}
	}
	t.Logf("\t%s\tShould flood every genesis block to every peer.", success)

	chains := s.Chains()
	if len(chains) != 3 {
		t.Logf("\t\tgot: %d", len(chains))
		t.Logf("\t\texp: %d", 3)
		t.Fatalf("\t%s\tShould have one chain per user.", failed)
	}
	for _, c := range chains {
		if c.Blocks != 2 {
			t.Logf("\t\tchain %s got: %d", c.Name, c.Blocks)
			t.Fatalf("\t%s\tShould record both genesis blocks as chain members.", failed)
		}
	}
	t.Logf("\t%s\tShould record both genesis blocks as chain members.", success)

	// Every user owns exactly the chain created for them.
	for _, id := range s.Identities() {
		if owned := s.OwnedBy(identity.ID(id)); len(owned) != 1 {
			t.Logf("\t\tidentity %s got: %v", id, owned)
			t.Fatalf("\t%s\tShould assign each user their starting chain.", failed)
		}
	}
	t.Logf("\t%s\tShould assign each user their starting chain.", success)

	var reached int
	for _, evt := range events {
		if evt.Kind == sim.EventBlockReached {
			reached++
		}
	}
	if reached != 6*exp {
		t.Logf("\t\tgot: %d", reached)
		t.Logf("\t\texp: %d", 6*exp)
		t.Fatalf("\t%s\tShould emit one reach event per peer per block.", failed)
	}
	t.Logf("\t%s\tShould emit one reach event per peer per block.", success)
}

func Test_TransferHandoff(t *testing.T) {
	s := newTestSim(t, 6, 2, nil)

	for i := 0; i < 12; i++ {
		s.Step()
	}

	ids := s.Identities()
	owner := identity.ID(ids[0])
	target := identity.ID(ids[1])

	owned := s.OwnedBy(owner)
	if len(owned) != 1 {
		t.Fatalf("\t%s\tShould start with one chain per user.", failed)
	}
	chainID := owned[0]

	if err := s.SubmitTransfer(owner, chainID, target); err != nil {
		t.Fatalf("\t%s\tShould be able to submit a transfer: %v", failed, err)
	}
	t.Logf("\t%s\tShould be able to submit a transfer.", success)

	for i := 0; i < 12; i++ {
		s.Step()
	}

	if s.OwnedBy(owner) != nil && len(s.OwnedBy(owner)) != 0 {
		t.Logf("\t\tgot: %v", s.OwnedBy(owner))
		t.Fatalf("\t%s\tShould remove the chain from the previous owner.", failed)
	}
	targetOwned := s.OwnedBy(target)
	found := false
	for _, id := range targetOwned {
		if id == chainID {
			found = true
		}
	}
	if !found {
		t.Logf("\t\tgot: %v", targetOwned)
		t.Logf("\t\texp: %s", chainID)
		t.Fatalf("\t%s\tShould hand the chain to the target identity.", failed)
	}
	t.Logf("\t%s\tShould hand the chain to the target identity.", success)

	// The previous owner no longer holds the chain, so a second transfer
	// of the same chain is refused.
	if err := s.SubmitTransfer(owner, chainID, target); err == nil {
		t.Fatalf("\t%s\tShould refuse a transfer from a non-owner.", failed)
	}
	t.Logf("\t%s\tShould refuse a transfer from a non-owner.", success)

	if err := s.SubmitTransfer("0xdeadbeef", chainID, target); err == nil {
		t.Fatalf("\t%s\tShould refuse a transfer from an unknown identity.", failed)
	}
	t.Logf("\t%s\tShould refuse a transfer from an unknown identity.", success)
}

func Test_ConfigValidation(t *testing.T) {
	cfg := sim.Config{
		PeerCount:             1,
		UserCount:             0,
		MaxConnectionsPerPeer: 0,
		TickInterval:          0,
		BaseTicks:             0,
	}

	_, err := sim.New(cfg, nil, nil)
	if err == nil {
		t.Fatalf("\t%s\tShould reject an invalid configuration.", failed)
	}
	if !validate.IsFieldErrors(err) {
		t.Logf("\t\tgot: %v", err)
		t.Fatalf("\t%s\tShould report field level validation errors.", failed)
	}
	t.Logf("\t%s\tShould reject an invalid configuration with field errors.", success)
}

func Test_ClockControl(t *testing.T) {
	s := newTestSim(t, 4, 1, nil)

	s.Start()
	s.Pause()

	tickAtPause := s.Tick()
	time.Sleep(5 * time.Millisecond)
	if s.Tick() != tickAtPause {
		t.Fatalf("\t%s\tShould not advance the clock while paused.", failed)
	}
	t.Logf("\t%s\tShould not advance the clock while paused.", success)

	s.Resume()
	s.Stop()

	// Stop is idempotent.
	s.Stop()
	t.Logf("\t%s\tShould stop the clock cleanly.", success)
}
