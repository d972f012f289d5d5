package events_test

import (
	"testing"

	"github.com/chainmesh/gossipsim/foundation/events"
	"github.com/chainmesh/gossipsim/foundation/gossip/sim"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func Test_Events(t *testing.T) {
	evts := events.New()
	defer evts.Shutdown()

	ch1 := evts.Acquire("client-1")
	ch2 := evts.Acquire("client-2")

	if again := evts.Acquire("client-1"); again != ch1 {
		t.Fatalf("\t%s\tShould return the same channel for the same id.", failed)
	}
	t.Logf("\t%s\tShould return the same channel for the same id.", success)

	evt := sim.Event{Kind: sim.EventBlockReached, Tick: 7, PeerID: "peer-001", BlockID: "blk"}
	evts.Send(evt)

	for _, ch := range []chan sim.Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Kind != evt.Kind || got.Tick != evt.Tick || got.BlockID != evt.BlockID {
				t.Logf("\t\tgot: %+v", got)
				t.Logf("\t\texp: %+v", evt)
				t.Fatalf("\t%s\tShould deliver the event unchanged.", failed)
			}
		default:
			t.Fatalf("\t%s\tShould deliver the event to every registered channel.", failed)
		}
	}
	t.Logf("\t%s\tShould deliver the event to every registered channel.", success)

	if err := evts.Release("client-2"); err != nil {
		t.Fatalf("\t%s\tShould be able to release a registered id: %v", failed, err)
	}
	if err := evts.Release("client-2"); err == nil {
		t.Fatalf("\t%s\tShould refuse to release an unknown id.", failed)
	}
	t.Logf("\t%s\tShould release a registered id exactly once.", success)

	evts.Send(evt)
	select {
	case got := <-ch1:
		_ = got
	default:
		t.Fatalf("\t%s\tShould keep delivering to remaining channels.", failed)
	}
	t.Logf("\t%s\tShould keep delivering to remaining channels.", success)
}
