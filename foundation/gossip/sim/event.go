package sim

import "github.com/chainmesh/gossipsim/foundation/gossip/identity"

// EventKind tags the simulation events handed to the external consumer.
type EventKind string

// Set of event kinds emitted by the simulation.
const (
	EventBlockReached        EventKind = "block-reached"
	EventBlockTrusted        EventKind = "block-trusted"
	EventForkWarning         EventKind = "fork-warning"
	EventIdentityBlacklisted EventKind = "identity-blacklisted"
)

// Event represents one simulation occurrence. Only the fields relevant to
// the kind are set.
type Event struct {
	Kind       EventKind `json:"kind"`
	Tick       int       `json:"tick"`
	PeerID     string    `json:"peer_id,omitempty"`
	ChainID    string    `json:"chain_id,omitempty"`
	BlockID    string    `json:"block_id,omitempty"`
	BlockIDs   []string  `json:"block_ids,omitempty"`
	IdentityID string    `json:"identity_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// EventSink defines a function that receives simulation events as they are
// produced. The sink is called from the scheduler goroutine and must not
// block.
type EventSink func(Event)

// =============================================================================

// eventBridge adapts the peer layer's event interface onto the simulation:
// it stamps the current tick, feeds the statistics collector, records chain
// membership, and forwards to the external sink.
type eventBridge struct {
	sim *Simulation
}

// BlockReached implements the peer.Events interface.
func (eb eventBridge) BlockReached(peerID string, chainID string, blockID string) {
	s := eb.sim

	if c, exists := s.chains[chainID]; exists {
		c.AddBlock(blockID)
	}

	s.stats.BlocksAccepted.Inc(1)
	if origin, exists := s.origins[blockID]; exists {
		s.stats.PropagationTicks.Update(int64(s.tick - origin))
	}

	eb.send(Event{
		Kind:    EventBlockReached,
		PeerID:  peerID,
		ChainID: chainID,
		BlockID: blockID,
	})
}

// BlockTrusted implements the peer.Events interface.
func (eb eventBridge) BlockTrusted(peerID string, blockID string) {
	eb.sim.stats.BlocksTrusted.Inc(1)

	eb.send(Event{
		Kind:    EventBlockTrusted,
		PeerID:  peerID,
		BlockID: blockID,
	})
}

// BlockRejected implements the peer.Events interface. Rejections feed the
// statistics only; they are not part of the outbound event surface.
func (eb eventBridge) BlockRejected(peerID string, blockID string, reason string) {
	eb.sim.stats.BlocksRejected.Inc(1)
}

// ForkWarning implements the peer.Events interface.
func (eb eventBridge) ForkWarning(chainID string, blockIDs []string) {
	eb.sim.stats.ForkWarnings.Inc(1)

	eb.send(Event{
		Kind:     EventForkWarning,
		ChainID:  chainID,
		BlockIDs: blockIDs,
	})
}

// IdentityBlacklisted implements the peer.Events interface.
func (eb eventBridge) IdentityBlacklisted(identityID identity.ID, peerID string, reason string) {
	eb.sim.stats.Blacklistings.Inc(1)

	eb.send(Event{
		Kind:       EventIdentityBlacklisted,
		PeerID:     peerID,
		IdentityID: string(identityID),
		Reason:     reason,
	})
}

// send stamps the tick and forwards to the external sink when one is set.
func (eb eventBridge) send(evt Event) {
	evt.Tick = eb.sim.tick
	if eb.sim.sink != nil {
		eb.sim.sink(evt)
	}
}
