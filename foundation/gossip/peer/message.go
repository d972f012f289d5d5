package peer

import (
	"github.com/google/uuid"

	"github.com/chainmesh/gossipsim/foundation/gossip/block"
	"github.com/chainmesh/gossipsim/foundation/gossip/identity"
)

// MessageKind tags the variant carried by a gossip message.
type MessageKind int

// Set of message kinds carried over the simulated network.
const (
	KindNewBlock MessageKind = iota + 1
	KindForkWarning
	KindBlacklistUpdate
)

// String implements the fmt.Stringer interface.
func (mk MessageKind) String() string {
	switch mk {
	case KindNewBlock:
		return "new-block"
	case KindForkWarning:
		return "fork-warning"
	case KindBlacklistUpdate:
		return "blacklist-update"
	}
	return "unknown"
}

// =============================================================================

// NewBlock carries a freshly created block over the wire. Only the content
// and id travel; the receiving peer rebuilds the block and verifies it
// against its own local view.
type NewBlock struct {
	Content string
	BlockID string
}

// ForkWarning announces that conflicting successors to the same block have
// been observed for a chain.
type ForkWarning struct {
	ChainID  string
	BlockIDs []string
}

// BlacklistUpdate asks peers to refuse future blocks signed by the named
// identity.
type BlacklistUpdate struct {
	IdentityID identity.ID
	Reason     string
}

// =============================================================================

// Message is the envelope flooded across the network. The id is stable for
// the lifetime of the gossip item so every peer can dedupe in-flight copies.
// Exactly one of the payload fields is set, matching the kind.
type Message struct {
	ID   string
	Kind MessageKind

	NewBlock        *NewBlock
	ForkWarning     *ForkWarning
	BlacklistUpdate *BlacklistUpdate
}

// NewBlockMessage constructs the envelope for flooding a block.
func NewBlockMessage(blk block.Block) Message {
	return Message{
		ID:   uuid.NewString(),
		Kind: KindNewBlock,
		NewBlock: &NewBlock{
			Content: blk.Content,
			BlockID: blk.ID,
		},
	}
}

// ForkWarningMessage constructs the envelope announcing a detected fork.
func ForkWarningMessage(chainID string, blockIDs []string) Message {
	return Message{
		ID:   uuid.NewString(),
		Kind: KindForkWarning,
		ForkWarning: &ForkWarning{
			ChainID:  chainID,
			BlockIDs: blockIDs,
		},
	}
}

// BlacklistUpdateMessage constructs the envelope asking peers to blacklist
// an identity.
func BlacklistUpdateMessage(id identity.ID, reason string) Message {
	return Message{
		ID:   uuid.NewString(),
		Kind: KindBlacklistUpdate,
		BlacklistUpdate: &BlacklistUpdate{
			IdentityID: id,
			Reason:     reason,
		},
	}
}
