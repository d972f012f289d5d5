// Package block implements the chained data unit of the ledger. A chain
// starts with a root block whose id is the hash of its content, followed by
// linked blocks whose ids are signatures produced over their content hash.
package block

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chainmesh/gossipsim/foundation/gossip/identity"
)

// Positions of the fields inside a linked block's content. Root blocks use
// a shorter layout of [definition hash, serial, first owner], which keeps
// the owner readable at the same position on both layouts.
const (
	FieldIndex   = 0
	FieldTick    = 1
	FieldOwner   = 2
	FieldPayload = 3
	FieldPrev    = 4
)

// delimiter separates the positional fields inside a block's content.
const delimiter = "\n"

// ErrMissingSigner is returned when sealing a draft without a signer.
var ErrMissingSigner = errors.New("missing signer")

// =============================================================================

// Block represents one immutable step in a chain. The content is the
// canonical delimiter-joined encoding of the block's fields and the id is
// either the content hash (root) or a signature over the content hash.
type Block struct {
	Index   int
	Content string
	ID      string
}

// NewRoot constructs the zero-index block that defines a chain. The serial
// keeps two chains with the same definition from colliding. There is no
// signature; the id is the content hash and doubles as the chain id.
func NewRoot(definition string, serial string, firstOwner identity.ID) Block {
	content := strings.Join([]string{
		identity.Hash([]byte(definition)),
		serial,
		string(firstOwner),
	}, delimiter)

	return Block{
		Index:   0,
		Content: content,
		ID:      identity.Hash([]byte(content)),
	}
}

// FromWire rebuilds a block from the content and id carried inside a gossip
// message. The index is read back out of the content; a non-numeric index
// position marks the root layout.
func FromWire(content string, id string) Block {
	b := Block{
		Content: content,
		ID:      id,
	}

	if index, err := strconv.Atoi(b.Fields(FieldIndex)[0]); err == nil {
		b.Index = index
	}

	return b
}

// IsRoot reports whether this block uses the root layout. The root sentinel
// is a non-numeric index position.
func (b Block) IsRoot() bool {
	_, err := strconv.Atoi(b.Fields(FieldIndex)[0])
	return err != nil
}

// Fields splits the content on the delimiter and returns the requested
// positional fields. Requesting a position past the end of the content
// yields an empty string for that position.
func (b Block) Fields(positions ...int) []string {
	parts := strings.Split(b.Content, delimiter)

	fields := make([]string, len(positions))
	for i, pos := range positions {
		if pos < 0 || pos >= len(parts) {
			continue
		}
		fields[i] = parts[pos]
	}

	return fields
}

// OwnerID returns the identity holding the asset once this block is
// applied. On the root layout the same position names the first owner.
func (b Block) OwnerID() identity.ID {
	return identity.ID(b.Fields(FieldOwner)[0])
}

// PrevID returns the id of the predecessor block. Empty for the root.
func (b Block) PrevID() string {
	if b.IsRoot() {
		return ""
	}
	return b.Fields(FieldPrev)[0]
}

// Tick returns the simulation tick recorded at creation time.
func (b Block) Tick() int {
	tick, _ := strconv.Atoi(b.Fields(FieldTick)[0])
	return tick
}

// Payload returns the free-form payload field.
func (b Block) Payload() string {
	return b.Fields(FieldPayload)[0]
}

// CheckRootIntegrity recomputes the content hash and compares it to the id.
// Only meaningful for zero-index blocks.
func (b Block) CheckRootIntegrity() bool {
	return identity.Hash([]byte(b.Content)) == b.ID
}

// CheckFollowsFrom reports whether the id is a signature over the content
// hash produced by the specified signer. This is the per-link authenticity
// check: the signer must be the chain's current owner.
func (b Block) CheckFollowsFrom(signerID identity.ID) bool {
	return identity.Verify(signerID, b.ID, identity.HashBytes([]byte(b.Content)))
}

// =============================================================================

// Lookup represents the behavior required to resolve a block id inside one
// peer's local store.
type Lookup func(id string) (Block, bool)

// ChainToRoot follows the predecessor links through the specified store and
// returns the ordered id list from the root to this block. It exists for
// diagnostics; verification never walks more than one link.
func (b Block) ChainToRoot(lookup Lookup) ([]string, error) {
	ids := []string{b.ID}

	cur := b
	for !cur.IsRoot() {
		prev, exists := lookup(cur.PrevID())
		if !exists {
			return nil, fmt.Errorf("block %s not found", cur.PrevID())
		}

		ids = append(ids, prev.ID)
		cur = prev
	}

	// Reverse into root-first order.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}

	return ids, nil
}

// =============================================================================

// Draft represents the synchronous first phase of building a linked block:
// the fields are collected and the content encoded, but nothing has been
// hashed or signed yet.
type Draft struct {
	Index   int
	Content string
}

// NewDraft collects the fields for a linked block and encodes the content.
// Linked blocks start at index 1; index 0 is reserved for the root layout.
func NewDraft(index int, tick int, owner identity.ID, payload string, prevID string) (Draft, error) {
	if index < 1 {
		return Draft{}, fmt.Errorf("invalid index %d for a linked block", index)
	}
	if prevID == "" {
		return Draft{}, errors.New("missing predecessor id")
	}

	content := strings.Join([]string{
		strconv.Itoa(index),
		strconv.Itoa(tick),
		string(owner),
		payload,
		prevID,
	}, delimiter)

	return Draft{
		Index:   index,
		Content: content,
	}, nil
}

// Seal performs the hashing and signing phase and yields the immutable
// block. The signature over the content hash becomes the block id, so the
// signer's identity is baked into the id itself.
func (d Draft) Seal(signer *identity.Identity) (Block, error) {
	if signer == nil {
		return Block{}, ErrMissingSigner
	}

	id, err := signer.Sign(identity.HashBytes([]byte(d.Content)))
	if err != nil {
		return Block{}, fmt.Errorf("sealing block: %w", err)
	}

	return Block{
		Index:   d.Index,
		Content: d.Content,
		ID:      id,
	}, nil
}
