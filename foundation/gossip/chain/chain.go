// Package chain groups ledger blocks under a stable chain id and maintains
// the per-identity record of which chains each identity currently owns.
package chain

import (
	"errors"
	"sync"

	"github.com/chainmesh/gossipsim/foundation/gossip/block"
	"github.com/chainmesh/gossipsim/foundation/gossip/identity"
)

// ErrInvalidRoot is returned when constructing a chain from a block that is
// not a root block.
var ErrInvalidRoot = errors.New("invalid root")

// =============================================================================

// Chain represents one asset: a root block and the set of blocks descending
// from it. The chain id is the root block's id.
type Chain struct {
	ID   string
	Name string
	Root block.Block

	mu      sync.RWMutex
	members map[string]struct{}
}

// New constructs a chain from its root block. Only a zero-index block with
// no predecessor can define a chain.
func New(root block.Block) (*Chain, error) {
	if !root.IsRoot() || root.Index != 0 || root.PrevID() != "" {
		return nil, ErrInvalidRoot
	}

	c := Chain{
		ID:      root.ID,
		Root:    root,
		members: make(map[string]struct{}),
	}
	c.members[root.ID] = struct{}{}

	return &c, nil
}

// AddBlock records a block id as a member of this chain. Verification has
// already happened in the peer layer before membership is granted.
func (c *Chain) AddBlock(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.members[id] = struct{}{}
}

// HasBlock reports whether the block id is a recorded member.
func (c *Chain) HasBlock(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, exists := c.members[id]
	return exists
}

// Members returns a copy of the recorded block ids.
func (c *Chain) Members() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.members))
	for id := range c.members {
		ids = append(ids, id)
	}

	return ids
}

// FirstOwnerID returns the first holder named by the root block.
func (c *Chain) FirstOwnerID() identity.ID {
	return c.Root.OwnerID()
}

// =============================================================================

// Registry maintains, per identity, the set of chain ids it currently owns.
// Updates land the moment a peer hosting the new owner accepts a transfer
// block; the view is eventually consistent across the peer population, not
// atomic network wide.
type Registry struct {
	mu    sync.RWMutex
	owned map[identity.ID]map[string]struct{}
}

// NewRegistry constructs a registry for tracking chain ownership.
func NewRegistry() *Registry {
	return &Registry{
		owned: make(map[identity.ID]map[string]struct{}),
	}
}

// Transfer moves the chain from one identity's owned set to another's.
// Multiple peers hosting the same identity report the same acceptance, so
// the operation is idempotent.
func (r *Registry) Transfer(chainID string, fromID identity.ID, toID identity.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, exists := r.owned[fromID]; exists {
		delete(set, chainID)
	}
	r.add(toID, chainID)
}

// OwnedBy returns a copy of the chain ids owned by the specified identity.
func (r *Registry) OwnedBy(id identity.ID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, exists := r.owned[id]
	if !exists {
		return nil
	}

	chains := make([]string, 0, len(set))
	for chainID := range set {
		chains = append(chains, chainID)
	}

	return chains
}

// Owns reports whether the identity currently owns the specified chain.
func (r *Registry) Owns(id identity.ID, chainID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, exists := r.owned[id]
	if !exists {
		return false
	}

	_, exists = set[chainID]
	return exists
}

// add records ownership. The caller must hold the lock.
func (r *Registry) add(id identity.ID, chainID string) {
	set, exists := r.owned[id]
	if !exists {
		set = make(map[string]struct{})
		r.owned[id] = set
	}
	set[chainID] = struct{}{}
}
