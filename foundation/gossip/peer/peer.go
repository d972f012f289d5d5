// Package peer implements the network node of the simulation: a gossip
// participant holding its own view of the ledger and the verification state
// machine that accepts or rejects incoming blocks.
package peer

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/chainmesh/gossipsim/foundation/gossip/block"
	"github.com/chainmesh/gossipsim/foundation/gossip/identity"
)

// maxLinkLatency bounds the tick delay assigned to a fresh connection.
// Latencies are drawn uniformly from [1, maxLinkLatency].
const maxLinkLatency = 5

// dropFactor scales the per-tick probability of losing one connection:
// dropFactor * breakRate * current connection count.
const dropFactor = 0.002

// Set of errors returned from block verification. A rejection is handled
// locally; it only means the peer does not adopt or rebroadcast the block.
var (
	ErrPrevNotFound = errors.New("previous block not found")
	ErrVerifyFailed = errors.New("verify failed")
	ErrDoubleSpend  = errors.New("double spending")
	ErrBlacklisted  = errors.New("sender in blacklist")
)

// =============================================================================

// EventHandler defines a function that is called when trace events occur
// during peer processing.
type EventHandler func(v string, args ...any)

// Events represents the behavior required by a peer to surface simulation
// events to the external consumer.
type Events interface {
	BlockReached(peerID string, chainID string, blockID string)
	BlockTrusted(peerID string, blockID string)
	BlockRejected(peerID string, blockID string, reason string)
	ForkWarning(chainID string, blockIDs []string)
	IdentityBlacklisted(identityID identity.ID, peerID string, reason string)
}

// Tracker represents the behavior required by a peer to report a confirmed
// ownership change for a chain.
type Tracker interface {
	Transfer(chainID string, fromID identity.ID, toID identity.ID)
}

// =============================================================================

// Connection represents one side of a symmetric link to a neighbor.
type Connection struct {
	Peer    *Peer
	Latency int
}

// inflight represents a message scheduled for delivery to this peer. The
// seq preserves hand-off order so two messages due on the same tick deliver
// in the order they were scheduled.
type inflight struct {
	msg     Message
	fromID  string
	arrival int
	seq     int
}

// waitEntry schedules the trust confirmation of an accepted block.
type waitEntry struct {
	blockID  string
	maturity int
}

// Config holds the settings and collaborators required to construct a Peer.
type Config struct {
	ID        string
	Hosted    []identity.ID
	BaseTicks int
	BreakRate float64
	MinConns  int
	Rand      *rand.Rand
	EvHandler EventHandler
	Events    Events
	Tracker   Tracker
}

// Peer represents a node in the simulated network. All tables are owned
// exclusively by the scheduler goroutine driving the tick loop; cross peer
// effects happen only through AddMessage and paired connection mutation.
type Peer struct {
	ID string

	baseTicks int
	breakRate float64
	minConns  int
	rng       *rand.Rand
	evHandler EventHandler
	events    Events
	tracker   Tracker

	hosted      map[identity.ID]struct{}
	localBlocks map[string]block.Block
	successors  map[string]string
	connections map[string]Connection
	messages    map[string]inflight
	msgSeq      int
	waitList    []waitEntry
	trusted     map[string]struct{}
	blacklist   map[identity.ID]struct{}
}

// New constructs a peer with no connections.
func New(cfg Config) *Peer {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	p := Peer{
		ID:          cfg.ID,
		baseTicks:   cfg.BaseTicks,
		breakRate:   cfg.BreakRate,
		minConns:    cfg.MinConns,
		rng:         cfg.Rand,
		evHandler:   ev,
		events:      cfg.Events,
		tracker:     cfg.Tracker,
		hosted:      make(map[identity.ID]struct{}),
		localBlocks: make(map[string]block.Block),
		successors:  make(map[string]string),
		connections: make(map[string]Connection),
		messages:    make(map[string]inflight),
		trusted:     make(map[string]struct{}),
		blacklist:   make(map[identity.ID]struct{}),
	}

	for _, id := range cfg.Hosted {
		p.hosted[id] = struct{}{}
	}

	return &p
}

// =============================================================================

// Host records an identity as locally hosted on this peer.
func (p *Peer) Host(id identity.ID) {
	p.hosted[id] = struct{}{}
}

// Hosts reports whether the identity is locally hosted on this peer.
func (p *Peer) Hosts(id identity.ID) bool {
	_, exists := p.hosted[id]
	return exists
}

// HostedIDs returns the identities hosted on this peer.
func (p *Peer) HostedIDs() []identity.ID {
	ids := make([]identity.ID, 0, len(p.hosted))
	for id := range p.hosted {
		ids = append(ids, id)
	}
	return ids
}

// LocalBlock returns the block with the specified id from this peer's
// validated local store.
func (p *Peer) LocalBlock(id string) (block.Block, bool) {
	blk, exists := p.localBlocks[id]
	return blk, exists
}

// BlockCount returns the number of validated blocks this peer holds.
func (p *Peer) BlockCount() int {
	return len(p.localBlocks)
}

// IsTrusted reports whether the block has passed its confirmation window.
func (p *Peer) IsTrusted(blockID string) bool {
	_, exists := p.trusted[blockID]
	return exists
}

// IsBlacklisted reports whether the identity is on this peer's blacklist.
func (p *Peer) IsBlacklisted(id identity.ID) bool {
	_, exists := p.blacklist[id]
	return exists
}

// ConnectionIDs returns the ids of the peers this peer is connected to.
func (p *Peer) ConnectionIDs() []string {
	ids := make([]string, 0, len(p.connections))
	for id := range p.connections {
		ids = append(ids, id)
	}
	return ids
}

// ConnectedTo reports whether the specified peer is a current connection.
func (p *Peer) ConnectedTo(peerID string) bool {
	_, exists := p.connections[peerID]
	return exists
}

// =============================================================================

// Receive processes a message that has arrived at this peer. The fromPeerID
// names the neighbor the message arrived from and is empty only for locally
// originated messages. Traffic from a peer that is not currently connected
// is dropped: connectivity is checked both when a message is handed off and
// again here at delivery time, so a link dropped while a message was in
// flight suppresses delivery unless the link is back by the arrival tick.
//
// Receive reports whether the message was newly applied, which signals the
// caller to rebroadcast it.
func (p *Peer) Receive(msg Message, fromPeerID string, tick int) bool {
	if fromPeerID != "" {
		if _, connected := p.connections[fromPeerID]; !connected {
			p.evHandler("peer: Receive: %s: drop: sender %s not connected", p.ID, fromPeerID)
			return false
		}
	}

	switch msg.Kind {
	case KindNewBlock:
		return p.receiveNewBlock(*msg.NewBlock, tick)

	case KindForkWarning:
		p.events.ForkWarning(msg.ForkWarning.ChainID, msg.ForkWarning.BlockIDs)
		return false

	case KindBlacklistUpdate:
		return p.receiveBlacklistUpdate(*msg.BlacklistUpdate)
	}

	return false
}

// receiveNewBlock rebuilds the block from its wire form, verifies it and,
// on success, stores it and schedules the trust confirmation.
func (p *Peer) receiveNewBlock(nb NewBlock, tick int) bool {
	blk := block.FromWire(nb.Content, nb.BlockID)

	if _, known := p.localBlocks[blk.ID]; known {
		return false
	}

	if err := p.Verify(blk); err != nil {
		p.evHandler("peer: Receive: %s: reject blk[%s]: %s", p.ID, blk.ID, err)
		p.events.BlockRejected(p.ID, blk.ID, err.Error())

		if errors.Is(err, ErrDoubleSpend) {
			p.punishDoubleSpend(blk, tick)
		}

		return false
	}

	p.localBlocks[blk.ID] = blk
	if prevID := blk.PrevID(); prevID != "" {
		if _, taken := p.successors[prevID]; !taken {
			p.successors[prevID] = blk.ID
		}
	}

	chainID := p.FindRoot(blk.ID)
	p.events.BlockReached(p.ID, chainID, blk.ID)

	hostsOwner := p.Hosts(blk.OwnerID())

	// Peers hosting the asset's new owner apply a longer, more conservative
	// confirmation delay than bystanders.
	if blk.Index > 1 {
		factor := 2
		if hostsOwner {
			factor = 4
		}
		p.waitList = append(p.waitList, waitEntry{
			blockID:  blk.ID,
			maturity: tick + p.baseTicks*factor,
		})
	}

	// Ownership is updated on acceptance. Trust only gates when the outside
	// consumer should consider it final, not whether propagation continues.
	if hostsOwner && blk.Index >= 1 {
		previous := p.localBlocks[blk.PrevID()]
		p.tracker.Transfer(chainID, previous.OwnerID(), blk.OwnerID())
	}

	return true
}

// receiveBlacklistUpdate applies a flooded blacklist entry. A peer hosting
// the named identity refuses the update so the owner can keep contesting
// their own blocks.
func (p *Peer) receiveBlacklistUpdate(bu BlacklistUpdate) bool {
	if p.Hosts(bu.IdentityID) {
		return false
	}
	if _, exists := p.blacklist[bu.IdentityID]; exists {
		return false
	}

	p.blacklist[bu.IdentityID] = struct{}{}
	p.events.IdentityBlacklisted(bu.IdentityID, p.ID, bu.Reason)

	return true
}

// punishDoubleSpend blacklists the owner who signed conflicting successors
// and floods the fork warning and blacklist update to the network.
func (p *Peer) punishDoubleSpend(blk block.Block, tick int) {
	previous, exists := p.localBlocks[blk.PrevID()]
	if !exists {
		return
	}

	offender := previous.OwnerID()
	chainID := p.FindRoot(previous.ID)

	conflicting := []string{blk.ID}
	if successorID, taken := p.successors[previous.ID]; taken {
		conflicting = append([]string{successorID}, conflicting...)
	}

	p.events.ForkWarning(chainID, conflicting)

	if _, exists := p.blacklist[offender]; !exists && !p.Hosts(offender) {
		p.blacklist[offender] = struct{}{}
		p.events.IdentityBlacklisted(offender, p.ID, ErrDoubleSpend.Error())
		p.Broadcast(BlacklistUpdateMessage(offender, ErrDoubleSpend.Error()), tick, "")
	}

	p.Broadcast(ForkWarningMessage(chainID, conflicting), tick, "")
}

// =============================================================================

// Verify checks a candidate block against this peer's local view. A nil
// error means the block is provisionally valid and the caller stores it.
func (p *Peer) Verify(blk block.Block) error {
	if blk.IsRoot() {
		if !blk.CheckRootIntegrity() {
			return ErrVerifyFailed
		}
		return nil
	}

	previous, exists := p.localBlocks[blk.PrevID()]
	if !exists {
		return ErrPrevNotFound
	}

	// The new block must be signed by the chain's current owner as known
	// locally, which is the holder named by the previous block.
	if !blk.CheckFollowsFrom(previous.OwnerID()) {
		return ErrVerifyFailed
	}

	// A previous block with a known successor means the asset already moved.
	// Only the owner of the previous block is allowed to resolve the fork.
	if !p.IsTail(previous) && !p.Hosts(previous.OwnerID()) {
		return ErrDoubleSpend
	}

	if _, listed := p.blacklist[previous.OwnerID()]; listed && !p.Hosts(previous.OwnerID()) {
		return ErrBlacklisted
	}

	return nil
}

// IsTail reports whether no block in the local store names the specified
// block as its predecessor.
func (p *Peer) IsTail(blk block.Block) bool {
	_, taken := p.successors[blk.ID]
	return !taken
}

// FindRoot walks the predecessor links backward through the local store
// until it reaches the root layout and returns that block's id, which is
// the chain id. Every link is present because blocks are only stored after
// their predecessor verified.
func (p *Peer) FindRoot(blockID string) string {
	cur, exists := p.localBlocks[blockID]
	if !exists {
		return ""
	}

	for !cur.IsRoot() {
		prev, exists := p.localBlocks[cur.PrevID()]
		if !exists {
			return ""
		}
		cur = prev
	}

	return cur.ID
}

// TailOf follows the recorded successors from the chain's root block and
// returns the last block of that chain in this peer's local view.
func (p *Peer) TailOf(chainID string) (block.Block, bool) {
	cur, exists := p.localBlocks[chainID]
	if !exists {
		return block.Block{}, false
	}

	for {
		successorID, taken := p.successors[cur.ID]
		if !taken {
			return cur, true
		}
		cur = p.localBlocks[successorID]
	}
}

// =============================================================================

// Broadcast schedules delivery of the message to every neighbor except the
// one it arrived from. Each neighbor applies its own connectivity and
// dedupe rules at hand-off time.
func (p *Peer) Broadcast(msg Message, tick int, sourceNeighborID string) {
	for id, conn := range p.connections {
		if id == sourceNeighborID {
			continue
		}
		conn.Peer.AddMessage(msg, p.ID, tick+conn.Latency)
	}
}

// AddMessage records an in-flight message bound for this peer. The message
// is refused when the sending neighbor is not a current connection or when
// a copy of the same gossip item is already pending.
func (p *Peer) AddMessage(msg Message, neighborID string, arrivalTick int) bool {
	if _, connected := p.connections[neighborID]; !connected {
		return false
	}
	if _, pending := p.messages[msg.ID]; pending {
		return false
	}

	p.msgSeq++
	p.messages[msg.ID] = inflight{
		msg:     msg,
		fromID:  neighborID,
		arrival: arrivalTick,
		seq:     p.msgSeq,
	}

	return true
}

// InflightCount returns the number of messages pending delivery.
func (p *Peer) InflightCount() int {
	return len(p.messages)
}

// =============================================================================

// MatureWaitList promotes every wait-list entry whose maturity tick has
// arrived to the trusted state.
func (p *Peer) MatureWaitList(tick int) {
	remaining := p.waitList[:0]
	for _, entry := range p.waitList {
		if entry.maturity > tick {
			remaining = append(remaining, entry)
			continue
		}

		p.trusted[entry.blockID] = struct{}{}
		p.events.BlockTrusted(p.ID, entry.blockID)
	}
	p.waitList = remaining
}

// DeliverDue drains every in-flight message whose arrival tick has come.
// The message leaves the table regardless of the receive outcome; newly
// applied messages are rebroadcast excluding their origin.
func (p *Peer) DeliverDue(tick int) {
	var due []inflight
	for id, inf := range p.messages {
		if inf.arrival > tick {
			continue
		}
		due = append(due, inf)
		delete(p.messages, id)
	}

	// Deliver in hand-off order so a block never races ahead of its
	// predecessor when both arrive on the same tick.
	sort.Slice(due, func(i, j int) bool { return due[i].seq < due[j].seq })

	for _, inf := range due {
		if p.Receive(inf.msg, inf.fromID, tick) {
			p.Broadcast(inf.msg, tick, inf.fromID)
		}
	}
}

// =============================================================================

// Connect establishes a symmetric link between this peer and the specified
// one with the given latency. Both connection tables are updated together
// so there is never an observable half-applied connection.
func (p *Peer) Connect(q *Peer, latency int) bool {
	if q == nil || q.ID == p.ID {
		return false
	}
	if _, exists := p.connections[q.ID]; exists {
		return false
	}

	p.connections[q.ID] = Connection{Peer: q, Latency: latency}
	q.connections[p.ID] = Connection{Peer: p, Latency: latency}

	return true
}

// Disconnect breaks the link to the specified peer on both sides.
func (p *Peer) Disconnect(peerID string) {
	conn, exists := p.connections[peerID]
	if !exists {
		return
	}

	delete(p.connections, peerID)
	delete(conn.Peer.connections, p.ID)
}

// Churn performs one tick of connection maintenance: a probabilistic drop
// of one existing connection followed by replenishment up to the minimum
// connection count from the specified candidate population.
func (p *Peer) Churn(candidates []*Peer) (dropped int, made int) {
	if p.rng.Float64() < dropFactor*p.breakRate*float64(len(p.connections)) {
		if victim := p.randomConnectionID(); victim != "" {
			p.evHandler("peer: Churn: %s: drop connection to %s", p.ID, victim)
			p.Disconnect(victim)
			dropped++
		}
	}

	// The population may be too small to ever reach the minimum, so the
	// random picks are bounded rather than retried until success.
	for attempts := 0; len(p.connections) < p.minConns && attempts < 10*len(candidates); attempts++ {
		candidate := candidates[p.rng.Intn(len(candidates))]
		if candidate.ID == p.ID {
			continue
		}

		latency := 1 + p.rng.Intn(maxLinkLatency)
		if p.Connect(candidate, latency) {
			made++
		}
	}

	return dropped, made
}

// randomConnectionID picks one existing connection uniformly at random.
func (p *Peer) randomConnectionID() string {
	if len(p.connections) == 0 {
		return ""
	}

	n := p.rng.Intn(len(p.connections))
	for id := range p.connections {
		if n == 0 {
			return id
		}
		n--
	}

	return ""
}

// =============================================================================

// String implements the fmt.Stringer interface.
func (p *Peer) String() string {
	return fmt.Sprintf("peer[%s]: blocks[%d] conns[%d] inflight[%d]",
		p.ID, len(p.localBlocks), len(p.connections), len(p.messages))
}
