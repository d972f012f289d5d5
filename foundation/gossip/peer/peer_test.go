package peer_test

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/chainmesh/gossipsim/foundation/gossip/block"
	"github.com/chainmesh/gossipsim/foundation/gossip/chain"
	"github.com/chainmesh/gossipsim/foundation/gossip/identity"
	"github.com/chainmesh/gossipsim/foundation/gossip/peer"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// =============================================================================

// sink captures the events emitted by peers under test.
type sink struct {
	reached     []string
	trusted     []string
	rejected    []string
	forks       int
	blacklisted int
}

func (s *sink) BlockReached(peerID string, chainID string, blockID string) {
	s.reached = append(s.reached, peerID+":"+blockID)
}

func (s *sink) BlockTrusted(peerID string, blockID string) {
	s.trusted = append(s.trusted, peerID+":"+blockID)
}

func (s *sink) BlockRejected(peerID string, blockID string, reason string) {
	s.rejected = append(s.rejected, peerID+":"+reason)
}

func (s *sink) ForkWarning(chainID string, blockIDs []string) {
	s.forks++
}

func (s *sink) IdentityBlacklisted(identityID identity.ID, peerID string, reason string) {
	s.blacklisted++
}

// =============================================================================

func newTestPeer(id string, evs *sink, reg *chain.Registry, hosted ...identity.ID) *peer.Peer {
	return peer.New(peer.Config{
		ID:        id,
		Hosted:    hosted,
		BaseTicks: 2,
		BreakRate: 1,
		MinConns:  2,
		Rand:      rand.New(rand.NewSource(42)),
		Events:    evs,
		Tracker:   reg,
	})
}

// newTestChain builds a root block and its index-1 first ownership block.
func newTestChain(t *testing.T, owner *identity.Identity) (block.Block, block.Block) {
	t.Helper()

	root := block.NewRoot("asset-test", "serial-1", owner.ID())

	draft, err := block.NewDraft(1, 0, owner.ID(), "", root.ID)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to draft the first block: %v", failed, err)
	}
	first, err := draft.Seal(owner)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to seal the first block: %v", failed, err)
	}

	return root, first
}

// transfer seals the next block of a chain moving ownership to the target.
func transfer(t *testing.T, signer *identity.Identity, prev block.Block, target identity.ID, tick int) block.Block {
	t.Helper()

	draft, err := block.NewDraft(prev.Index+1, tick, target, "", prev.ID)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to draft a transfer block: %v", failed, err)
	}
	blk, err := draft.Seal(signer)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to seal a transfer block: %v", failed, err)
	}

	return blk
}

// =============================================================================

func Test_FloodPropagation(t *testing.T) {
	owner, err := identity.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create an identity: %v", failed, err)
	}

	evs := &sink{}
	reg := chain.NewRegistry()

	a := newTestPeer("A", evs, reg, owner.ID())
	b := newTestPeer("B", evs, reg)
	c := newTestPeer("C", evs, reg)

	// Fully connected triangle with one tick of latency per link.
	a.Connect(b, 1)
	a.Connect(c, 1)
	b.Connect(c, 1)

	root, first := newTestChain(t, owner)

	// Originate both blocks at peer A and flood them.
	for _, blk := range []block.Block{root, first} {
		msg := peer.NewBlockMessage(blk)
		if !a.Receive(msg, "", 0) {
			t.Fatalf("\t%s\tShould accept a locally originated block.", failed)
		}
		a.Broadcast(msg, 0, "")
	}
	t.Logf("\t%s\tShould accept locally originated blocks.", success)

	peers := []*peer.Peer{a, b, c}
	for tick := 1; tick <= 2; tick++ {
		for _, p := range peers {
			p.MatureWaitList(tick)
			p.DeliverDue(tick)
		}
	}

	for _, p := range peers {
		if p.BlockCount() != 2 {
			t.Logf("\t\tpeer %s got: %d", p.ID, p.BlockCount())
			t.Logf("\t\tpeer %s exp: %d", p.ID, 2)
			t.Fatalf("\t%s\tShould hold both blocks on every peer after 2 ticks.", failed)
		}
		if got := p.FindRoot(first.ID); got != root.ID {
			t.Logf("\t\tpeer %s got: %s", p.ID, got)
			t.Logf("\t\tpeer %s exp: %s", p.ID, root.ID)
			t.Fatalf("\t%s\tShould resolve the chain root on every peer.", failed)
		}
	}
	t.Logf("\t%s\tShould hold both blocks and resolve the root on every peer.", success)
}

func Test_DedupeIdempotence(t *testing.T) {
	owner, err := identity.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create an identity: %v", failed, err)
	}

	evs := &sink{}
	a := newTestPeer("A", evs, chain.NewRegistry())
	b := newTestPeer("B", evs, chain.NewRegistry())
	a.Connect(b, 1)

	root, _ := newTestChain(t, owner)
	msg := peer.NewBlockMessage(root)

	if !a.Receive(msg, b.ID, 0) {
		t.Fatalf("\t%s\tShould accept the first delivery.", failed)
	}
	t.Logf("\t%s\tShould accept the first delivery.", success)

	if a.Receive(msg, b.ID, 0) {
		t.Fatalf("\t%s\tShould drop the second delivery silently.", failed)
	}
	t.Logf("\t%s\tShould drop the second delivery silently.", success)

	if a.BlockCount() != 1 {
		t.Logf("\t\tgot: %d", a.BlockCount())
		t.Logf("\t\texp: %d", 1)
		t.Fatalf("\t%s\tShould hold exactly one copy of the block.", failed)
	}
	t.Logf("\t%s\tShould hold exactly one copy of the block.", success)

	// The in-flight table applies the same rule at hand-off time.
	if !b.AddMessage(msg, a.ID, 3) {
		t.Fatalf("\t%s\tShould schedule the first in-flight copy.", failed)
	}
	if b.AddMessage(msg, a.ID, 4) {
		t.Fatalf("\t%s\tShould refuse a duplicate in-flight copy.", failed)
	}
	t.Logf("\t%s\tShould refuse a duplicate in-flight copy.", success)
}

func Test_DisconnectedSender(t *testing.T) {
	owner, err := identity.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create an identity: %v", failed, err)
	}

	evs := &sink{}
	a := newTestPeer("A", evs, chain.NewRegistry())

	root, _ := newTestChain(t, owner)
	msg := peer.NewBlockMessage(root)

	if a.Receive(msg, "B", 0) {
		t.Fatalf("\t%s\tShould drop traffic from a peer that is not connected.", failed)
	}
	if a.BlockCount() != 0 {
		t.Fatalf("\t%s\tShould not store anything from a disconnected sender.", failed)
	}
	t.Logf("\t%s\tShould drop traffic from a peer that is not connected.", success)
}

func Test_DoubleSpend(t *testing.T) {
	owner, err := identity.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create an identity: %v", failed, err)
	}
	target1, err := identity.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create an identity: %v", failed, err)
	}
	target2, err := identity.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create an identity: %v", failed, err)
	}

	evs := &sink{}
	reg := chain.NewRegistry()

	host := newTestPeer("host", evs, reg, owner.ID())
	bystander := newTestPeer("bystander", evs, reg)
	host.Connect(bystander, 1)

	root, first := newTestChain(t, owner)

	for _, p := range []*peer.Peer{host, bystander} {
		for _, blk := range []block.Block{root, first} {
			if !p.Receive(peer.NewBlockMessage(blk), "", 0) {
				t.Fatalf("\t%s\tShould accept the chain setup on %s.", failed, p.ID)
			}
		}
	}

	// Two conflicting successors to the same block, signed by the owner.
	tx1 := transfer(t, owner, first, target1.ID(), 1)
	tx2 := transfer(t, owner, first, target2.ID(), 1)

	if !bystander.Receive(peer.NewBlockMessage(tx1), host.ID, 1) {
		t.Fatalf("\t%s\tShould accept the first successor on a bystander.", failed)
	}
	t.Logf("\t%s\tShould accept the first successor on a bystander.", success)

	if bystander.Receive(peer.NewBlockMessage(tx2), host.ID, 1) {
		t.Fatalf("\t%s\tShould reject the second successor on a bystander.", failed)
	}
	if len(evs.rejected) == 0 || !strings.Contains(evs.rejected[len(evs.rejected)-1], peer.ErrDoubleSpend.Error()) {
		t.Logf("\t\tgot: %v", evs.rejected)
		t.Logf("\t\texp: %s", peer.ErrDoubleSpend.Error())
		t.Fatalf("\t%s\tShould reject the second successor as double spending.", failed)
	}
	t.Logf("\t%s\tShould reject the second successor as double spending.", success)

	if !bystander.IsBlacklisted(owner.ID()) {
		t.Fatalf("\t%s\tShould blacklist the double spending owner.", failed)
	}
	if evs.forks == 0 || evs.blacklisted == 0 {
		t.Fatalf("\t%s\tShould emit fork warning and blacklist events.", failed)
	}
	t.Logf("\t%s\tShould blacklist the offender and emit the events.", success)

	// The peer hosting the owner is the party allowed to resolve the fork
	// and must not self-reject.
	if !host.Receive(peer.NewBlockMessage(tx1), "", 1) {
		t.Fatalf("\t%s\tShould accept the first successor on the owner's host.", failed)
	}
	if !host.Receive(peer.NewBlockMessage(tx2), "", 1) {
		t.Fatalf("\t%s\tShould accept the conflicting successor on the owner's host.", failed)
	}
	t.Logf("\t%s\tShould not self-reject on the owner's hosting peer.", success)
}

func Test_BlacklistPolicy(t *testing.T) {
	owner, err := identity.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create an identity: %v", failed, err)
	}

	evs := &sink{}
	reg := chain.NewRegistry()

	host := newTestPeer("host", evs, reg, owner.ID())
	bystander := newTestPeer("bystander", evs, reg)
	host.Connect(bystander, 1)

	// Flood a blacklist update naming the owner.
	update := peer.BlacklistUpdateMessage(owner.ID(), "double spending")

	if !bystander.Receive(update, host.ID, 0) {
		t.Fatalf("\t%s\tShould apply a blacklist update on a bystander.", failed)
	}
	if bystander.Receive(update, host.ID, 0) {
		t.Fatalf("\t%s\tShould not reapply a known blacklist update.", failed)
	}
	t.Logf("\t%s\tShould apply a blacklist update exactly once.", success)

	if host.Receive(update, bystander.ID, 0) {
		t.Fatalf("\t%s\tShould refuse a blacklist update for a hosted identity.", failed)
	}
	if host.IsBlacklisted(owner.ID()) {
		t.Fatalf("\t%s\tShould keep the hosted identity off the blacklist.", failed)
	}
	t.Logf("\t%s\tShould refuse a blacklist update for a hosted identity.", success)

	// New blocks whose previous owner is blacklisted are rejected by the
	// bystander but accepted by the peer hosting the contested owner.
	root, first := newTestChain(t, owner)

	if !bystander.Receive(peer.NewBlockMessage(root), host.ID, 1) {
		t.Fatalf("\t%s\tShould still accept a root block.", failed)
	}
	if bystander.Receive(peer.NewBlockMessage(first), host.ID, 1) {
		t.Fatalf("\t%s\tShould reject a block from a blacklisted owner.", failed)
	}
	if len(evs.rejected) == 0 || !strings.Contains(evs.rejected[len(evs.rejected)-1], peer.ErrBlacklisted.Error()) {
		t.Logf("\t\tgot: %v", evs.rejected)
		t.Fatalf("\t%s\tShould report the blacklist rejection.", failed)
	}
	t.Logf("\t%s\tShould reject blocks from a blacklisted owner.", success)

	if !host.Receive(peer.NewBlockMessage(root), "", 1) || !host.Receive(peer.NewBlockMessage(first), "", 1) {
		t.Fatalf("\t%s\tShould accept blocks from the contested owner on its host.", failed)
	}
	t.Logf("\t%s\tShould accept blocks from the contested owner on its host.", success)
}

func Test_TrustMaturity(t *testing.T) {
	owner, err := identity.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create an identity: %v", failed, err)
	}
	receiver, err := identity.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create an identity: %v", failed, err)
	}

	evs := &sink{}
	reg := chain.NewRegistry()

	// The hosting peer waits baseTicks*4, a bystander baseTicks*2. The
	// test peers use a base of 2 ticks.
	hostOfReceiver := newTestPeer("host", evs, reg, receiver.ID())
	bystander := newTestPeer("bystander", evs, reg)

	root, first := newTestChain(t, owner)
	tx := transfer(t, owner, first, receiver.ID(), 0)

	for _, p := range []*peer.Peer{hostOfReceiver, bystander} {
		for _, blk := range []block.Block{root, first, tx} {
			if !p.Receive(peer.NewBlockMessage(blk), "", 0) {
				t.Fatalf("\t%s\tShould accept the chain on %s.", failed, p.ID)
			}
		}
	}

	// Ownership lands at acceptance time, before any trust confirmation.
	if !reg.Owns(receiver.ID(), root.ID) {
		t.Fatalf("\t%s\tShould update ownership at acceptance time.", failed)
	}
	t.Logf("\t%s\tShould update ownership at acceptance time.", success)

	for tick := 1; tick <= 3; tick++ {
		bystander.MatureWaitList(tick)
		hostOfReceiver.MatureWaitList(tick)
	}
	if bystander.IsTrusted(tx.ID) || hostOfReceiver.IsTrusted(tx.ID) {
		t.Fatalf("\t%s\tShould not trust a block before its maturity tick.", failed)
	}
	t.Logf("\t%s\tShould not trust a block before its maturity tick.", success)

	bystander.MatureWaitList(4)
	hostOfReceiver.MatureWaitList(4)
	if !bystander.IsTrusted(tx.ID) {
		t.Fatalf("\t%s\tShould trust the block on a bystander after base*2 ticks.", failed)
	}
	if hostOfReceiver.IsTrusted(tx.ID) {
		t.Fatalf("\t%s\tShould keep waiting on the owner's host after base*2 ticks.", failed)
	}
	t.Logf("\t%s\tShould trust on a bystander after base*2 ticks.", success)

	hostOfReceiver.MatureWaitList(8)
	if !hostOfReceiver.IsTrusted(tx.ID) {
		t.Fatalf("\t%s\tShould trust the block on the owner's host after base*4 ticks.", failed)
	}
	t.Logf("\t%s\tShould trust on the owner's host after base*4 ticks.", success)

	// Index-1 blocks never enter the wait list.
	if bystander.IsTrusted(first.ID) {
		t.Fatalf("\t%s\tShould not schedule index-1 blocks for trust.", failed)
	}
	t.Logf("\t%s\tShould not schedule index-1 blocks for trust.", success)
}

func Test_ConnectionSymmetry(t *testing.T) {
	evs := &sink{}
	reg := chain.NewRegistry()

	var peers []*peer.Peer
	for i := 0; i < 6; i++ {
		peers = append(peers, newTestPeer(string(rune('A'+i)), evs, reg))
	}

	check := func(when string) {
		t.Helper()
		for _, p := range peers {
			for _, q := range peers {
				pq := p.ConnectedTo(q.ID)
				qp := q.ConnectedTo(p.ID)
				if pq != qp {
					t.Fatalf("\t%s\tShould keep connections symmetric %s: %s->%s[%v] %s->%s[%v].",
						failed, when, p.ID, q.ID, pq, q.ID, p.ID, qp)
				}
			}
		}
	}

	for tick := 1; tick <= 50; tick++ {
		for _, p := range peers {
			p.Churn(peers)
			check("after churn")
		}
	}
	t.Logf("\t%s\tShould keep connections symmetric under churn.", success)

	peers[0].Disconnect(peers[1].ID)
	check("after explicit disconnect")
	t.Logf("\t%s\tShould keep connections symmetric after an explicit break.", success)
}

func Test_InflightDisconnect(t *testing.T) {
	owner, err := identity.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create an identity: %v", failed, err)
	}

	evs := &sink{}
	reg := chain.NewRegistry()

	x := newTestPeer("X", evs, reg)
	y := newTestPeer("Y", evs, reg)
	x.Connect(y, 2)

	root, _ := newTestChain(t, owner)
	msg := peer.NewBlockMessage(root)
	x.Receive(msg, "", 0)
	x.Broadcast(msg, 0, "")

	if y.InflightCount() != 1 {
		t.Fatalf("\t%s\tShould schedule the in-flight copy at hand-off time.", failed)
	}

	// The link breaks while the message is in flight. The entry stays in
	// the table but delivery is suppressed unless the link is back by the
	// arrival tick.
	x.Disconnect(y.ID)

	y.DeliverDue(2)
	if y.BlockCount() != 0 {
		t.Fatalf("\t%s\tShould suppress delivery over a dropped link.", failed)
	}
	if y.InflightCount() != 0 {
		t.Fatalf("\t%s\tShould remove the message from the table regardless.", failed)
	}
	t.Logf("\t%s\tShould suppress delivery over a dropped link.", success)

	// Same setup, but the link is re-established before the arrival tick.
	x2 := newTestPeer("X2", evs, reg)
	y2 := newTestPeer("Y2", evs, reg)
	x2.Connect(y2, 2)

	msg2 := peer.NewBlockMessage(root)
	x2.Receive(msg2, "", 0)
	x2.Broadcast(msg2, 0, "")

	x2.Disconnect(y2.ID)
	x2.Connect(y2, 1)

	y2.DeliverDue(2)
	if y2.BlockCount() != 1 {
		t.Fatalf("\t%s\tShould deliver when the link is back by the arrival tick.", failed)
	}
	t.Logf("\t%s\tShould deliver when the link is back by the arrival tick.", success)

	// Hand-off to a peer that is not connected is refused outright.
	if y.AddMessage(peer.NewBlockMessage(root), x.ID, 5) {
		t.Fatalf("\t%s\tShould refuse hand-off from a disconnected neighbor.", failed)
	}
	t.Logf("\t%s\tShould refuse hand-off from a disconnected neighbor.", success)
}
