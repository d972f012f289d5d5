// Package sim is the core API for the simulation: it owns the registries of
// peers, users and chains, drives the global tick clock, and implements the
// control surface used by the outside consumer.
package sim

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainmesh/gossipsim/foundation/gossip/block"
	"github.com/chainmesh/gossipsim/foundation/gossip/chain"
	"github.com/chainmesh/gossipsim/foundation/gossip/identity"
	"github.com/chainmesh/gossipsim/foundation/gossip/peer"
	"github.com/chainmesh/gossipsim/foundation/gossip/stats"
	"github.com/chainmesh/gossipsim/foundation/validate"
)

// Config represents the settings required to construct a simulation.
type Config struct {
	PeerCount             int           `json:"peer_count" validate:"required,gte=2,lte=2000"`
	UserCount             int           `json:"user_count" validate:"required,gte=1"`
	MaxConnectionsPerPeer int           `json:"max_connections_per_peer" validate:"required,gte=1"`
	ConnectionFailureRate float64       `json:"connection_failure_rate" validate:"gte=0,lte=1"`
	PaymentRate           float64       `json:"payment_rate" validate:"gte=0,lte=1"`
	TickInterval          time.Duration `json:"tick_interval" validate:"required,gt=0"`
	BaseTicks             int           `json:"base_ticks" validate:"required,gte=1"`
	Seed                  int64         `json:"seed"`
}

// User binds an identity to the set of peers hosting it.
type User struct {
	Identity *identity.Identity
	Hosts    []*peer.Peer
}

// Simulation owns all process-wide simulation state: the registries, the
// tick counter, and the worker goroutine advancing the clock. Peer tables
// are only touched while the simulation mutex is held, which keeps the
// cooperative single-clock model of the design intact.
type Simulation struct {
	cfg       Config
	sink      EventSink
	evHandler peer.EventHandler
	rng       *rand.Rand
	stats     *stats.Stats
	tracker   *chain.Registry

	mu      sync.Mutex
	tick    int
	peers   []*peer.Peer
	byID    map[string]*peer.Peer
	users   map[identity.ID]*User
	chains  map[string]*chain.Chain
	origins map[string]int

	ticker  *time.Ticker
	shut    chan struct{}
	wg      sync.WaitGroup
	running bool
	paused  bool
}

// New constructs a simulation from the configuration: it creates the peer
// population, the user identities with their hosting peers, the initial
// connection graph, and one root chain per user with its first ownership
// block already accepted locally and broadcast.
func New(cfg Config, sink EventSink, evHandler peer.EventHandler) (*Simulation, error) {
	if err := validate.Check(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	s := Simulation{
		cfg:       cfg,
		sink:      sink,
		evHandler: ev,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		stats:     stats.New(),
		tracker:   chain.NewRegistry(),
		byID:      make(map[string]*peer.Peer),
		users:     make(map[identity.ID]*User),
		chains:    make(map[string]*chain.Chain),
		origins:   make(map[string]int),
	}

	bridge := eventBridge{sim: &s}

	// Build the peer population.
	for i := 0; i < cfg.PeerCount; i++ {
		p := peer.New(peer.Config{
			ID:        fmt.Sprintf("peer-%03d", i),
			BaseTicks: cfg.BaseTicks,
			BreakRate: cfg.ConnectionFailureRate,
			MinConns:  cfg.MaxConnectionsPerPeer,
			Rand:      s.rng,
			EvHandler: ev,
			Events:    bridge,
			Tracker:   s.tracker,
		})
		s.peers = append(s.peers, p)
		s.byID[p.ID] = p
	}

	// Create the user identities. Each identity is hosted by one or two
	// randomly chosen peers.
	for i := 0; i < cfg.UserCount; i++ {
		idn, err := identity.New()
		if err != nil {
			return nil, fmt.Errorf("creating identity: %w", err)
		}

		user := User{Identity: idn}
		for _, p := range s.pickHosts() {
			p.Host(idn.ID())
			user.Hosts = append(user.Hosts, p)
		}
		s.users[idn.ID()] = &user
	}

	// Wire the initial connection graph.
	for _, p := range s.peers {
		p.Churn(s.peers)
	}

	// Every user starts with one asset: a root block and the index-1 block
	// assigning first ownership, originated at a hosting peer.
	i := 0
	for _, user := range s.users {
		if err := s.createAsset(fmt.Sprintf("asset-%03d", i), user); err != nil {
			return nil, err
		}
		i++
	}

	return &s, nil
}

// pickHosts chooses one or two distinct peers to host a new identity.
func (s *Simulation) pickHosts() []*peer.Peer {
	first := s.peers[s.rng.Intn(len(s.peers))]
	hosts := []*peer.Peer{first}

	if s.rng.Intn(2) == 1 && len(s.peers) > 1 {
		for {
			second := s.peers[s.rng.Intn(len(s.peers))]
			if second.ID != first.ID {
				hosts = append(hosts, second)
				break
			}
		}
	}

	return hosts
}

// createAsset builds a new chain owned by the user and floods its first two
// blocks from one of the user's hosting peers.
func (s *Simulation) createAsset(name string, user *User) error {
	ownerID := user.Identity.ID()

	root := block.NewRoot(name, uuid.NewString(), ownerID)
	c, err := chain.New(root)
	if err != nil {
		return fmt.Errorf("creating chain: %w", err)
	}
	c.Name = name
	s.chains[c.ID] = c

	host := user.Hosts[0]
	if !s.originate(host, root) {
		return fmt.Errorf("root block for %s rejected at origin", name)
	}

	draft, err := block.NewDraft(1, s.tick, ownerID, "", root.ID)
	if err != nil {
		return fmt.Errorf("drafting first ownership block: %w", err)
	}
	first, err := draft.Seal(user.Identity)
	if err != nil {
		return fmt.Errorf("sealing first ownership block: %w", err)
	}
	if !s.originate(host, first) {
		return fmt.Errorf("first ownership block for %s rejected at origin", name)
	}

	return nil
}

// originate locally accepts a freshly created block at the specified peer
// and floods it on success.
func (s *Simulation) originate(p *peer.Peer, blk block.Block) bool {
	s.origins[blk.ID] = s.tick

	msg := peer.NewBlockMessage(blk)
	if !p.Receive(msg, "", s.tick) {
		delete(s.origins, blk.ID)
		return false
	}

	p.Broadcast(msg, s.tick, "")
	return true
}

// =============================================================================

// Start brings up the worker goroutine that advances the clock once per
// configured tick interval.
func (s *Simulation) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.ticker = time.NewTicker(s.cfg.TickInterval)
	s.shut = make(chan struct{})
	s.running = true
	s.paused = false

	// We don't want to return until we know the G is up and running.
	hasStarted := make(chan bool)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		hasStarted <- true

		for {
			select {
			case <-s.shut:
				return
			case <-s.ticker.C:
				s.mu.Lock()
				if !s.paused {
					s.step()
				}
				s.mu.Unlock()
			}
		}
	}()

	<-hasStarted
	s.evHandler("sim: Start: clock running: interval[%s]", s.cfg.TickInterval)
}

// Pause suspends the clock without tearing down the worker.
func (s *Simulation) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume releases a paused clock.
func (s *Simulation) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// Stop terminates the worker goroutine. The simulation state stays intact
// and can be inspected afterward.
func (s *Simulation) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.shut)
	s.wg.Wait()
	s.ticker.Stop()

	s.evHandler("sim: Stop: clock stopped: tick[%d]", s.Tick())
}

// Step advances the clock one tick synchronously. Used by tests and the
// headless CLI runner instead of the interval worker.
func (s *Simulation) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
}

// step performs one discrete simulation step. For every peer, in order:
// wait-list maturation, message delivery, then connection churn. The caller
// must hold the mutex.
func (s *Simulation) step() {
	s.tick++

	for _, p := range s.peers {
		p.MatureWaitList(s.tick)
		p.DeliverDue(s.tick)

		dropped, made := p.Churn(s.peers)
		s.stats.ConnectionsLost.Inc(int64(dropped))
		s.stats.ConnectionsMade.Inc(int64(made))
	}

	if s.rng.Float64() < s.cfg.PaymentRate {
		s.randomTransfer()
	}
}

// randomTransfer originates one transfer between two random users, skipping
// the tick silently when no user currently owns a chain.
func (s *Simulation) randomTransfer() {
	owners := make([]*User, 0, len(s.users))
	for id, user := range s.users {
		if len(s.tracker.OwnedBy(id)) > 0 {
			owners = append(owners, user)
		}
	}
	if len(owners) == 0 || len(s.users) < 2 {
		return
	}

	owner := owners[s.rng.Intn(len(owners))]
	chains := s.tracker.OwnedBy(owner.Identity.ID())
	chainID := chains[s.rng.Intn(len(chains))]

	target := s.randomUserExcept(owner.Identity.ID())
	if target == nil {
		return
	}

	if err := s.submitTransfer(owner.Identity.ID(), chainID, target.Identity.ID()); err != nil {
		s.evHandler("sim: randomTransfer: %s", err)
	}
}

// randomUserExcept picks a uniformly random user other than the one named.
func (s *Simulation) randomUserExcept(exclude identity.ID) *User {
	candidates := make([]*User, 0, len(s.users))
	for id, user := range s.users {
		if id != exclude {
			candidates = append(candidates, user)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[s.rng.Intn(len(candidates))]
}

// =============================================================================

// SubmitTransfer originates a new transfer block moving the chain from the
// owner to the target identity, flooding it from one of the owner's hosting
// peers.
func (s *Simulation) SubmitTransfer(ownerID identity.ID, chainID string, targetID identity.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.submitTransfer(ownerID, chainID, targetID)
}

// submitTransfer performs the transfer origination. The caller must hold
// the mutex.
func (s *Simulation) submitTransfer(ownerID identity.ID, chainID string, targetID identity.ID) error {
	owner, exists := s.users[ownerID]
	if !exists {
		return fmt.Errorf("unknown identity %s", ownerID)
	}
	if _, exists := s.users[targetID]; !exists {
		return fmt.Errorf("unknown identity %s", targetID)
	}
	if !s.tracker.Owns(ownerID, chainID) {
		return fmt.Errorf("identity %s does not own chain %s", ownerID, chainID)
	}

	host := owner.Hosts[s.rng.Intn(len(owner.Hosts))]
	tail, exists := host.TailOf(chainID)
	if !exists {
		return fmt.Errorf("chain %s not present on hosting peer %s", chainID, host.ID)
	}

	draft, err := block.NewDraft(tail.Index+1, s.tick, targetID, "", tail.ID)
	if err != nil {
		return fmt.Errorf("drafting transfer block: %w", err)
	}
	blk, err := draft.Seal(owner.Identity)
	if err != nil {
		return fmt.Errorf("sealing transfer block: %w", err)
	}

	if !s.originate(host, blk) {
		return fmt.Errorf("transfer block rejected at origin peer %s", host.ID)
	}

	s.evHandler("sim: SubmitTransfer: chain[%s]: %s -> %s: blk[%s]", chainID, ownerID, targetID, blk.ID)
	return nil
}

// =============================================================================

// PeerInfo represents a snapshot of one peer for the outside consumer.
type PeerInfo struct {
	ID          string   `json:"id"`
	Hosted      []string `json:"hosted,omitempty"`
	Blocks      int      `json:"blocks"`
	Connections []string `json:"connections"`
	Inflight    int      `json:"inflight"`
}

// ChainInfo represents a snapshot of one chain for the outside consumer.
type ChainInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Blocks int    `json:"blocks"`
}

// Peers returns a snapshot of the peer population.
func (s *Simulation) Peers() []PeerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]PeerInfo, 0, len(s.peers))
	for _, p := range s.peers {
		hosted := make([]string, 0)
		for _, id := range p.HostedIDs() {
			hosted = append(hosted, string(id))
		}
		sort.Strings(hosted)

		conns := p.ConnectionIDs()
		sort.Strings(conns)

		infos = append(infos, PeerInfo{
			ID:          p.ID,
			Hosted:      hosted,
			Blocks:      p.BlockCount(),
			Connections: conns,
			Inflight:    p.InflightCount(),
		})
	}

	return infos
}

// Chains returns a snapshot of every chain in the simulation.
func (s *Simulation) Chains() []ChainInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]ChainInfo, 0, len(s.chains))
	for _, c := range s.chains {
		infos = append(infos, ChainInfo{
			ID:     c.ID,
			Name:   c.Name,
			Blocks: len(c.Members()),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos
}

// OwnedBy returns the chain ids currently owned by the specified identity.
func (s *Simulation) OwnedBy(id identity.ID) []string {
	chains := s.tracker.OwnedBy(id)
	sort.Strings(chains)
	return chains
}

// Identities returns the ids of every user identity in the simulation.
func (s *Simulation) Identities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	return ids
}

// Tick returns the current value of the global tick counter.
func (s *Simulation) Tick() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Stats returns a snapshot of the collected simulation statistics.
func (s *Simulation) Stats() stats.Snapshot {
	return s.stats.Snapshot()
}
