package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainmesh/gossipsim/foundation/gossip/sim"
)

var (
	peerCount int
	userCount int
	maxConns  int
	failRate  float64
	payRate   float64
	baseTicks int
	ticks     int
	seed      int64
	verbose   bool
)

// runCmd drives a fixed number of ticks synchronously and prints a summary,
// which is useful for studying propagation without standing up the service.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a headless simulation for a fixed number of ticks",
	Run:   runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&peerCount, "peers", 24, "Number of peers in the network.")
	runCmd.Flags().IntVar(&userCount, "users", 8, "Number of user identities.")
	runCmd.Flags().IntVar(&maxConns, "conns", 3, "Connection target per peer.")
	runCmd.Flags().Float64Var(&failRate, "fail-rate", 0.5, "Connection failure rate in [0,1].")
	runCmd.Flags().Float64Var(&payRate, "pay-rate", 0.25, "Payment rate in [0,1].")
	runCmd.Flags().IntVar(&baseTicks, "base-ticks", 6, "Base confirmation delay in ticks.")
	runCmd.Flags().IntVar(&ticks, "ticks", 200, "Number of ticks to simulate.")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "Random seed. 0 picks one from the clock.")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every simulation event.")
}

func runRun(cmd *cobra.Command, args []string) {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	sink := func(evt sim.Event) {
		if verbose {
			fmt.Printf("tick %4d  %-21s peer[%s] chain[%.10s] block[%.10s] %s\n",
				evt.Tick, evt.Kind, evt.PeerID, evt.ChainID, evt.BlockID, evt.Reason)
		}
	}

	s, err := sim.New(sim.Config{
		PeerCount:             peerCount,
		UserCount:             userCount,
		MaxConnectionsPerPeer: maxConns,
		ConnectionFailureRate: failRate,
		PaymentRate:           payRate,
		TickInterval:          time.Millisecond,
		BaseTicks:             baseTicks,
		Seed:                  seed,
	}, sink, nil)
	if err != nil {
		log.Fatal(err)
	}

	for i := 0; i < ticks; i++ {
		s.Step()
	}

	snap := s.Stats()
	fmt.Println("seed:              ", seed)
	fmt.Println("ticks:             ", s.Tick())
	fmt.Println("blocks accepted:   ", snap.BlocksAccepted)
	fmt.Println("blocks rejected:   ", snap.BlocksRejected)
	fmt.Println("blocks trusted:    ", snap.BlocksTrusted)
	fmt.Println("fork warnings:     ", snap.ForkWarnings)
	fmt.Println("blacklistings:     ", snap.Blacklistings)
	fmt.Println("connections made:  ", snap.ConnectionsMade)
	fmt.Println("connections lost:  ", snap.ConnectionsLost)
	fmt.Printf("propagation ticks:  p50[%.1f] p95[%.1f] max[%d]\n",
		snap.PropagationP50, snap.PropagationP95, snap.PropagationMax)

	for _, c := range s.Chains() {
		fmt.Printf("chain %-10s id[%.10s] blocks[%d]\n", c.Name, c.ID, c.Blocks)
	}
}
