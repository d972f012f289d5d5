// This program provides tooling for running headless simulations and
// managing account keys.
package main

import "github.com/chainmesh/gossipsim/app/tooling/simctl/cmd"

func main() {
	cmd.Execute()
}
