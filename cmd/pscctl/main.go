// Command pscctl is the declarative front end for the PSC engines: it reads
// a YAML peer list and tunables file, registers a tcp/udp/udpfast engine
// per peer, and either runs headless or shows a live status viewer.
package main

import "github.com/mdavidsaver/pscdrv/cmd/pscctl/cmd"

func main() {
	cmd.Execute()
}
