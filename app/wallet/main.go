// This program is a simple wallet for the node. It signs transactions with
// a local key and talks to a node over JSON-RPC.
package main

import "github.com/ardanlabs/evmchain/app/wallet/cmd"

func main() {
	cmd.Execute()
}
