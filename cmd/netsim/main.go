// Command netsim serves the packet simulation engine over gRPC and
// WebSocket, or runs a scenario offline and prints its event stream.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
