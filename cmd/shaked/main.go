// Command shaked is both the trigger-dispatch daemon and its operator CLI:
// "shaked run" is the daemon, the remaining subcommands talk to a running
// daemon over its admin socket.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
