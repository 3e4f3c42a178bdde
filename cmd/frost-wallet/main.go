// Command frost-wallet runs one wallet device: it generates threshold keys
// with its peers, stores the encrypted share, and co-signs message hashes.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
