// Command agentstep runs tool-calling agents from the command line or
// behind an HTTP server.
package main

import (
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
