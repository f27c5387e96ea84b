// Command flowctl manages dashboard workflows from the terminal using the
// configured upstream API key.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
