// Command rbdctl loads a product structure fixture and runs reliability
// queries against it.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
