package main

import (
	"log"
	"os"

	"github.com/grosenberger/percolator/cmd/percolator/cmd"
)

func main() {
	log.SetFlags(0)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
