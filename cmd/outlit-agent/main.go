package main

import (
	"os"

	"github.com/GabrielNunesIT/outlit-agent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
