package main

import (
	"os"

	"github.com/spigell/fiscal-sentinel/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
