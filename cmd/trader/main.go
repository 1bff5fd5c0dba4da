package main

import (
	"os"

	"github.com/sandroneterpone/ye-meme-trader/cmd/trader/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
