package main

import (
	"os"

	"github.com/ytmeta/ytmeta/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
