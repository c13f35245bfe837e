package main

import (
	"os"

	"github.com/angelmondragon/akua-anchor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
