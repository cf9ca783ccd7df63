package main

import (
	"os"

	"wabridge/cmd/wabridge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
