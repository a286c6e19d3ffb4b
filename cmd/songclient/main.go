package main

import (
	"os"

	"github.com/cyberinferno/songstream/cmd/songclient/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintErr("Error: %v", err)
		os.Exit(1)
	}
}
