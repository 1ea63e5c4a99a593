package main

import (
	"os"

	"medical-ai-agent/cmd/server/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
