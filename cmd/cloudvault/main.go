package main

import (
	"os"

	"github.com/cloudvault/cloudvault/cmd/cloudvault/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
