package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/docanvil/docanvil/cmd/docanvil/commands"
)

func main() {
	// A missing .env is fine; flags and real env vars still apply.
	_ = godotenv.Load()

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
