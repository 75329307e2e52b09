package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	cli "github.com/openclaw/companion/cmd/companion"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	if err := cli.SetupRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
