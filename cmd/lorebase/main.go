// Package main provides the entry point for the lorebase CLI.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/lorekeep/lorebase/cmd/lorebase/cmd"
)

func main() {
	// A .env in the working directory may carry API keys and overrides.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
