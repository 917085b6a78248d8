package main

import (
	"fmt"
	"os"

	"github.com/JonMunkholm/immunoload/internal/cli"
	"github.com/JonMunkholm/immunoload/internal/config"
	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; values already in the environment win
	_ = godotenv.Load()

	if err := cli.NewRootCommand(config.Load).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
