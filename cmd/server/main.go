package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/veritas-care/evv/config"
)

var (
	Version = "v0.1.0"
	Commit  = "none"
	Date    = "unknown"
)

func main() {
	// a local .env is a development convenience; absence is not an error
	if err := godotenv.Load(); err == nil {
		fmt.Println("loaded .env file")
	}

	app := cli.NewApp()
	app.Name = "evv-server"
	app.Usage = "Electronic Visit Verification core service"
	app.Description = "Captures and verifies home-care visit clock events, reconciles offline sync batches and submits records to state-designated aggregators"
	app.Version = fmt.Sprintf("%s-%s-%s", Version, Commit, Date)
	app.Flags = config.CLIFlags()
	app.Action = StartEVVServer

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "application failed: %v\n", err)
		os.Exit(1)
	}
}
