package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "transferindexer",
		Usage: "Index ERC20 transfer events from an RPC endpoint into SQLite",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the transfer indexer",
				Flags:  runFlags(),
				Action: run,
			},
			{
				Name:   "reset",
				Usage:  "Delete all indexed transfers and the checkpoint of a chain",
				Flags:  resetFlags(),
				Action: reset,
			},
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
