package main

import (
	"time"

	"github.com/urfave/cli/v2"
)

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable debug logging",
			EnvVars: []string{"VERBOSE"},
			Value:   false,
		},
		&cli.StringFlag{
			Name:    "rpc-url",
			Aliases: []string{"r"},
			Usage:   "Ethereum JSON-RPC endpoint URL",
			EnvVars: []string{"RPC_URL"},
			Value:   "https://eth.llamarpc.com",
		},
		&cli.Uint64Flag{
			Name:    "chain-id",
			Aliases: []string{"c"},
			Usage:   "Chain ID the RPC endpoint must serve",
			EnvVars: []string{"CHAIN_ID"},
			Value:   11155111,
		},
		&cli.Uint64Flag{
			Name:    "start-block",
			Aliases: []string{"s"},
			Usage:   "Block to start indexing from on a fresh database",
			EnvVars: []string{"START_BLOCK"},
			Value:   0,
		},
		&cli.StringFlag{
			Name:    "db-path",
			Aliases: []string{"d"},
			Usage:   "Path to the SQLite database file",
			EnvVars: []string{"DB_PATH"},
			Value:   "indexer.db",
		},
		&cli.StringFlag{
			Name:    "token-address",
			Aliases: []string{"t"},
			Usage:   "Restrict indexing to a single token contract (default: all tokens)",
			EnvVars: []string{"TOKEN_ADDRESS"},
			Value:   "",
		},
		&cli.Uint64Flag{
			Name:    "max-batch-span",
			Aliases: []string{"b"},
			Usage:   "Maximum number of blocks fetched per batch",
			EnvVars: []string{"MAX_BATCH_SPAN"},
			Value:   100,
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Aliases: []string{"i"},
			Usage:   "How long to wait for new blocks once caught up with the tip",
			EnvVars: []string{"POLL_INTERVAL"},
			Value:   12 * time.Second,
		},
		&cli.Uint64Flag{
			Name:    "fetch-attempts",
			Usage:   "Attempts per log fetch request before the cycle is aborted",
			EnvVars: []string{"FETCH_ATTEMPTS"},
			Value:   5,
		},
		&cli.DurationFlag{
			Name:    "backoff-max-delay",
			Usage:   "Upper bound on the delay between failed indexing cycles",
			EnvVars: []string{"BACKOFF_MAX_DELAY"},
			Value:   time.Minute,
		},
		&cli.IntFlag{
			Name:    "queue-depth",
			Usage:   "Capacity of the queues between pipeline stages",
			EnvVars: []string{"QUEUE_DEPTH"},
			Value:   3,
		},
		&cli.BoolFlag{
			Name:    "metrics-enabled",
			Usage:   "Enable the Prometheus metrics server",
			EnvVars: []string{"METRICS_ENABLED"},
			Value:   true,
		},
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "Host for the metrics server to listen on",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Usage:   "Port for the metrics server to listen on",
			EnvVars: []string{"METRICS_PORT"},
			Value:   8080,
		},
	}
}

func resetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Uint64Flag{
			Name:    "chain-id",
			Aliases: []string{"c"},
			Usage:   "Chain ID whose transfers and checkpoint will be deleted",
			EnvVars: []string{"CHAIN_ID"},
		},
		&cli.StringFlag{
			Name:    "db-path",
			Aliases: []string{"d"},
			Usage:   "Path to the SQLite database file",
			EnvVars: []string{"DB_PATH"},
			Value:   "indexer.db",
		},
	}
}
