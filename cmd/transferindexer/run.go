package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/evertrace/transfer-indexer/internal/chainclient/geth"
	"github.com/evertrace/transfer-indexer/internal/decoder"
	"github.com/evertrace/transfer-indexer/internal/fetcher"
	"github.com/evertrace/transfer-indexer/internal/pipeline"
	"github.com/evertrace/transfer-indexer/pkg/data/sqlite/transfers"
	"github.com/evertrace/transfer-indexer/pkg/metrics"
	"github.com/evertrace/transfer-indexer/pkg/utils"
)

const metricsShutdownTimeout = 5 * time.Second

func run(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"rpcURL", cfg.RPCURL,
		"chainID", cfg.ChainID,
		"startBlock", cfg.StartBlock,
		"tokens", cfg.Tokens,
		"dbPath", cfg.DBPath,
		"maxBatchSpan", cfg.MaxBatchSpan,
		"pollInterval", cfg.PollInterval,
		"fetchAttempts", cfg.FetchAttempts,
		"maxBackoff", cfg.MaxBackoff,
		"queueDepth", cfg.QueueDepth,
		"metricsEnabled", cfg.MetricsEnabled,
		"metricsAddr", cfg.MetricsAddr(),
	)

	var tokenLabel string
	if len(cfg.Tokens) > 0 {
		tokenLabel = utils.LowerHex(cfg.Tokens[0].Bytes())
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{
		ChainID:      cfg.ChainID,
		TokenAddress: tokenLabel,
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	var metricsServer *metrics.Server
	var metricsErrCh <-chan error
	if cfg.MetricsEnabled {
		metricsServer = metrics.NewServer(cfg.MetricsAddr(), registry)
		metricsErrCh = metricsServer.Start()
		sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := geth.New(ctx, cfg.RPCURL, geth.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to dial rpc endpoint: %w", err)
	}
	defer client.Close()

	// Refuse to mix chains in one database.
	gotChainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain id: %w", err)
	}
	if gotChainID != cfg.ChainID {
		return fmt.Errorf("chain id mismatch: rpc endpoint reports %d, configured %d", gotChainID, cfg.ChainID)
	}

	db, err := transfers.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	repo, err := transfers.NewRepository(db, m)
	if err != nil {
		return fmt.Errorf("failed to create transfer repository: %w", err)
	}

	if err := repo.SeedCheckpoint(ctx, cfg.ChainID, cfg.StartBlock); err != nil {
		return fmt.Errorf("failed to seed checkpoint: %w", err)
	}

	dec, err := decoder.New(cfg.ChainID)
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	f := fetcher.New(client, decoder.TransferTopic, cfg.Tokens, cfg.FetchAttempts, sugar, m)

	pipe := pipeline.New(pipeline.Config{
		ChainID:      cfg.ChainID,
		StartBlock:   cfg.StartBlock,
		MaxBatchSpan: cfg.MaxBatchSpan,
		PollInterval: cfg.PollInterval,
		MaxBackoff:   cfg.MaxBackoff,
		QueueDepth:   cfg.QueueDepth,
	}, client, f, dec, repo, sugar, m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipe.Run(gctx)
	})
	if metricsErrCh != nil {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case err := <-metricsErrCh:
				if err != nil {
					return fmt.Errorf("metrics server failed: %w", err)
				}
				return nil
			}
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		sugar.Infow("exiting due to context cancellation")
		err = nil
	} else if err != nil {
		sugar.Errorw("run failed", "error", err)
	}

	if metricsServer != nil {
		sugar.Info("shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if serr := metricsServer.Shutdown(shutdownCtx); serr != nil {
			sugar.Warnw("metrics server shutdown error", "error", serr)
		}
	}

	sugar.Info("shutdown complete")
	return err
}
