package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/evertrace/transfer-indexer/pkg/data/sqlite/transfers"
	"github.com/evertrace/transfer-indexer/pkg/utils"
)

func reset(c *cli.Context) error {
	ctx := context.Background()

	sugar, err := utils.NewSugaredLogger(true)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	chainID := c.Uint64("chain-id")
	if chainID == 0 {
		return errors.New("chain ID is required")
	}

	db, err := transfers.Open(c.String("db-path"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	repo, err := transfers.NewRepository(db, nil)
	if err != nil {
		return fmt.Errorf("failed to create transfer repository: %w", err)
	}

	if err := repo.DeleteChain(ctx, chainID); err != nil {
		return fmt.Errorf("failed to delete indexed data: %w", err)
	}

	sugar.Infof("indexed transfers and checkpoint successfully removed for chain ID %d", chainID)

	return nil
}
