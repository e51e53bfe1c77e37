package transfers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/evertrace/transfer-indexer/internal/types"
	"github.com/evertrace/transfer-indexer/pkg/metrics"
)

// insertBatchSize keeps each INSERT under the SQLite bind variable limit.
const insertBatchSize = 500

// Repository is used to read and advance the per-chain checkpoint and to
// persist decoded transfers. Events and checkpoint always commit together.
type Repository interface {
	// SeedCheckpoint creates the checkpoint row at startBlock-1 if the chain
	// has none yet. An existing row is left untouched, so restarting with a
	// different start block never rewinds an indexed chain.
	SeedCheckpoint(ctx context.Context, chainID, startBlock uint64) error

	// LoadCheckpoint returns the persisted checkpoint for the chain.
	LoadCheckpoint(ctx context.Context, chainID uint64) (block int64, exists bool, err error)

	// Advance atomically inserts events and moves the checkpoint to r.To.
	// Events colliding on (chain_id, tx_hash, log_index) are skipped, and
	// the checkpoint never moves backwards, so replaying a range after a
	// crash is a no-op. On any error nothing is persisted.
	Advance(ctx context.Context, chainID uint64, r types.BlockRange, events []types.TransferEvent) error

	// DeleteChain removes all transfers and the checkpoint of a chain.
	DeleteChain(ctx context.Context, chainID uint64) error
}

var _ Repository = (*repository)(nil)

type repository struct {
	db      *gorm.DB
	metrics *metrics.Metrics
}

// NewRepository creates the sync and transfers tables if needed and returns
// a Repository backed by db. metrics may be nil.
func NewRepository(db *gorm.DB, metrics *metrics.Metrics) (Repository, error) {
	if err := db.AutoMigrate(&SyncStatus{}, &Transfer{}); err != nil {
		return nil, fmt.Errorf("migrate transfer tables: %w", err)
	}
	return &repository{db: db, metrics: metrics}, nil
}

func (r *repository) SeedCheckpoint(ctx context.Context, chainID, startBlock uint64) error {
	row := SyncStatus{ChainID: chainID, BlockNumber: int64(startBlock) - 1}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return fmt.Errorf("seed checkpoint: %w", result.Error)
	}

	if r.metrics != nil {
		block, exists, err := r.LoadCheckpoint(ctx, chainID)
		if err == nil && exists {
			r.metrics.SetCheckpoint(block)
		}
	}

	return nil
}

func (r *repository) LoadCheckpoint(ctx context.Context, chainID uint64) (int64, bool, error) {
	var row SyncStatus
	err := r.db.WithContext(ctx).First(&row, "chain_id = ?", chainID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load checkpoint: %w", err)
	}
	return row.BlockNumber, true, nil
}

func (r *repository) Advance(ctx context.Context, chainID uint64, br types.BlockRange, events []types.TransferEvent) error {
	rows := make([]Transfer, 0, len(events))
	for _, ev := range events {
		rows = append(rows, NewTransfer(ev))
	}

	start := time.Now()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).
				CreateInBatches(&rows, insertBatchSize)
			if result.Error != nil {
				return fmt.Errorf("insert transfers: %w", result.Error)
			}
		}

		// Upsert guarded so the checkpoint only ever moves forward.
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chain_id"}},
			DoUpdates: clause.Assignments(map[string]any{"block_number": int64(br.To)}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Lt{Column: clause.Column{Name: "block_number"}, Value: int64(br.To)},
			}},
		}).Create(&SyncStatus{ChainID: chainID, BlockNumber: int64(br.To)})
		if result.Error != nil {
			return fmt.Errorf("advance checkpoint: %w", result.Error)
		}

		return nil
	})

	if r.metrics != nil {
		r.metrics.RecordBatchPersist(err, time.Since(start).Seconds(), br.Span(), len(events))
		if err == nil {
			r.metrics.SetCheckpoint(int64(br.To))
		}
	}

	return err
}

func (r *repository) DeleteChain(ctx context.Context, chainID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chain_id = ?", chainID).Delete(&Transfer{}).Error; err != nil {
			return fmt.Errorf("delete transfers: %w", err)
		}
		if err := tx.Where("chain_id = ?", chainID).Delete(&SyncStatus{}).Error; err != nil {
			return fmt.Errorf("delete checkpoint: %w", err)
		}
		return nil
	})
}
