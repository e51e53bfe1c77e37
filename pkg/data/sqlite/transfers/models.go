package transfers

import (
	"github.com/evertrace/transfer-indexer/internal/types"
	"github.com/evertrace/transfer-indexer/pkg/utils"
)

// SyncStatus is the per-chain checkpoint row: the highest block whose logs
// are fully persisted. It starts at the configured start block minus one,
// which is -1 when indexing from genesis, and only moves forward, in the
// same transaction as the transfers that cover it.
type SyncStatus struct {
	ChainID     uint64 `gorm:"column:chain_id;primaryKey;autoIncrement:false"`
	BlockNumber int64  `gorm:"column:block_number;not null"`
}

func (SyncStatus) TableName() string {
	return "sync"
}

// Transfer is one decoded transfer log. (chain_id, tx_hash, log_index) is
// the natural key, so replaying an already persisted range inserts nothing.
// Addresses are stored as lowercase 0x-prefixed hex; the value keeps its
// full uint256 precision as a decimal string.
type Transfer struct {
	ChainID      uint64 `gorm:"column:chain_id;primaryKey;autoIncrement:false;index:idx_transfers_chain_block,priority:1;index:idx_transfers_chain_token,priority:1"`
	BlockNumber  uint64 `gorm:"column:block_number;not null;index:idx_transfers_chain_block,priority:2"`
	TxHash       string `gorm:"column:tx_hash;primaryKey;size:66"`
	TokenAddress string `gorm:"column:token_address;size:42;not null;index:idx_transfers_chain_token,priority:2"`
	FromAddr     string `gorm:"column:from_addr;size:42;not null;index"`
	ToAddr       string `gorm:"column:to_addr;size:42;not null;index"`
	Value        string `gorm:"column:value;size:78;not null"`
	LogIndex     uint   `gorm:"column:log_index;primaryKey;autoIncrement:false"`
}

func (Transfer) TableName() string {
	return "transfers"
}

// NewTransfer maps a decoded event onto its storage row.
func NewTransfer(ev types.TransferEvent) Transfer {
	return Transfer{
		ChainID:      ev.ChainID,
		BlockNumber:  ev.BlockNumber,
		TxHash:       ev.TxHash.Hex(),
		TokenAddress: utils.LowerHex(ev.TokenAddress.Bytes()),
		FromAddr:     utils.LowerHex(ev.From.Bytes()),
		ToAddr:       utils.LowerHex(ev.To.Bytes()),
		Value:        ev.Value.String(),
		LogIndex:     ev.LogIndex,
	}
}
