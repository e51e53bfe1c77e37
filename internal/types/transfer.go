package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransferEvent is a single decoded ERC20 Transfer log. Events are value
// objects: created by the decoder, written by the store, never mutated.
type TransferEvent struct {
	ChainID      uint64
	BlockNumber  uint64
	TxHash       common.Hash
	TokenAddress common.Address
	From         common.Address
	To           common.Address
	Value        *big.Int
	LogIndex     uint
}

// BlockRange is an inclusive span of block numbers.
type BlockRange struct {
	From uint64
	To   uint64
}

// Span returns the number of blocks the range covers.
func (r BlockRange) Span() uint64 {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}
