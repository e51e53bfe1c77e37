package decoder

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/evertrace/transfer-indexer/internal/types"
	"github.com/evertrace/transfer-indexer/pkg/utils"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)"), the topic0
// of every ERC20 transfer log.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var (
	// ErrNotTransfer marks logs whose topic signature is not the ERC20
	// transfer event. Callers skip these silently; the upstream topic
	// filter is a hint, not a guarantee.
	ErrNotTransfer = errors.New("not an erc20 transfer log")

	// ErrMalformedLog marks logs that carry the transfer topic but whose
	// topics or data do not decode. Callers log and skip these.
	ErrMalformedLog = errors.New("malformed transfer log")
)

// erc20ABI covers the single event the indexer consumes.
const erc20ABI = `[{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}]`

// Decoder converts raw logs into transfer events for one chain.
type Decoder struct {
	chainID uint64
	erc20   abi.ABI
}

// New creates a decoder that stamps decoded events with chainID.
func New(chainID uint64) (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &Decoder{chainID: chainID, erc20: parsed}, nil
}

// Decode converts a raw log into a TransferEvent. Logs without the transfer
// topic return ErrNotTransfer; transfer-topic logs with invalid encoding
// return an error wrapping ErrMalformedLog. Decoding is pure: the same log
// always yields the same outcome.
func (d *Decoder) Decode(lg ethtypes.Log) (types.TransferEvent, error) {
	if len(lg.Topics) == 0 || lg.Topics[0] != TransferTopic {
		return types.TransferEvent{}, ErrNotTransfer
	}

	// ERC20 transfers index exactly the from and to addresses. ERC721
	// transfers share the same signature hash but also index the token ID,
	// so topic count separates the two.
	if len(lg.Topics) != 3 {
		return types.TransferEvent{}, fmt.Errorf("%w: %d topics", ErrMalformedLog, len(lg.Topics))
	}

	from, err := utils.TopicToAddress(lg.Topics[1])
	if err != nil {
		return types.TransferEvent{}, fmt.Errorf("%w: from topic: %v", ErrMalformedLog, err)
	}
	to, err := utils.TopicToAddress(lg.Topics[2])
	if err != nil {
		return types.TransferEvent{}, fmt.Errorf("%w: to topic: %v", ErrMalformedLog, err)
	}

	if len(lg.Data) != 32 {
		return types.TransferEvent{}, fmt.Errorf("%w: %d data bytes", ErrMalformedLog, len(lg.Data))
	}
	vals, err := d.erc20.Unpack("Transfer", lg.Data)
	if err != nil {
		return types.TransferEvent{}, fmt.Errorf("%w: unpack value: %v", ErrMalformedLog, err)
	}
	value, ok := vals[0].(*big.Int)
	if !ok {
		return types.TransferEvent{}, fmt.Errorf("%w: value decoded as %T", ErrMalformedLog, vals[0])
	}

	return types.TransferEvent{
		ChainID:      d.chainID,
		BlockNumber:  lg.BlockNumber,
		TxHash:       lg.TxHash,
		TokenAddress: lg.Address,
		From:         from,
		To:           to,
		Value:        value,
		LogIndex:     lg.Index,
	}, nil
}
