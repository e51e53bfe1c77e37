package utils

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotAnAddress is returned when an indexed event topic carries more than
// 20 bytes of address data.
var ErrNotAnAddress = errors.New("topic is not a left-padded address")

// TopicToAddress extracts the address from an indexed event topic. Indexed
// address parameters are left-padded to 32 bytes; a nonzero byte in the
// padding means the topic does not encode an address.
func TopicToAddress(topic common.Hash) (common.Address, error) {
	for _, b := range topic[:common.HashLength-common.AddressLength] {
		if b != 0 {
			return common.Address{}, fmt.Errorf("%w: %s", ErrNotAnAddress, topic.Hex())
		}
	}
	return common.BytesToAddress(topic[common.HashLength-common.AddressLength:]), nil
}

// ParseAddress parses a 40-hex-digit address string (0x prefix optional).
// Unlike common.HexToAddress it rejects malformed input instead of silently
// truncating or padding it.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// LowerHex renders b as lowercase 0x-prefixed hex. Addresses are stored
// lowercased so lookups don't depend on EIP-55 checksum casing.
func LowerHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
