package utils

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicToAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   common.Hash
		want    common.Address
		wantErr bool
	}{
		{
			name:    "left-padded address",
			input:   common.HexToHash("0x0000000000000000000000004142434445464748494a4b4c4d4e4f5051525354"),
			want:    common.HexToAddress("0x4142434445464748494a4b4c4d4e4f5051525354"),
			wantErr: false,
		},
		{
			name:    "zero address",
			input:   common.Hash{},
			want:    common.Address{},
			wantErr: false,
		},
		{
			name:    "nonzero byte in padding",
			input:   common.HexToHash("0x0100000000000000000000004142434445464748494a4b4c4d4e4f5051525354"),
			wantErr: true,
		},
		{
			name:    "all padding bytes set",
			input:   common.HexToHash("0xffffffffffffffffffffffff4142434445464748494a4b4c4d4e4f5051525354"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TopicToAddress(tt.input)
			if tt.wantErr {
				require.True(t, errors.Is(err, ErrNotAnAddress), "expected ErrNotAnAddress, got: %v", err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    common.Address
		wantErr bool
	}{
		{
			name:    "with 0x prefix",
			input:   "0x1f9840a85d5af5bf1d1762f925bdaddc4201f984",
			want:    common.HexToAddress("0x1f9840a85d5af5bf1d1762f925bdaddc4201f984"),
			wantErr: false,
		},
		{
			name:    "without 0x prefix",
			input:   "1f9840a85d5af5bf1d1762f925bdaddc4201f984",
			want:    common.HexToAddress("0x1f9840a85d5af5bf1d1762f925bdaddc4201f984"),
			wantErr: false,
		},
		{
			name:    "checksummed input",
			input:   "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984",
			want:    common.HexToAddress("0x1f9840a85d5af5bf1d1762f925bdaddc4201f984"),
			wantErr: false,
		},
		{
			name:    "too short",
			input:   "0x1234",
			wantErr: true,
		},
		{
			name:    "too long",
			input:   "0x1f9840a85d5af5bf1d1762f925bdaddc4201f98400",
			wantErr: true,
		},
		{
			name:    "invalid hex characters",
			input:   "0xzz9840a85d5af5bf1d1762f925bdaddc4201f984",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestLowerHex(t *testing.T) {
	addr := common.HexToAddress("0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984")
	assert.Equal(t, "0x1f9840a85d5af5bf1d1762f925bdaddc4201f984", LowerHex(addr.Bytes()))

	hash := common.HexToHash("0xDDF252AD1BE2C89B69C2B068FC378DAA952BA7F163C4A11628F55A4DF523B3EF")
	assert.Equal(t, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", LowerHex(hash.Bytes()))

	assert.Equal(t, "0x", LowerHex(nil))
}
