package chain

import (
	"testing"

	"github.com/emperorhan/nft-indexer/internal/domain/indexerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	const checksummed = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

	valid := []string{
		checksummed,
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED",
		"  " + checksummed + "\n",
	}
	for _, raw := range valid {
		got, err := ParseAddress(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, checksummed, got)
	}

	invalid := []string{
		"",
		"5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1bea",
		"0xzzaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed00",
	}
	for _, raw := range invalid {
		_, err := ParseAddress(raw)
		require.ErrorIs(t, err, indexerr.ErrInvalidAddress, raw)
	}
}
