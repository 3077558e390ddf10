package chain

import (
	"fmt"
	"strings"

	"github.com/emperorhan/nft-indexer/internal/domain/indexerr"
	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress validates a 0x-prefixed contract address and returns its
// EIP-55 checksummed form. All-lowercase and all-uppercase inputs are
// accepted; mixed-case input must carry a valid checksum.
func ParseAddress(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", indexerr.InvalidAddress(raw, fmt.Errorf("missing 0x prefix"))
	}
	if !common.IsHexAddress(s) {
		return "", indexerr.InvalidAddress(raw, fmt.Errorf("not a 20-byte hex address"))
	}

	addr := common.HexToAddress(s)
	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if addr.Hex() != "0x"+body {
			return "", indexerr.InvalidAddress(raw, fmt.Errorf("checksum mismatch"))
		}
	}
	return addr.Hex(), nil
}
