package model

import (
	"fmt"
	"strings"
)

type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkSepolia Network = "sepolia"
	NetworkPolygon Network = "polygon"
)

func (n Network) String() string {
	return string(n)
}

// ChainID is the EIP-155 chain id served by n, or 0 when unknown.
func (n Network) ChainID() int64 {
	switch n {
	case NetworkMainnet:
		return 1
	case NetworkSepolia:
		return 11155111
	case NetworkPolygon:
		return 137
	default:
		return 0
	}
}

// TokenStandard selects the ABI surface used to read a contract.
type TokenStandard string

const (
	StandardERC721  TokenStandard = "erc721"
	StandardERC1155 TokenStandard = "erc1155"
)

func (s TokenStandard) String() string {
	return string(s)
}

// ParseTokenStandard accepts "erc721"/"721" and "erc1155"/"1155" in any case.
// An empty value defaults to ERC-721.
func ParseTokenStandard(raw string) (TokenStandard, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "erc721", "721":
		return StandardERC721, nil
	case "erc1155", "1155":
		return StandardERC1155, nil
	default:
		return "", fmt.Errorf("unknown token standard %q", raw)
	}
}

// HasENS reports whether the ENS registry is deployed on n.
func (n Network) HasENS() bool {
	return n == NetworkMainnet || n == NetworkSepolia
}
