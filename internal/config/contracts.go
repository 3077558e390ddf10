package config

import (
	"fmt"
	"os"

	"github.com/emperorhan/nft-indexer/internal/domain/model"
	"gopkg.in/yaml.v3"
)

// ContractEntry is one contract of a batch file.
type ContractEntry struct {
	Address  string              `yaml:"address"`
	Standard model.TokenStandard `yaml:"-"`
	TokenIDs []int64             `yaml:"token_ids"`
	Orders   bool                `yaml:"orders"`

	RawStandard string `yaml:"standard"`
}

type contractsFile struct {
	Contracts []ContractEntry `yaml:"contracts"`
}

// LoadContracts parses a YAML batch file:
//
//	contracts:
//	  - address: 0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D
//	    standard: erc721
//	    orders: true
func LoadContracts(path string) ([]ContractEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contracts file: %w", err)
	}
	return ParseContracts(raw)
}

func ParseContracts(raw []byte) ([]ContractEntry, error) {
	var file contractsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse contracts file: %w", err)
	}
	if len(file.Contracts) == 0 {
		return nil, fmt.Errorf("contracts file lists no contracts")
	}
	for i := range file.Contracts {
		entry := &file.Contracts[i]
		if entry.Address == "" {
			return nil, fmt.Errorf("contracts[%d]: address is required", i)
		}
		std, err := model.ParseTokenStandard(entry.RawStandard)
		if err != nil {
			return nil, fmt.Errorf("contracts[%d]: %w", i, err)
		}
		entry.Standard = std
		if std == model.StandardERC1155 && len(entry.TokenIDs) == 0 {
			return nil, fmt.Errorf("contracts[%d]: erc1155 entries need token_ids", i)
		}
	}
	return file.Contracts, nil
}
