package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"logScope/internal/model"
)

type contractEntry struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	CreationBlock uint64 `json:"creationBlock"`
}

// LoadContracts reads and validates the contract registry file: a JSON array
// of {name, address, creationBlock}. Any malformed entry is a fatal
// configuration error.
func LoadContracts(path string) ([]model.Contract, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contracts file: %w", err)
	}

	var entries []contractEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse contracts file: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("contracts file %s lists no contracts", path)
	}

	contracts := make([]model.Contract, 0, len(entries))
	seen := make(map[common.Address]string, len(entries))
	for _, entry := range entries {
		if entry.Address == "" {
			return nil, fmt.Errorf("missing address for contract %q", entry.Name)
		}
		if !common.IsHexAddress(entry.Address) {
			return nil, fmt.Errorf("invalid address %q for contract %q", entry.Address, entry.Name)
		}
		if entry.CreationBlock < 1 {
			return nil, fmt.Errorf("invalid creationBlock %d for contract %q", entry.CreationBlock, entry.Name)
		}

		addr := common.HexToAddress(entry.Address)
		if prev, ok := seen[addr]; ok {
			return nil, fmt.Errorf("contract %q duplicates address of %q", entry.Name, prev)
		}
		seen[addr] = entry.Name

		contracts = append(contracts, model.Contract{
			Name:          entry.Name,
			Address:       addr,
			CreationBlock: entry.CreationBlock,
		})
	}

	return contracts, nil
}
