package model

import "github.com/ethereum/go-ethereum/common"

// Contract is a statically configured contract to index. Immutable for the
// lifetime of the process.
type Contract struct {
	Name    string
	Address common.Address
	// CreationBlock is the first block at which the contract can have logs.
	// Always >= 1.
	CreationBlock uint64
}
