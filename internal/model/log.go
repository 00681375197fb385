package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Log is one emitted contract event. The triple (Address, BlockNumber,
// LogIndex) uniquely identifies a log; re-inserting the same triple is a
// no-op at the storage layer.
type Log struct {
	Address     common.Address
	BlockNumber uint64
	LogIndex    uint
	TxHash      common.Hash
	Data        []byte
	// Topics holds up to 4 indexed values. Slot 0 is always the event
	// signature; slots 1-3 are nil when absent.
	Topics [4]*common.Hash
}

// FromChainLog normalizes a go-ethereum log into the storage representation.
func FromChainLog(l types.Log) (Log, error) {
	if len(l.Topics) == 0 || len(l.Topics) > 4 {
		return Log{}, fmt.Errorf("log %s %d/%d has %d topics", l.Address, l.BlockNumber, l.Index, len(l.Topics))
	}

	out := Log{
		Address:     l.Address,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
		TxHash:      l.TxHash,
		Data:        l.Data,
	}
	for i := range l.Topics {
		topic := l.Topics[i]
		out.Topics[i] = &topic
	}
	return out, nil
}

// FromChainLogs converts a batch, rejecting the whole batch on a malformed log.
func FromChainLogs(logs []types.Log) ([]Log, error) {
	out := make([]Log, 0, len(logs))
	for _, l := range logs {
		rec, err := FromChainLog(l)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
