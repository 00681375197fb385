package model

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// LogEvent is the wire form of a committed log insert as carried on the
// store's notification channel. Postgres caps notification payloads at 8000
// bytes, so oversized event data is elided and Truncated is set; consumers
// re-read the row by its identity triple.
type LogEvent struct {
	Address     string     `json:"address"`
	BlockNumber uint64     `json:"block_number"`
	LogIndex    uint       `json:"log_index"`
	TxHash      string     `json:"tx_hash"`
	Data        *string    `json:"data"`
	Topics      [4]*string `json:"topics"`
	Truncated   bool       `json:"truncated,omitempty"`
}

// MaxEventDataBytes bounds the raw data carried inline in a notification
// payload. Hex encoding doubles it, leaving headroom under the Postgres
// 8000-byte payload cap.
const MaxEventDataBytes = 3584

// NewLogEvent encodes a log for the notification channel.
func NewLogEvent(l Log) LogEvent {
	ev := LogEvent{
		Address:     l.Address.Hex(),
		BlockNumber: l.BlockNumber,
		LogIndex:    l.LogIndex,
		TxHash:      l.TxHash.Hex(),
	}
	if len(l.Data) <= MaxEventDataBytes {
		data := hexutil.Encode(l.Data)
		ev.Data = &data
	} else {
		ev.Truncated = true
	}
	for i, topic := range l.Topics {
		if topic != nil {
			hex := topic.Hex()
			ev.Topics[i] = &hex
		}
	}
	return ev
}

// Marshal renders the event as the notification payload.
func (e LogEvent) Marshal() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal log event: %w", err)
	}
	return string(raw), nil
}

// DecodeLogEvent parses a raw notification payload.
func DecodeLogEvent(payload string) (LogEvent, error) {
	var ev LogEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return LogEvent{}, fmt.Errorf("decode log event: %w", err)
	}
	return ev, nil
}

// Log converts the event back into a Log. When Truncated is set, Data is nil
// and the caller is expected to re-fetch the full row.
func (e LogEvent) Log() (Log, error) {
	if !common.IsHexAddress(e.Address) {
		return Log{}, fmt.Errorf("log event has invalid address %q", e.Address)
	}

	out := Log{
		Address:     common.HexToAddress(e.Address),
		BlockNumber: e.BlockNumber,
		LogIndex:    e.LogIndex,
		TxHash:      common.HexToHash(e.TxHash),
	}

	if e.Data != nil {
		data, err := hexutil.Decode(*e.Data)
		if err != nil {
			return Log{}, fmt.Errorf("log event data: %w", err)
		}
		out.Data = data
	}

	if e.Topics[0] == nil {
		return Log{}, fmt.Errorf("log event is missing topic0")
	}
	for i, topic := range e.Topics {
		if topic == nil {
			continue
		}
		raw, err := hexutil.Decode(*topic)
		if err != nil || len(raw) != common.HashLength {
			return Log{}, fmt.Errorf("log event topic%d %q is not a 32-byte value", i, *topic)
		}
		hash := common.BytesToHash(raw)
		out.Topics[i] = &hash
	}

	return out, nil
}
