package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"logScope/internal/filter"
)

// Query limit bounds. Out-of-range limits are request errors, never clamped.
const (
	MinQueryLimit = 1
	MaxQueryLimit = 100
)

// ErrInvalidLimit rejects limits outside [1, 100].
var ErrInvalidLimit = errors.New("limit must be between 1 and 100")

// LogQuery describes one range query against the log table. The block range
// is absolute; relative ranges are resolved by filter.ResolveRange before the
// query is built.
type LogQuery struct {
	Address   common.Address
	FromBlock uint64
	ToBlock   uint64
	Direction filter.Direction
	Topics    *filter.TopicFilter
	Limit     int
}

// buildLogQuery compiles a LogQuery into parameterized SQL. User input only
// ever travels through placeholders.
func buildLogQuery(q LogQuery) (string, []any, error) {
	if q.Limit < MinQueryLimit || q.Limit > MaxQueryLimit {
		return "", nil, ErrInvalidLimit
	}
	if q.ToBlock < q.FromBlock {
		return "", nil, filter.ErrInvalidRange
	}

	var sb strings.Builder
	sb.WriteString(`SELECT contract_address, block_number, log_index, tx_hash, data,
	       topic0, topic1, topic2, topic3
	FROM evm.logs
	WHERE contract_address = $1`)
	args := []any{q.Address.Bytes()}

	if q.FromBlock == q.ToBlock {
		sb.WriteString(fmt.Sprintf(" AND block_number = $%d", len(args)+1))
		args = append(args, int64(q.FromBlock))
	} else {
		sb.WriteString(fmt.Sprintf(" AND block_number BETWEEN $%d AND $%d", len(args)+1, len(args)+2))
		args = append(args, int64(q.FromBlock), int64(q.ToBlock))
	}

	if clause, topicArgs := q.Topics.SQL(len(args)); clause != "" {
		sb.WriteString(" AND ")
		sb.WriteString(clause)
		args = append(args, topicArgs...)
	}

	dir := q.Direction.String()
	sb.WriteString(fmt.Sprintf(" ORDER BY block_number %s, log_index %s", dir, dir))

	sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)+1))
	args = append(args, q.Limit)

	return sb.String(), args, nil
}
