package store

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"logScope/internal/metrics"
	"logScope/internal/model"
)

// NotifyChannel is the fixed Postgres notification channel for committed log
// inserts.
const NotifyChannel = "logscope_logs"

// Store provides idempotent log persistence and range queries on Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const insertLogSQL = `
	INSERT INTO evm.logs (
		contract_address, block_number, log_index, tx_hash, data,
		topic0, topic1, topic2, topic3
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (contract_address, block_number, log_index) DO NOTHING
`

// UpsertLogs inserts logs one transaction at a time. Duplicate identity
// triples are silent no-ops and emit no notification; a mid-batch failure
// leaves the already-committed logs in place, so retrying from the same
// fromBlock is safe.
func (s *Store) UpsertLogs(ctx context.Context, logs []model.Log) error {
	for _, l := range logs {
		if err := s.upsertLog(ctx, l); err != nil {
			return fmt.Errorf("upsert log %s %d/%d: %w", l.Address, l.BlockNumber, l.LogIndex, err)
		}
	}
	return nil
}

func (s *Store) upsertLog(ctx context.Context, l model.Log) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, insertLogSQL,
		l.Address.Bytes(),
		int64(l.BlockNumber),
		int64(l.LogIndex),
		l.TxHash.Bytes(),
		l.Data,
		topicText(l.Topics[0]),
		topicText(l.Topics[1]),
		topicText(l.Topics[2]),
		topicText(l.Topics[3]),
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		metrics.LogsDuplicate.Inc()
		return tx.Commit(ctx)
	}

	// Notify inside the insert's transaction so the event fires only for
	// commits of genuinely new rows.
	payload, err := model.NewLogEvent(l).Marshal()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	metrics.LogsInserted.Inc()
	s.logger.Debug("inserted log",
		zap.String("address", l.Address.Hex()),
		zap.Uint64("block_number", l.BlockNumber),
		zap.Uint("log_index", l.LogIndex),
	)
	return nil
}

// QueryLogs returns logs for a contract within the absolute block range,
// filtered by topics, ordered by (block_number, log_index) in the given
// direction and bounded by limit.
func (s *Store) QueryLogs(ctx context.Context, q LogQuery) ([]model.Log, error) {
	sql, args, err := buildLogQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	return scanLogs(rows)
}

// GetLog fetches a single log by its identity triple.
func (s *Store) GetLog(ctx context.Context, addr common.Address, blockNumber uint64, logIndex uint) (model.Log, bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT contract_address, block_number, log_index, tx_hash, data,
		       topic0, topic1, topic2, topic3
		FROM evm.logs
		WHERE contract_address = $1 AND block_number = $2 AND log_index = $3
	`, addr.Bytes(), int64(blockNumber), int64(logIndex))
	if err != nil {
		return model.Log{}, false, fmt.Errorf("get log: %w", err)
	}
	defer rows.Close()

	logs, err := scanLogs(rows)
	if err != nil {
		return model.Log{}, false, err
	}
	if len(logs) == 0 {
		return model.Log{}, false, nil
	}
	return logs[0], true, nil
}

func scanLogs(rows pgx.Rows) ([]model.Log, error) {
	var out []model.Log
	for rows.Next() {
		var (
			addr, txHash, data []byte
			blockNumber        int64
			logIndex           int64
			topics             [4]*string
		)
		if err := rows.Scan(&addr, &blockNumber, &logIndex, &txHash, &data,
			&topics[0], &topics[1], &topics[2], &topics[3]); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}

		l := model.Log{
			Address:     common.BytesToAddress(addr),
			BlockNumber: uint64(blockNumber),
			LogIndex:    uint(logIndex),
			TxHash:      common.BytesToHash(txHash),
			Data:        data,
		}
		for i, topic := range topics {
			if topic == nil {
				continue
			}
			hash := common.HexToHash(*topic)
			l.Topics[i] = &hash
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	return out, nil
}

func topicText(topic *common.Hash) *string {
	if topic == nil {
		return nil
	}
	hex := topic.Hex()
	return &hex
}
