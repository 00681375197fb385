package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"logScope/internal/metrics"
	"logScope/internal/model"
)

// DefaultBatchSize is roughly one day of blocks at typical EVM block times.
// A pacing constant, not a correctness constant.
const DefaultBatchSize = 5760

// ChainClient is the chain provider boundary the engine syncs from.
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, addr common.Address, fromBlock, toBlock uint64) ([]types.Log, error)
	SubscribeLogs(ctx context.Context, addr common.Address, ch chan<- types.Log) (ethereum.Subscription, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// LogStore persists decoded logs idempotently.
type LogStore interface {
	UpsertLogs(ctx context.Context, logs []model.Log) error
}

// CheckpointStore persists per-contract historical cursors and the
// process-wide latest chain block.
type CheckpointStore interface {
	GetHistoricalCheckpoint(ctx context.Context, addr common.Address) (uint64, bool, error)
	SetHistoricalCheckpoint(ctx context.Context, addr common.Address, block uint64) error
	SetLatestChainBlock(ctx context.Context, block uint64) (uint64, error)
}

// Config holds engine tunables.
type Config struct {
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	return c
}

// Engine runs one historical+realtime sync pair per contract plus a chain
// head watcher. Historical and realtime sub-tasks for the same contract may
// double-insert the same log; idempotent storage absorbs the race.
type Engine struct {
	cfg         Config
	chain       ChainClient
	logs        LogStore
	checkpoints CheckpointStore
	logger      *zap.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewEngine(cfg Config, chain ChainClient, logs LogStore, checkpoints CheckpointStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:         cfg.withDefaults(),
		chain:       chain,
		logs:        logs,
		checkpoints: checkpoints,
		logger:      logger,
	}
}

// Start launches the sync tasks. It returns immediately; Stop cancels and
// joins them.
func (e *Engine) Start(ctx context.Context, contracts []model.Contract) error {
	if e.chain == nil {
		return fmt.Errorf("chain client is nil")
	}
	if e.logs == nil {
		return fmt.Errorf("log store is nil")
	}
	if e.checkpoints == nil {
		return fmt.Errorf("checkpoint store is nil")
	}
	if e.cancel != nil {
		return fmt.Errorf("engine already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.group = &errgroup.Group{}

	e.group.Go(func() error { return e.watchHead(ctx) })

	for _, contract := range contracts {
		contract := contract
		e.logger.Info("syncing contract",
			zap.String("name", contract.Name),
			zap.String("address", contract.Address.Hex()),
			zap.Uint64("creation_block", contract.CreationBlock),
		)
		e.group.Go(func() error { return e.syncHistorical(ctx, contract) })
		e.group.Go(func() error { return e.syncRealtime(ctx, contract) })
	}

	return nil
}

// Stop cancels all sync tasks and waits for them to finish. No further
// writes occur once Stop returns. The returned error is the first task
// failure, if any.
func (e *Engine) Stop() error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	return e.group.Wait()
}

// syncHistorical backfills from the checkpoint (or the creation block) up to
// the chain height observed at sweep start, one batch at a time. The height
// is deliberately not re-read mid-loop: newer blocks belong to the realtime
// sub-task.
func (e *Engine) syncHistorical(ctx context.Context, c model.Contract) error {
	current, err := e.blockNumberWithRetry(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%s: get current block: %w", c.Name, err)
	}

	from, ok, err := e.checkpoints.GetHistoricalCheckpoint(ctx, c.Address)
	if err != nil {
		return fmt.Errorf("%s: read checkpoint: %w", c.Name, err)
	}
	if !ok || from < c.CreationBlock {
		from = c.CreationBlock
	}

	to := min(from+e.cfg.BatchSize, current)
	if from >= to {
		e.logger.Info("historical sync already caught up",
			zap.String("address", c.Address.Hex()),
			zap.Uint64("from", from),
			zap.Uint64("current", current),
		)
		return nil
	}

	synced := uint64(0)
	for from < to {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		e.logger.Debug("querying logs",
			zap.String("address", c.Address.Hex()),
			zap.Uint64("from", from),
			zap.Uint64("to", to),
			zap.Uint64("current", current),
		)

		// Batches cover [from, to); FilterLogs is inclusive on both ends.
		logs, err := e.filterLogsWithRetry(ctx, c.Address, from, to-1)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: filter logs [%d, %d): %w", c.Name, from, to, err)
		}

		if len(logs) > 0 {
			records, err := model.FromChainLogs(logs)
			if err != nil {
				return fmt.Errorf("%s: %w", c.Name, err)
			}
			if err := e.logs.UpsertLogs(ctx, records); err != nil {
				return fmt.Errorf("%s: store batch [%d, %d): %w", c.Name, from, to, err)
			}
		}

		// The checkpoint only advances after the batch fully committed, so
		// a crash mid-batch resumes from the last committed boundary.
		if err := e.checkpoints.SetHistoricalCheckpoint(ctx, c.Address, to); err != nil {
			return fmt.Errorf("%s: advance checkpoint to %d: %w", c.Name, to, err)
		}

		metrics.SyncBatches.Inc()
		synced += to - from
		from = to
		to = min(from+e.cfg.BatchSize, current)
	}

	e.logger.Info("historical sync complete",
		zap.String("address", c.Address.Hex()),
		zap.Uint64("blocks", synced),
		zap.Uint64("current", current),
	)
	return nil
}

// syncRealtime tails the live log feed for the contract. Realtime inserts
// never touch the historical checkpoint: a live log can arrive before the
// historical sweep reaches its block, and bumping the checkpoint here would
// let the sweep skip it.
func (e *Engine) syncRealtime(ctx context.Context, c model.Contract) error {
	ch := make(chan types.Log, 64)
	sub, err := e.chain.SubscribeLogs(ctx, c.Address, ch)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%s: subscribe logs: %w", c.Name, err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-sub.Err():
			if err != nil && ctx.Err() == nil {
				// Reconnecting is the provider's job, not ours.
				return fmt.Errorf("%s: log subscription dropped: %w", c.Name, err)
			}
			return nil

		case l := <-ch:
			record, err := model.FromChainLog(l)
			if err != nil {
				e.logger.Warn("dropping malformed realtime log", zap.String("address", c.Address.Hex()), zap.Error(err))
				continue
			}
			if err := e.logs.UpsertLogs(ctx, []model.Log{record}); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				e.logger.Error("realtime insert failed",
					zap.String("address", c.Address.Hex()),
					zap.Uint64("block_number", record.BlockNumber),
					zap.Uint("log_index", record.LogIndex),
					zap.Error(err),
				)
			}
		}
	}
}

func (e *Engine) blockNumberWithRetry(ctx context.Context) (uint64, error) {
	var number uint64
	err := withRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		number, err = e.chain.BlockNumber(ctx)
		if err != nil {
			metrics.RPCRetries.Inc()
			e.logger.Warn("block number fetch failed", zap.Error(err))
		}
		return err
	})
	return number, err
}

func (e *Engine) filterLogsWithRetry(ctx context.Context, addr common.Address, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = e.chain.FilterLogs(ctx, addr, fromBlock, toBlock)
		if err != nil {
			metrics.RPCRetries.Inc()
			e.logger.Warn("filter logs failed",
				zap.Error(err),
				zap.String("address", addr.Hex()),
				zap.Uint64("from", fromBlock),
				zap.Uint64("to", toBlock),
			)
		}
		return err
	})
	return logs, err
}
