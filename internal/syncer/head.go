package syncer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// watchHead feeds chain head announcements into the latest-chain-block value.
// SetLatestChainBlock is a monotonic max, so reconnects and duplicate pushes
// from the feed cannot move the value backwards. An initial poll seeds the
// value so the query API has a head before the first announcement lands.
func (e *Engine) watchHead(ctx context.Context) error {
	current, err := e.blockNumberWithRetry(ctx)
	if err == nil {
		if _, err := e.checkpoints.SetLatestChainBlock(ctx, current); err != nil && ctx.Err() == nil {
			e.logger.Error("seed latest chain block failed", zap.Error(err))
		}
	} else if ctx.Err() != nil {
		return nil
	}

	ch := make(chan *types.Header, 16)
	sub, err := e.chain.SubscribeNewHead(ctx, ch)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe new heads: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-sub.Err():
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("head subscription dropped: %w", err)
			}
			return nil

		case header := <-ch:
			if header == nil || !header.Number.IsUint64() {
				continue
			}
			if _, err := e.checkpoints.SetLatestChainBlock(ctx, header.Number.Uint64()); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				e.logger.Error("update latest chain block failed",
					zap.Uint64("block_number", header.Number.Uint64()),
					zap.Error(err),
				)
			}
		}
	}
}
