package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// setMax compares the stored value to the argument and keeps whichever is
// larger, returning the resulting stored value. Running it as a Lua script
// keeps the compare-and-store atomic in a single round-trip.
var setMaxScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
  return tonumber(current)
end
redis.call("SET", KEYS[1], ARGV[1])
return tonumber(ARGV[1])
`)

// Store is the Redis-backed checkpoint store: per-contract historical sync
// cursors, the process-wide latest chain block, and a block timestamp cache.
// All keys live under a prefix taken from the ?prefix= query parameter of the
// Redis URL.
type Store struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, redisURL string) (*Store, error) {
	addr, prefix, err := splitPrefix(redisURL)
	if err != nil {
		return nil, err
	}

	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Store{client: client, prefix: prefix}, nil
}

// splitPrefix pulls the key prefix out of the URL so the remainder parses as
// a plain Redis URL.
func splitPrefix(redisURL string) (string, string, error) {
	u, err := url.Parse(redisURL)
	if err != nil {
		return "", "", fmt.Errorf("parse redis url: %w", err)
	}

	query := u.Query()
	prefix := query.Get("prefix")
	query.Del("prefix")
	u.RawQuery = query.Encode()

	return u.String(), prefix, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) checkpointKey(addr common.Address) string {
	return fmt.Sprintf("%scontract:%s:latestSyncedHistoricalLogBlock", s.prefix, strings.ToLower(addr.Hex()))
}

func (s *Store) latestBlockKey() string {
	return s.prefix + "latestBlockNumber"
}

func (s *Store) blockTimestampKey(number uint64) string {
	return fmt.Sprintf("%sblock:%d:timestamp", s.prefix, number)
}

// GetHistoricalCheckpoint returns the highest block confirmed fully
// backfilled for a contract. The second return is false when the contract
// has never been synced.
func (s *Store) GetHistoricalCheckpoint(ctx context.Context, addr common.Address) (uint64, bool, error) {
	val, err := s.client.Get(ctx, s.checkpointKey(addr)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get checkpoint: %w", err)
	}

	block, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse checkpoint %q: %w", val, err)
	}
	return block, true, nil
}

// SetHistoricalCheckpoint overwrites the checkpoint unconditionally; the sync
// engine only ever writes monotonically increasing values.
func (s *Store) SetHistoricalCheckpoint(ctx context.Context, addr common.Address, block uint64) error {
	if err := s.client.Set(ctx, s.checkpointKey(addr), strconv.FormatUint(block, 10), 0).Err(); err != nil {
		return fmt.Errorf("set checkpoint: %w", err)
	}
	return nil
}

// SetMax atomically stores the larger of the current and proposed values and
// returns the value now stored.
func (s *Store) SetMax(ctx context.Context, key string, value uint64) (uint64, error) {
	res, err := setMaxScript.Run(ctx, s.client, []string{key}, strconv.FormatUint(value, 10)).Int64()
	if err != nil {
		return 0, fmt.Errorf("setmax %s: %w", key, err)
	}
	return uint64(res), nil
}

// SetLatestChainBlock advances the process-wide latest chain block. Stale or
// duplicate head notifications lose the max comparison and leave the stored
// value untouched.
func (s *Store) SetLatestChainBlock(ctx context.Context, block uint64) (uint64, error) {
	return s.SetMax(ctx, s.latestBlockKey(), block)
}

// GetLatestChainBlock returns the highest chain block observed so far, 0 when
// unset.
func (s *Store) GetLatestChainBlock(ctx context.Context) (uint64, error) {
	val, err := s.client.Get(ctx, s.latestBlockKey()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get latest chain block: %w", err)
	}

	block, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse latest chain block %q: %w", val, err)
	}
	return block, nil
}

// GetBlockTimestamp returns a cached block timestamp.
func (s *Store) GetBlockTimestamp(ctx context.Context, number uint64) (uint64, bool, error) {
	val, err := s.client.Get(ctx, s.blockTimestampKey(number)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get block timestamp: %w", err)
	}

	ts, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse block timestamp %q: %w", val, err)
	}
	return ts, true, nil
}

// SetBlockTimestamp caches a block timestamp. Block timestamps are immutable,
// so no TTL.
func (s *Store) SetBlockTimestamp(ctx context.Context, number, ts uint64) error {
	if err := s.client.Set(ctx, s.blockTimestampKey(number), strconv.FormatUint(ts, 10), 0).Err(); err != nil {
		return fmt.Errorf("set block timestamp: %w", err)
	}
	return nil
}
