package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// DefaultCallTimeout bounds every chain RPC call so a stalled provider fails
// the call instead of hanging the caller.
const DefaultCallTimeout = 5 * time.Second

// Client wraps the HTTP and WebSocket providers for one chain. It is
// constructed once at startup and passed into the sync engine and the API
// surface; there is no process-wide provider state.
type Client struct {
	httpRPC *rpc.Client
	http    *ethclient.Client

	wsRPC *rpc.Client
	ws    *ethclient.Client

	timeout time.Duration
	chainID uint64
}

// Dial connects the HTTP provider and, when wsURL is non-empty, a separate
// WebSocket provider for subscriptions. With no WS URL the HTTP provider
// serves both roles, matching a provider that multiplexes over one endpoint.
func Dial(ctx context.Context, httpURL, wsURL string, timeout time.Duration) (*Client, error) {
	if httpURL == "" {
		return nil, fmt.Errorf("http rpc url is required")
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	httpRPC, err := rpc.DialContext(ctx, httpURL)
	if err != nil {
		return nil, fmt.Errorf("dial http rpc: %w", err)
	}

	c := &Client{
		httpRPC: httpRPC,
		http:    ethclient.NewClient(httpRPC),
		timeout: timeout,
	}

	if wsURL != "" {
		wsRPC, err := rpc.DialContext(ctx, wsURL)
		if err != nil {
			httpRPC.Close()
			return nil, fmt.Errorf("dial ws rpc: %w", err)
		}
		c.wsRPC = wsRPC
		c.ws = ethclient.NewClient(wsRPC)
	} else {
		c.ws = c.http
	}

	return c, nil
}

func (c *Client) Close() {
	if c.wsRPC != nil {
		c.wsRPC.Close()
	}
	if c.httpRPC != nil {
		c.httpRPC.Close()
	}
}

// Ready checks connectivity on both providers and validates the observed
// chain id against the configured one. A mismatch is fatal: the process must
// not serve traffic against the wrong chain.
func (c *Client) Ready(ctx context.Context, expectedChainID uint64) error {
	id, err := c.chainIDOf(ctx, c.http)
	if err != nil {
		return fmt.Errorf("http provider not ready: %w", err)
	}
	if id != expectedChainID {
		return fmt.Errorf("chain id mismatch: configured %d, http provider reports %d", expectedChainID, id)
	}

	if c.ws != c.http {
		id, err = c.chainIDOf(ctx, c.ws)
		if err != nil {
			return fmt.Errorf("ws provider not ready: %w", err)
		}
		if id != expectedChainID {
			return fmt.Errorf("chain id mismatch: configured %d, ws provider reports %d", expectedChainID, id)
		}
	}

	c.chainID = expectedChainID
	return nil
}

func (c *Client) chainIDOf(ctx context.Context, client *ethclient.Client) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	id, err := client.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id does not fit in uint64: %s", id)
	}
	return id.Uint64(), nil
}

// ChainID returns the chain id validated by Ready.
func (c *Client) ChainID() uint64 {
	return c.chainID
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.http.BlockNumber(ctx)
}

// BlockTimestamp returns the timestamp of a block from its header.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	header, err := c.http.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}
	return header.Time, nil
}

// FilterLogs returns all logs emitted by the contract within the inclusive
// block range.
func (c *Client) FilterLogs(ctx context.Context, addr common.Address, fromBlock, toBlock uint64) ([]types.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.http.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{addr},
	})
}

// SubscribeLogs subscribes to live logs emitted by the contract. The
// subscription is not auto-reconnected here; a dropped feed surfaces on the
// subscription's Err channel.
func (c *Client) SubscribeLogs(ctx context.Context, addr common.Address, ch chan<- types.Log) (ethereum.Subscription, error) {
	return c.ws.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{addr},
	}, ch)
}

// SubscribeNewHead subscribes to chain head announcements.
func (c *Client) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return c.ws.SubscribeNewHead(ctx, ch)
}
