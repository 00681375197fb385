// Package server exposes the query API: contract log ranges, chain metadata,
// and live log streams over SSE.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"logScope/internal/filter"
	"logScope/internal/hub"
	"logScope/internal/model"
	"logScope/internal/store"
)

// LogStore is the query side of the log repository.
type LogStore interface {
	QueryLogs(ctx context.Context, q store.LogQuery) ([]model.Log, error)
}

// Cache reads the latest chain block and caches block timestamps.
type Cache interface {
	GetLatestChainBlock(ctx context.Context) (uint64, error)
	GetBlockTimestamp(ctx context.Context, number uint64) (uint64, bool, error)
	SetBlockTimestamp(ctx context.Context, number, ts uint64) error
}

// ChainReader resolves block timestamps on cache misses.
type ChainReader interface {
	ChainID() uint64
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// Subscriber registers live log subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, addr common.Address, topics *filter.TopicFilter) (*hub.Subscription, error)
}

// Server serves the HTTP API for one chain.
type Server struct {
	logger    *zap.Logger
	contracts map[common.Address]model.Contract
	store     LogStore
	cache     Cache
	chain     ChainReader
	hub       Subscriber
}

func New(contracts []model.Contract, logs LogStore, cache Cache, chain ChainReader, hub Subscriber, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := make(map[common.Address]model.Contract, len(contracts))
	for _, c := range contracts {
		registry[c.Address] = c
	}
	return &Server{
		logger:    logger,
		contracts: registry,
		store:     logs,
		cache:     cache,
		chain:     chain,
		hub:       hub,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.GET("/meta", s.handleMeta)
		api.GET("/contracts/:address/logs", s.handleLogs)
		api.GET("/contracts/:address/logs/stream", s.handleLogStream)
	}

	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, host string, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// contractByParam resolves the :address path parameter against the
// configured registry.
func (s *Server) contractByParam(c *gin.Context) (model.Contract, bool) {
	raw := strings.TrimSpace(c.Param("address"))
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid contract address %q", raw)})
		return model.Contract{}, false
	}

	contract, ok := s.contracts[common.HexToAddress(raw)]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown contract"})
		return model.Contract{}, false
	}
	return contract, true
}

// blockTimestamp resolves a block timestamp through the cache, falling back
// to the chain on a miss. Timestamps never change, so cache writes carry no
// TTL.
func (s *Server) blockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	ts, ok, err := s.cache.GetBlockTimestamp(ctx, number)
	if err == nil && ok {
		return ts, nil
	}
	if err != nil {
		s.logger.Warn("block timestamp cache read failed", zap.Uint64("block_number", number), zap.Error(err))
	}

	ts, err = s.chain.BlockTimestamp(ctx, number)
	if err != nil {
		return 0, err
	}
	if err := s.cache.SetBlockTimestamp(ctx, number, ts); err != nil {
		s.logger.Warn("block timestamp cache write failed", zap.Uint64("block_number", number), zap.Error(err))
	}
	return ts, nil
}
