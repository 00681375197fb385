package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"logScope/internal/filter"
	"logScope/internal/model"
	"logScope/internal/store"
)

const defaultQueryLimit = 10

type blockJSON struct {
	Number    uint64 `json:"number"`
	Timestamp uint64 `json:"timestamp"`
}

type transactionJSON struct {
	Hash string `json:"hash"`
}

type logJSON struct {
	Block       blockJSON       `json:"block"`
	LogIndex    uint            `json:"logIndex"`
	Transaction transactionJSON `json:"transaction"`
	Data        string          `json:"data"`
	Topics      []string        `json:"topics"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "chainId": s.chain.ChainID()})
}

func (s *Server) handleMeta(c *gin.Context) {
	ctx := c.Request.Context()

	latest, err := s.cache.GetLatestChainBlock(ctx)
	if err != nil {
		s.logger.Error("read latest chain block failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "latest chain block unavailable"})
		return
	}

	var ts uint64
	if latest > 0 {
		ts, err = s.blockTimestamp(ctx, latest)
		if err != nil {
			s.logger.Warn("latest block timestamp unavailable", zap.Uint64("block_number", latest), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"chain": gin.H{
			"id": s.chain.ChainID(),
			"latestBlock": gin.H{
				"number":    latest,
				"timestamp": ts,
			},
		},
	})
}

func (s *Server) handleLogs(c *gin.Context) {
	ctx := c.Request.Context()

	contract, ok := s.contractByParam(c)
	if !ok {
		return
	}

	limit, fromBlock, toBlock, topics, ok := s.parseLogParams(c)
	if !ok {
		return
	}

	latest, err := s.cache.GetLatestChainBlock(ctx)
	if err != nil {
		s.logger.Error("read latest chain block failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "latest chain block unavailable"})
		return
	}

	absFrom, absTo, dir, err := filter.ResolveRange(fromBlock, toBlock, latest)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logs, err := s.store.QueryLogs(ctx, store.LogQuery{
		Address:   contract.Address,
		FromBlock: absFrom,
		ToBlock:   absTo,
		Direction: dir,
		Topics:    topics,
		Limit:     limit,
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidLimit) || errors.Is(err, filter.ErrInvalidRange) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("log query failed", zap.String("address", contract.Address.Hex()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	out := make([]logJSON, 0, len(logs))
	for _, l := range logs {
		entry, err := s.renderLog(ctx, l)
		if err != nil {
			s.logger.Error("render log failed", zap.Uint64("block_number", l.BlockNumber), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		out = append(out, entry)
	}

	c.JSON(http.StatusOK, gin.H{"logs": out})
}

// parseLogParams validates limit, block range endpoints, and the topic
// filter. All request errors surface here, before any query executes.
func (s *Server) parseLogParams(c *gin.Context) (limit int, fromBlock, toBlock int64, topics *filter.TopicFilter, ok bool) {
	var err error

	limit = defaultQueryLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return 0, 0, 0, nil, false
		}
	}
	if limit < store.MinQueryLimit || limit > store.MaxQueryLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": store.ErrInvalidLimit.Error()})
		return 0, 0, 0, nil, false
	}

	fromBlock = 0
	if raw := c.Query("fromBlock"); raw != "" {
		fromBlock, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fromBlock must be an integer"})
			return 0, 0, 0, nil, false
		}
	}

	toBlock = -1
	if raw := c.Query("toBlock"); raw != "" {
		toBlock, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "toBlock must be an integer"})
			return 0, 0, 0, nil, false
		}
	}

	topics, ok = s.parseTopicsParam(c)
	if !ok {
		return 0, 0, 0, nil, false
	}

	return limit, fromBlock, toBlock, topics, true
}

// parseTopicsParam reads the ?topics= parameter: a JSON array of up to 4
// groups of hex strings, e.g. [["0xsig"],[],["0xb"]].
func (s *Server) parseTopicsParam(c *gin.Context) (*filter.TopicFilter, bool) {
	raw := c.Query("topics")
	if raw == "" {
		return nil, true
	}

	var groups [][]string
	if err := json.Unmarshal([]byte(raw), &groups); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topics must be a JSON array of string arrays"})
		return nil, false
	}

	topics, err := filter.ParseTopics(groups)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return topics, true
}

// renderLog shapes a log for the API, resolving its block timestamp through
// the cache.
func (s *Server) renderLog(ctx context.Context, l model.Log) (logJSON, error) {
	ts, err := s.blockTimestamp(ctx, l.BlockNumber)
	if err != nil {
		return logJSON{}, err
	}

	topics := make([]string, 0, 4)
	for _, topic := range l.Topics {
		if topic == nil {
			break
		}
		topics = append(topics, topic.Hex())
	}

	return logJSON{
		Block:       blockJSON{Number: l.BlockNumber, Timestamp: ts},
		LogIndex:    l.LogIndex,
		Transaction: transactionJSON{Hash: l.TxHash.Hex()},
		Data:        hexutil.Encode(l.Data),
		Topics:      topics,
	}, nil
}
