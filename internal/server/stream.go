package server

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleLogStream serves a live log subscription over SSE. The subscription
// is released on every exit path: client disconnect, hub shutdown, or slow
// consumer disconnection.
func (s *Server) handleLogStream(c *gin.Context) {
	contract, ok := s.contractByParam(c)
	if !ok {
		return
	}

	topics, ok := s.parseTopicsParam(c)
	if !ok {
		return
	}

	sub, err := s.hub.Subscribe(c.Request.Context(), contract.Address, topics)
	if err != nil {
		s.logger.Error("subscribe failed", zap.String("address", contract.Address.Hex()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscription unavailable"})
		return
	}
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	s.logger.Debug("log stream opened", zap.String("address", contract.Address.Hex()))

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case l, open := <-sub.Logs():
			if !open {
				if err := sub.Err(); err != nil {
					c.SSEvent("error", gin.H{"error": err.Error()})
					c.Writer.Flush()
				}
				return
			}

			topics := make([]string, 0, 4)
			for _, topic := range l.Topics {
				if topic == nil {
					break
				}
				topics = append(topics, topic.Hex())
			}

			c.SSEvent("log", gin.H{
				"block":       gin.H{"number": l.BlockNumber},
				"logIndex":    l.LogIndex,
				"transaction": gin.H{"hash": l.TxHash.Hex()},
				"data":        hexutil.Encode(l.Data),
				"topics":      topics,
			})
			c.Writer.Flush()
		}
	}
}
