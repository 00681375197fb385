// Package hub fans committed log inserts out to live subscribers. One
// listener consumes the store's notification channel; each subscriber gets a
// filtered view on its own bounded delivery channel.
package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"logScope/internal/filter"
	"logScope/internal/metrics"
	"logScope/internal/model"
)

// DefaultBuffer is the per-subscriber delivery buffer. A subscriber that
// falls this far behind is disconnected rather than silently losing
// arbitrary logs; reconnecting and range-querying the gap is the recovery
// path.
const DefaultBuffer = 128

// ErrSlowConsumer reports a subscriber disconnected on delivery overflow.
var ErrSlowConsumer = errors.New("subscriber too slow, disconnected")

// ErrHubClosed reports the hub is shut down.
var ErrHubClosed = errors.New("hub is closed")

// Listener is one open notification session. Satisfied by *store.Listener.
type Listener interface {
	Wait(ctx context.Context) (string, error)
	Close()
}

// LogFetcher re-reads a full row when a notification payload was truncated.
type LogFetcher interface {
	GetLog(ctx context.Context, addr common.Address, blockNumber uint64, logIndex uint) (model.Log, bool, error)
}

// Config wires the hub to its store.
type Config struct {
	Listen  func(ctx context.Context) (Listener, error)
	Fetcher LogFetcher
	Logger  *zap.Logger
	Buffer  int
}

// Hub tracks subscribers and owns the store-level listen session. The
// session starts with the first subscriber and is torn down when the last
// one departs.
type Hub struct {
	cfg Config

	mu         sync.Mutex
	subs       map[*Subscription]struct{}
	closed     bool
	listenStop context.CancelFunc
	listenDone chan struct{}
}

func New(cfg Config) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	return &Hub{
		cfg:  cfg,
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscription is one subscriber's live feed.
type Subscription struct {
	addr   common.Address
	topics *filter.TopicFilter
	ch     chan model.Log

	hub  *Hub
	once sync.Once
	err  error
}

// Logs is the delivery channel. It is closed on Close, on overflow, and on
// hub failure; check Err after it closes.
func (s *Subscription) Logs() <-chan model.Log {
	return s.ch
}

// Err reports why the delivery channel closed, nil for a clean Close.
func (s *Subscription) Err() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.err
}

// Close unregisters the subscriber. Safe to call more than once and
// concurrently with deliveries.
func (s *Subscription) Close() {
	s.hub.remove(s, nil, true)
}

// Subscribe registers a subscriber for logs of one contract, optionally
// topic-filtered. The first subscriber opens the store-level listen session;
// an error opening it is returned here rather than deferred.
func (h *Hub) Subscribe(ctx context.Context, addr common.Address, topics *filter.TopicFilter) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	sub := &Subscription{
		addr:   addr,
		topics: topics,
		ch:     make(chan model.Log, h.cfg.Buffer),
		hub:    h,
	}

	if len(h.subs) == 0 {
		listenCtx, cancel := context.WithCancel(context.Background())
		listener, err := h.cfg.Listen(listenCtx)
		if err != nil {
			cancel()
			return nil, err
		}
		h.listenStop = cancel
		h.listenDone = make(chan struct{})
		go h.run(listenCtx, listener, h.listenDone)
	}

	h.subs[sub] = struct{}{}
	metrics.ActiveSubscribers.Inc()
	return sub, nil
}

// Close shuts the hub down, disconnecting all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.remove(sub, ErrHubClosed, true)
	}
}

// run consumes the notification session until cancellation or failure.
// Single-threaded consumption preserves commit order per subscriber.
func (h *Hub) run(ctx context.Context, listener Listener, done chan struct{}) {
	defer close(done)
	defer listener.Close()

	for {
		payload, err := listener.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// The session died under us. That is fatal for every
			// subscriber; they must resubscribe.
			h.cfg.Logger.Error("notification listener failed", zap.Error(err))
			h.failAll(err)
			return
		}

		event, err := model.DecodeLogEvent(payload)
		if err != nil {
			h.cfg.Logger.Warn("dropping undecodable notification", zap.Error(err))
			continue
		}

		l, err := event.Log()
		if err != nil {
			h.cfg.Logger.Warn("dropping malformed notification", zap.Error(err))
			continue
		}

		if event.Truncated {
			full, ok, err := h.cfg.Fetcher.GetLog(ctx, l.Address, l.BlockNumber, l.LogIndex)
			if err != nil || !ok {
				h.cfg.Logger.Warn("refetch of truncated notification failed",
					zap.String("address", l.Address.Hex()),
					zap.Uint64("block_number", l.BlockNumber),
					zap.Uint("log_index", l.LogIndex),
					zap.Error(err),
				)
				continue
			}
			l = full
		}

		h.dispatch(l)
	}
}

func (h *Hub) dispatch(l model.Log) {
	h.mu.Lock()
	var overflowed []*Subscription
	for sub := range h.subs {
		if sub.addr != l.Address {
			continue
		}
		if !sub.topics.Match(l.Topics) {
			continue
		}
		select {
		case sub.ch <- l:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range overflowed {
		h.cfg.Logger.Warn("disconnecting slow subscriber", zap.String("address", sub.addr.Hex()))
		// Called from the listener goroutine, which must not wait on its
		// own teardown.
		h.remove(sub, ErrSlowConsumer, false)
	}
}

func (h *Hub) failAll(err error) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.remove(sub, err, false)
	}
}

// remove unregisters a subscriber and, when it was the last one, tears down
// the underlying listen session. With wait set it also blocks until the
// consuming goroutine has released the session; only callers outside that
// goroutine may wait.
func (h *Hub) remove(sub *Subscription, cause error, wait bool) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, sub)
	metrics.ActiveSubscribers.Dec()

	sub.err = cause
	sub.once.Do(func() { close(sub.ch) })

	var stop context.CancelFunc
	var done chan struct{}
	if len(h.subs) == 0 {
		stop = h.listenStop
		done = h.listenDone
		h.listenStop = nil
		h.listenDone = nil
	}
	h.mu.Unlock()

	if stop != nil {
		stop()
		if wait {
			<-done
		}
	}
}
