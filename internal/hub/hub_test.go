package hub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"logScope/internal/filter"
	"logScope/internal/model"
)

var (
	addrA = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	addrB = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	sig1  = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	sig2  = common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")
)

type fakeListener struct {
	payloads chan string

	mu     sync.Mutex
	closed bool
}

func newFakeListener() *fakeListener {
	return &fakeListener{payloads: make(chan string, 16)}
}

func (l *fakeListener) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case p, ok := <-l.payloads:
		if !ok {
			return "", errors.New("connection reset")
		}
		return p, nil
	}
}

func (l *fakeListener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

func (l *fakeListener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type fakeFetcher struct {
	logs map[logKey]model.Log
}

type logKey struct {
	addr  common.Address
	block uint64
	index uint
}

func (f *fakeFetcher) GetLog(ctx context.Context, addr common.Address, blockNumber uint64, logIndex uint) (model.Log, bool, error) {
	l, ok := f.logs[logKey{addr: addr, block: blockNumber, index: logIndex}]
	return l, ok, nil
}

type testHub struct {
	hub      *Hub
	listener *fakeListener
	listens  int
	fetcher  *fakeFetcher
}

func newTestHub(buffer int) *testHub {
	th := &testHub{
		listener: newFakeListener(),
		fetcher:  &fakeFetcher{logs: make(map[logKey]model.Log)},
	}
	th.hub = New(Config{
		Listen: func(ctx context.Context) (Listener, error) {
			th.listens++
			return th.listener, nil
		},
		Fetcher: th.fetcher,
		Buffer:  buffer,
	})
	return th
}

func (th *testHub) emit(t *testing.T, l model.Log) {
	t.Helper()
	payload, err := model.NewLogEvent(l).Marshal()
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	th.listener.payloads <- payload
}

func makeLog(addr common.Address, block uint64, index uint, topic0 common.Hash) model.Log {
	return model.Log{
		Address:     addr,
		BlockNumber: block,
		LogIndex:    index,
		TxHash:      common.HexToHash(fmt.Sprintf("0x%064x", block)),
		Topics:      [4]*common.Hash{&topic0},
	}
}

func receiveLog(t *testing.T, sub *Subscription) model.Log {
	t.Helper()
	select {
	case l, ok := <-sub.Logs():
		if !ok {
			t.Fatalf("subscription closed unexpectedly: %v", sub.Err())
		}
		return l
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for log delivery")
	}
	return model.Log{}
}

func expectNoLog(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case l, ok := <-sub.Logs():
		if ok {
			t.Fatalf("unexpected delivery of block %d log %d", l.BlockNumber, l.LogIndex)
		}
		t.Fatalf("subscription closed unexpectedly: %v", sub.Err())
	case <-time.After(50 * time.Millisecond):
	}
}

func waitClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	for {
		select {
		case _, ok := <-sub.Logs():
			if !ok {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("subscription did not close")
		}
	}
}

func TestDispatchFiltersByAddressAndTopics(t *testing.T) {
	th := newTestHub(0)
	defer th.hub.Close()

	all, err := th.hub.Subscribe(context.Background(), addrA, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer all.Close()

	topics, err := filter.ParseTopics([][]string{{sig2.Hex()}})
	if err != nil {
		t.Fatalf("parse topics: %v", err)
	}
	filtered, err := th.hub.Subscribe(context.Background(), addrA, topics)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer filtered.Close()

	th.emit(t, makeLog(addrA, 10, 0, sig1))
	th.emit(t, makeLog(addrA, 11, 0, sig2))
	th.emit(t, makeLog(addrB, 12, 0, sig1))

	first := receiveLog(t, all)
	second := receiveLog(t, all)
	if first.BlockNumber != 10 || second.BlockNumber != 11 {
		t.Fatalf("unfiltered subscriber got blocks %d, %d", first.BlockNumber, second.BlockNumber)
	}
	expectNoLog(t, all)

	only := receiveLog(t, filtered)
	if only.BlockNumber != 11 || *only.Topics[0] != sig2 {
		t.Fatalf("filtered subscriber got block %d topic %v", only.BlockNumber, only.Topics[0])
	}
	expectNoLog(t, filtered)
}

func TestTruncatedPayloadRefetchesFullRow(t *testing.T) {
	th := newTestHub(0)
	defer th.hub.Close()

	big := makeLog(addrA, 20, 1, sig1)
	big.Data = bytes.Repeat([]byte{0xab}, model.MaxEventDataBytes+1)
	th.fetcher.logs[logKey{addr: addrA, block: 20, index: 1}] = big

	sub, err := th.hub.Subscribe(context.Background(), addrA, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	th.emit(t, big)

	got := receiveLog(t, sub)
	if !bytes.Equal(got.Data, big.Data) {
		t.Fatalf("expected full %d-byte data after refetch, got %d bytes", len(big.Data), len(got.Data))
	}
}

func TestLastUnsubscribeTearsDownListener(t *testing.T) {
	th := newTestHub(0)

	first, err := th.hub.Subscribe(context.Background(), addrA, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	second, err := th.hub.Subscribe(context.Background(), addrA, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if th.listens != 1 {
		t.Fatalf("expected a single listen session for two subscribers, got %d", th.listens)
	}

	first.Close()
	if th.listener.isClosed() {
		t.Fatalf("listener closed while a subscriber remained")
	}

	second.Close()
	if !th.listener.isClosed() {
		t.Fatalf("listener still open after last unsubscribe")
	}

	if first.Err() != nil || second.Err() != nil {
		t.Fatalf("clean close should leave no error: %v, %v", first.Err(), second.Err())
	}
}

func TestSlowConsumerIsDisconnected(t *testing.T) {
	th := newTestHub(1)
	defer th.hub.Close()

	sub, err := th.hub.Subscribe(context.Background(), addrA, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// One log fills the buffer, the next overflows it.
	th.emit(t, makeLog(addrA, 30, 0, sig1))
	th.emit(t, makeLog(addrA, 31, 0, sig1))

	waitClosed(t, sub)
	if !errors.Is(sub.Err(), ErrSlowConsumer) {
		t.Fatalf("expected ErrSlowConsumer, got %v", sub.Err())
	}
}

func TestListenerFailureDisconnectsAll(t *testing.T) {
	th := newTestHub(0)
	defer th.hub.Close()

	first, err := th.hub.Subscribe(context.Background(), addrA, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	second, err := th.hub.Subscribe(context.Background(), addrB, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	close(th.listener.payloads)

	waitClosed(t, first)
	waitClosed(t, second)
	if first.Err() == nil || second.Err() == nil {
		t.Fatalf("listener failure should surface on subscribers: %v, %v", first.Err(), second.Err())
	}
}

func TestSubscribeAfterCloseFails(t *testing.T) {
	th := newTestHub(0)
	th.hub.Close()

	if _, err := th.hub.Subscribe(context.Background(), addrA, nil); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("expected ErrHubClosed, got %v", err)
	}
}
