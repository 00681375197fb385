package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"logScope/internal/filter"
	"logScope/internal/hub"
	"logScope/internal/model"
	"logScope/internal/store"
)

var (
	poolAddr = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	sigHash  = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
)

type fakeLogStore struct {
	lastQuery store.LogQuery
	logs      []model.Log
	err       error
}

func (f *fakeLogStore) QueryLogs(ctx context.Context, q store.LogQuery) ([]model.Log, error) {
	f.lastQuery = q
	return f.logs, f.err
}

type fakeCache struct {
	latest     uint64
	timestamps map[uint64]uint64
	writes     int
}

func (f *fakeCache) GetLatestChainBlock(ctx context.Context) (uint64, error) {
	return f.latest, nil
}

func (f *fakeCache) GetBlockTimestamp(ctx context.Context, number uint64) (uint64, bool, error) {
	ts, ok := f.timestamps[number]
	return ts, ok, nil
}

func (f *fakeCache) SetBlockTimestamp(ctx context.Context, number, ts uint64) error {
	f.writes++
	if f.timestamps == nil {
		f.timestamps = make(map[uint64]uint64)
	}
	f.timestamps[number] = ts
	return nil
}

type fakeChainReader struct {
	chainID    uint64
	timestamps map[uint64]uint64
	calls      int
}

func (f *fakeChainReader) ChainID() uint64 { return f.chainID }

func (f *fakeChainReader) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	f.calls++
	return f.timestamps[number], nil
}

type fakeSubscriber struct{}

func (fakeSubscriber) Subscribe(ctx context.Context, addr common.Address, topics *filter.TopicFilter) (*hub.Subscription, error) {
	return nil, hub.ErrHubClosed
}

func testServer(logs *fakeLogStore, cache *fakeCache, chain *fakeChainReader) *Server {
	contracts := []model.Contract{{Name: "pool", Address: poolAddr, CreationBlock: 100}}
	return New(contracts, logs, cache, chain, fakeSubscriber{}, nil)
}

func doGet(t *testing.T, s *Server, path string, query url.Values) *httptest.ResponseRecorder {
	t.Helper()
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleLogsResolvesRangeAndDefaults(t *testing.T) {
	logs := &fakeLogStore{logs: []model.Log{{
		Address:     poolAddr,
		BlockNumber: 4900,
		LogIndex:    2,
		TxHash:      common.HexToHash("0x02"),
		Data:        []byte{0xde, 0xad},
		Topics:      [4]*common.Hash{&sigHash},
	}}}
	cache := &fakeCache{latest: 5000, timestamps: map[uint64]uint64{4900: 1700000000}}
	chain := &fakeChainReader{chainID: 1}

	rec := doGet(t, testServer(logs, cache, chain), "/api/v1/contracts/"+poolAddr.Hex()+"/logs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Defaults: fromBlock 0, toBlock -1 resolve against a chain head of 5000
	// to the full ascending range, limit 10.
	q := logs.lastQuery
	if q.FromBlock != 0 || q.ToBlock != 5000 || q.Direction != filter.Ascending || q.Limit != 10 {
		t.Fatalf("unexpected query: %+v", q)
	}

	var body struct {
		Logs []struct {
			Block struct {
				Number    uint64 `json:"number"`
				Timestamp uint64 `json:"timestamp"`
			} `json:"block"`
			LogIndex    uint `json:"logIndex"`
			Transaction struct {
				Hash string `json:"hash"`
			} `json:"transaction"`
			Data   string   `json:"data"`
			Topics []string `json:"topics"`
		} `json:"logs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Logs) != 1 {
		t.Fatalf("got %d logs", len(body.Logs))
	}
	got := body.Logs[0]
	if got.Block.Number != 4900 || got.Block.Timestamp != 1700000000 {
		t.Fatalf("block mismatch: %+v", got.Block)
	}
	if got.Data != "0xdead" || len(got.Topics) != 1 || got.Topics[0] != sigHash.Hex() {
		t.Fatalf("payload mismatch: %+v", got)
	}
}

func TestHandleLogsNegativeOffsets(t *testing.T) {
	logs := &fakeLogStore{}
	cache := &fakeCache{latest: 5000}

	query := url.Values{}
	query.Set("fromBlock", "-1000")
	query.Set("toBlock", "-1")

	rec := doGet(t, testServer(logs, cache, &fakeChainReader{}), "/api/v1/contracts/"+poolAddr.Hex()+"/logs", query)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if logs.lastQuery.FromBlock != 4001 || logs.lastQuery.ToBlock != 5000 {
		t.Fatalf("offsets resolved to [%d, %d], want [4001, 5000]", logs.lastQuery.FromBlock, logs.lastQuery.ToBlock)
	}
}

func TestHandleLogsBadRequests(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		query url.Values
		code  int
	}{
		{"invalid address", "/api/v1/contracts/nothex/logs", nil, http.StatusBadRequest},
		{"unknown contract", "/api/v1/contracts/0xcccccccccccccccccccccccccccccccccccccccc/logs", nil, http.StatusNotFound},
		{"limit not integer", "/api/v1/contracts/" + poolAddr.Hex() + "/logs", url.Values{"limit": {"ten"}}, http.StatusBadRequest},
		{"limit too large", "/api/v1/contracts/" + poolAddr.Hex() + "/logs", url.Values{"limit": {"101"}}, http.StatusBadRequest},
		{"limit too small", "/api/v1/contracts/" + poolAddr.Hex() + "/logs", url.Values{"limit": {"0"}}, http.StatusBadRequest},
		{"fromBlock not integer", "/api/v1/contracts/" + poolAddr.Hex() + "/logs", url.Values{"fromBlock": {"abc"}}, http.StatusBadRequest},
		{"topics not json", "/api/v1/contracts/" + poolAddr.Hex() + "/logs", url.Values{"topics": {"sig"}}, http.StatusBadRequest},
		{"too many topic groups", "/api/v1/contracts/" + poolAddr.Hex() + "/logs", url.Values{"topics": {`[["a"],["b"],["c"],["d"],["e"]]`}}, http.StatusBadRequest},
		{"offset beyond genesis", "/api/v1/contracts/" + poolAddr.Hex() + "/logs", url.Values{"fromBlock": {"-99999"}}, http.StatusBadRequest},
	}

	logs := &fakeLogStore{}
	cache := &fakeCache{latest: 5000}
	s := testServer(logs, cache, &fakeChainReader{})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doGet(t, s, tt.path, tt.query)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tt.code, rec.Body.String())
			}
		})
	}
}

func TestBlockTimestampFallsBackToChain(t *testing.T) {
	cache := &fakeCache{}
	chain := &fakeChainReader{timestamps: map[uint64]uint64{77: 1699999999}}
	s := testServer(&fakeLogStore{}, cache, chain)

	ts, err := s.blockTimestamp(context.Background(), 77)
	if err != nil {
		t.Fatalf("blockTimestamp: %v", err)
	}
	if ts != 1699999999 {
		t.Fatalf("ts = %d", ts)
	}
	if cache.writes != 1 {
		t.Fatalf("cache writes = %d, want 1", cache.writes)
	}

	// Second lookup is served from the cache.
	if _, err := s.blockTimestamp(context.Background(), 77); err != nil {
		t.Fatalf("blockTimestamp: %v", err)
	}
	if chain.calls != 1 {
		t.Fatalf("chain calls = %d, want 1", chain.calls)
	}
}

func TestHandleHealth(t *testing.T) {
	s := testServer(&fakeLogStore{}, &fakeCache{}, &fakeChainReader{chainID: 8453})

	rec := doGet(t, s, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Status  string `json:"status"`
		ChainID uint64 `json:"chainId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" || body.ChainID != 8453 {
		t.Fatalf("body mismatch: %+v", body)
	}
}
