package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/longphanquangminh/midnight-explorer/storage"
	"github.com/longphanquangminh/midnight-explorer/storage/mock"
)

// fakeIndexer serves canned responses and records every query document it
// receives, in arrival order.
type fakeIndexer struct {
	respond func(query string, vars map[string]interface{}) (int, string)

	mu       sync.Mutex
	queries  []string
	headers  []http.Header
	varsSeen []map[string]interface{}
}

func (f *fakeIndexer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.queries = append(f.queries, req.Query)
	f.headers = append(f.headers, r.Header.Clone())
	f.varsSeen = append(f.varsSeen, req.Variables)
	f.mu.Unlock()

	status, body := f.respond(req.Query, req.Variables)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (f *fakeIndexer) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeIndexer) query(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[i]
}

// newTestClient wires an indexer client to the fake service with a
// deterministic mock fallback, plus a second identical mock for
// shape-equivalence assertions.
func newTestClient(t *testing.T, fake *fakeIndexer) (*Client, *mock.Client) {
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	fallback := mock.NewClient(mock.DefaultConfig(), testMapper(t).logger)
	client, err := NewClient(Config{Endpoint: ts.URL}, fallback, testMapper(t).logger)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, client.Close()) })

	return client, mock.NewClient(mock.DefaultConfig(), testMapper(t).logger)
}

func dataPayload(root string, v interface{}) string {
	raw, err := json.Marshal(map[string]interface{}{"data": map[string]interface{}{root: v}})
	if err != nil {
		panic(err)
	}
	return string(raw)
}

func flatBlocks(tip int64, n int) []map[string]interface{} {
	blocks := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		blocks = append(blocks, map[string]interface{}{
			"height":    tip - int64(i),
			"hash":      fmt.Sprintf("0x%062x", tip-int64(i)),
			"timestamp": "2024-08-01T00:00:00Z",
			"txCount":   2,
		})
	}
	return blocks
}

func flatTxs(n int) []map[string]interface{} {
	txs := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		txs = append(txs, map[string]interface{}{
			"hash":        fmt.Sprintf("0x%062x", 0xfee0+i),
			"status":      "success",
			"blockHeight": 900 - i,
			"timestamp":   "2024-08-01T00:00:00Z",
		})
	}
	return txs
}

func TestNewClientValidation(t *testing.T) {
	fallback := mock.NewClient(mock.DefaultConfig(), testMapper(t).logger)

	_, err := NewClient(Config{Endpoint: "  "}, fallback, testMapper(t).logger)
	require.Error(t, err)
	require.True(t, storage.IsConfigurationError(err))

	_, err = NewClient(Config{Endpoint: "http://localhost:4000"}, nil, testMapper(t).logger)
	require.Error(t, err)
	require.True(t, storage.IsConfigurationError(err))
}

func TestProbingStopsAtFirstSuccess(t *testing.T) {
	fake := &fakeIndexer{respond: func(query string, vars map[string]interface{}) (int, string) {
		return http.StatusOK, dataPayload("blocks", flatBlocks(500, 5))
	}}
	client, _ := newTestClient(t, fake)

	blocks, err := client.LatestBlocks(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, blocks, 5)
	require.Equal(t, int64(500), blocks[0].Height)

	// The first shape was accepted, so no other candidate was issued.
	require.Equal(t, 1, fake.requestCount())
	require.Contains(t, fake.query(0), "HEIGHT_DESC")

	// Outbound probes carry a correlation ID.
	id := fake.headers[0].Get("X-Request-ID")
	_, err = uuid.Parse(id)
	require.NoError(t, err)
}

func TestProbingFallsThroughToNextShape(t *testing.T) {
	// The first shape is rejected with an application error; the second,
	// header-nested shape is accepted.
	fake := &fakeIndexer{respond: func(query string, vars map[string]interface{}) (int, string) {
		if strings.Contains(query, "HEIGHT_DESC") {
			return http.StatusOK, `{"errors": [{"message": "Cannot query field \"txCount\" on type \"Block\""}]}`
		}
		return http.StatusOK, dataPayload("blocks", []map[string]interface{}{
			{"header": map[string]interface{}{"number": "0x1f4", "hash": "0xaa", "timestamp": "2024-08-01T00:00:00Z"}, "extrinsicsCount": 3},
		})
	}}
	client, _ := newTestClient(t, fake)

	blocks, err := client.LatestBlocks(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, int64(500), blocks[0].Height)
	require.Equal(t, "0xaa", blocks[0].Hash)
	require.Equal(t, uint64(3), blocks[0].TxCount)

	// Candidates were probed strictly in catalog order.
	require.Equal(t, 2, fake.requestCount())
	require.Contains(t, fake.query(0), "HEIGHT_DESC")
	require.Contains(t, fake.query(1), "NUMBER_DESC")
}

func TestFallbackEquivalenceWhenEveryShapeFails(t *testing.T) {
	fake := &fakeIndexer{respond: func(query string, vars map[string]interface{}) (int, string) {
		return http.StatusInternalServerError, `{"errors": [{"message": "boom"}]}`
	}}
	client, direct := newTestClient(t, fake)
	ctx := context.Background()

	// Every operation yields exactly what the mock generator yields for the
	// same arguments; failures never surface as errors.
	gotBlocks, err := client.LatestBlocks(ctx, 7)
	require.NoError(t, err)
	wantBlocks, _ := direct.LatestBlocks(ctx, 7)
	require.Equal(t, wantBlocks, gotBlocks)

	gotTxs, err := client.LatestTransactions(ctx, 7)
	require.NoError(t, err)
	wantTxs, _ := direct.LatestTransactions(ctx, 7)
	require.Equal(t, wantTxs, gotTxs)

	gotBlockPage, err := client.Blocks(ctx, 20)
	require.NoError(t, err)
	wantBlockPage, _ := direct.Blocks(ctx, 20)
	require.Equal(t, wantBlockPage, gotBlockPage)

	gotTxPage, err := client.Transactions(ctx, 40)
	require.NoError(t, err)
	wantTxPage, _ := direct.Transactions(ctx, 40)
	require.Equal(t, wantTxPage, gotTxPage)

	gotBlock, err := client.BlockByHeight(ctx, mock.DefaultTipHeight)
	require.NoError(t, err)
	wantBlock, _ := direct.BlockByHeight(ctx, mock.DefaultTipHeight)
	require.NotNil(t, gotBlock)
	require.Equal(t, wantBlock, gotBlock)

	byHash, err := client.BlockByHash(ctx, wantBlock.Hash)
	require.NoError(t, err)
	require.Equal(t, wantBlock, byHash)

	wantTx, _ := direct.TransactionByHash(ctx, wantTxs[0].Hash)
	gotTx, err := client.TransactionByHash(ctx, wantTxs[0].Hash)
	require.NoError(t, err)
	require.Equal(t, wantTx, gotTx)

	wantPage, _ := direct.BlockTransactions(ctx, wantBlock, 0)
	gotPage, err := client.BlockTransactions(ctx, wantBlock, 0)
	require.NoError(t, err)
	require.Equal(t, wantPage, gotPage)

	wantSummary, _ := direct.AddressSummary(ctx, "mn_shield-addr_test1qxy")
	gotSummary, err := client.AddressSummary(ctx, "mn_shield-addr_test1qxy")
	require.NoError(t, err)
	require.Equal(t, wantSummary, gotSummary)
}

func TestPointLookupNullIsNotFoundWithoutFallback(t *testing.T) {
	fake := &fakeIndexer{respond: func(query string, vars map[string]interface{}) (int, string) {
		return http.StatusOK, `{"data": {"block": null}}`
	}}
	client, direct := newTestClient(t, fake)
	ctx := context.Background()

	// The mock knows this height, so a non-nil result would prove the
	// fallback ran. An explicit null from a successful query must not.
	fromMock, _ := direct.BlockByHeight(ctx, mock.DefaultTipHeight)
	require.NotNil(t, fromMock)

	block, err := client.BlockByHeight(ctx, mock.DefaultTipHeight)
	require.NoError(t, err)
	require.Nil(t, block)
}

func TestEmptyListTriggersFallback(t *testing.T) {
	fake := &fakeIndexer{respond: func(query string, vars map[string]interface{}) (int, string) {
		return http.StatusOK, dataPayload("blocks", []map[string]interface{}{})
	}}
	client, direct := newTestClient(t, fake)
	ctx := context.Background()

	got, err := client.Blocks(ctx, 0)
	require.NoError(t, err)
	want, _ := direct.Blocks(ctx, 0)
	require.Equal(t, want, got)
}

func TestUnmappableRecordTriggersFallback(t *testing.T) {
	fake := &fakeIndexer{respond: func(query string, vars map[string]interface{}) (int, string) {
		return http.StatusOK, `{"data": {"block": {"era": "genesis"}}}`
	}}
	client, direct := newTestClient(t, fake)
	ctx := context.Background()

	got, err := client.BlockByHeight(ctx, mock.DefaultTipHeight)
	require.NoError(t, err)
	want, _ := direct.BlockByHeight(ctx, mock.DefaultTipHeight)
	require.NotNil(t, got)
	require.Equal(t, want, got)
}

func TestBlocksPageCursorFromOverflow(t *testing.T) {
	// The client asks for one item past the window; receiving it proves
	// more items exist.
	fake := &fakeIndexer{respond: func(query string, vars map[string]interface{}) (int, string) {
		limit := int(vars["limit"].(float64))
		offset := int(vars["offset"].(float64))
		require.Equal(t, storage.PageSize+1, limit)
		n := limit
		if offset >= 40 {
			n = storage.PageSize // Exactly one page left: no overflow item.
		}
		return http.StatusOK, dataPayload("blocks", flatBlocks(1000-int64(offset), n))
	}}
	client, _ := newTestClient(t, fake)
	ctx := context.Background()

	page, err := client.Blocks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, storage.PageSize)
	require.Equal(t, int64(1000), page.Items[0].Height)
	require.Equal(t, "20", page.NextCursor)

	page, err = client.Blocks(ctx, 40)
	require.NoError(t, err)
	require.Len(t, page.Items, storage.PageSize)
	require.Empty(t, page.NextCursor)
}

func TestTransactionsPageCursorFromOverflow(t *testing.T) {
	fake := &fakeIndexer{respond: func(query string, vars map[string]interface{}) (int, string) {
		return http.StatusOK, dataPayload("transactions", flatTxs(storage.PageSize+1))
	}}
	client, _ := newTestClient(t, fake)

	page, err := client.Transactions(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, page.Items, storage.PageSize)
	require.Equal(t, "40", page.NextCursor)
}

func TestBlockTransactionsInheritBlockLinkage(t *testing.T) {
	fake := &fakeIndexer{respond: func(query string, vars map[string]interface{}) (int, string) {
		require.Equal(t, float64(777), vars["height"])
		return http.StatusOK, dataPayload("transactions", []map[string]interface{}{
			{"hash": "0x01"},
			{"hash": "0x02", "status": "failed"},
		})
	}}
	client, _ := newTestClient(t, fake)

	block := &storage.Block{Height: 777, Hash: "0xb", Timestamp: mustTime(t, "2024-08-01T00:00:00Z"), TxCount: 2}
	page, err := client.BlockTransactions(context.Background(), block, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)

	// Records that omit their block linkage inherit it from the queried
	// block, and count as succeeded unless marked otherwise.
	require.Equal(t, int64(777), *page.Items[0].BlockHeight)
	require.Equal(t, block.Timestamp, *page.Items[0].Timestamp)
	require.Equal(t, storage.StatusSuccess, page.Items[0].Status)
	require.Equal(t, storage.StatusFailed, page.Items[1].Status)
}

func TestLatestBlocksTruncatesOverfullResponses(t *testing.T) {
	fake := &fakeIndexer{respond: func(query string, vars map[string]interface{}) (int, string) {
		return http.StatusOK, dataPayload("blocks", flatBlocks(300, 25))
	}}
	client, _ := newTestClient(t, fake)

	blocks, err := client.LatestBlocks(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, blocks, 5)
}

func TestExpiredDeadlineFallsBack(t *testing.T) {
	fake := &fakeIndexer{respond: func(query string, vars map[string]interface{}) (int, string) {
		return http.StatusOK, dataPayload("blocks", flatBlocks(500, 5))
	}}
	client, direct := newTestClient(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// An expired caller deadline is a transient failure like any other:
	// the operation still returns a usable value, from the fallback.
	got, err := client.LatestBlocks(ctx, 5)
	require.NoError(t, err)
	want, _ := direct.LatestBlocks(context.Background(), 5)
	require.Equal(t, want, got)
}

func mustTime(t *testing.T, s string) time.Time {
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}
