package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/longphanquangminh/midnight-explorer/config"
	"github.com/longphanquangminh/midnight-explorer/log"
	"github.com/longphanquangminh/midnight-explorer/storage"
	"github.com/longphanquangminh/midnight-explorer/storage/mock"
)

func testLogger(t *testing.T) *log.Logger {
	logger, err := log.NewLogger("client-test", io.Discard, log.FmtLogfmt, log.LevelError)
	require.NoError(t, err)
	return logger
}

func mockClient(t *testing.T) *StorageClient {
	c, err := NewStorageClient(&config.SourceConfig{UseMock: true}, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return c
}

// countingSource wraps a Source and counts the lookups that reach it.
type countingSource struct {
	storage.Source
	blockByHeight int
	blockByHash   int
	txByHash      int
}

func (s *countingSource) BlockByHeight(ctx context.Context, height int64) (*storage.Block, error) {
	s.blockByHeight++
	return s.Source.BlockByHeight(ctx, height)
}

func (s *countingSource) BlockByHash(ctx context.Context, hash string) (*storage.Block, error) {
	s.blockByHash++
	return s.Source.BlockByHash(ctx, hash)
}

func (s *countingSource) TransactionByHash(ctx context.Context, hash string) (*storage.Transaction, error) {
	s.txByHash++
	return s.Source.TransactionByHash(ctx, hash)
}

func TestBackendSelection(t *testing.T) {
	for _, tc := range []struct {
		name    string
		cfg     *config.SourceConfig
		want    string
		wantErr bool
	}{
		{"nothing configured", &config.SourceConfig{}, "mock", false},
		{"no source section", nil, "mock", false},
		{"mock forced over endpoints", &config.SourceConfig{UseMock: true, NodeRPC: "ws://node", IndexerURL: "http://indexer"}, "mock", false},
		{"indexer preferred over node", &config.SourceConfig{NodeRPC: "ws://node", IndexerURL: "http://indexer"}, "indexer", false},
		{"node only", &config.SourceConfig{NodeRPC: "ws://node"}, "node", false},
		{"blank indexer endpoint", &config.SourceConfig{IndexerURL: "   "}, "", true},
		{"blank node endpoint", &config.SourceConfig{NodeRPC: "   "}, "", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewStorageClient(tc.cfg, testLogger(t))
			if tc.wantErr {
				require.Error(t, err)
				require.True(t, storage.IsConfigurationError(err))
				return
			}
			require.NoError(t, err)
			defer c.Shutdown()
			require.Equal(t, tc.want, c.SourceName())
		})
	}
}

func TestGetBlocksPageWindows(t *testing.T) {
	c := mockClient(t)
	ctx := context.Background()

	page, err := c.GetBlocksPage(ctx, "")
	require.NoError(t, err)
	require.Len(t, page.Items, storage.PageSize)
	require.Equal(t, mock.DefaultTipHeight, page.Items[0].Height)
	require.Equal(t, mock.DefaultTipHeight-19, page.Items[19].Height)
	require.Equal(t, "20", page.NextCursor)

	page, err = c.GetBlocksPage(ctx, page.NextCursor)
	require.NoError(t, err)
	require.Len(t, page.Items, storage.PageSize)
	require.Equal(t, mock.DefaultTipHeight-20, page.Items[0].Height)
	require.Equal(t, mock.DefaultTipHeight-39, page.Items[19].Height)
	require.Equal(t, "40", page.NextCursor)

	// The final window of the 100-block corpus is full but terminal.
	page, err = c.GetBlocksPage(ctx, "80")
	require.NoError(t, err)
	require.Len(t, page.Items, storage.PageSize)
	require.Equal(t, mock.DefaultTipHeight-int64(mock.DefaultBlockCount)+1, page.Items[19].Height)
	require.Empty(t, page.NextCursor)

	// A malformed cursor means the first window, not an error.
	garbled, err := c.GetBlocksPage(ctx, "one-hundred")
	require.NoError(t, err)
	first, _ := c.GetBlocksPage(ctx, "")
	require.Equal(t, first, garbled)
}

func TestPaginationVisitsEveryBlockOnce(t *testing.T) {
	c := mockClient(t)
	ctx := context.Background()

	seen := make(map[int64]bool)
	var prev int64 = mock.DefaultTipHeight + 1
	cursor := ""
	for {
		page, err := c.GetBlocksPage(ctx, cursor)
		require.NoError(t, err)
		for _, b := range page.Items {
			require.Less(t, b.Height, prev, "listing must stay strictly descending")
			require.False(t, seen[b.Height], "height %d served twice", b.Height)
			seen[b.Height] = true
			prev = b.Height
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	require.Len(t, seen, mock.DefaultBlockCount)
}

func TestIDResolution(t *testing.T) {
	c := mockClient(t)
	ctx := context.Background()

	byHeight, err := c.GetBlockByHashOrHeight(ctx, strconv.FormatInt(mock.DefaultTipHeight, 10))
	require.NoError(t, err)
	require.NotNil(t, byHeight)
	require.Equal(t, mock.DefaultTipHeight, byHeight.Height)

	byHash, err := c.GetBlockByHashOrHeight(ctx, byHeight.Hash)
	require.NoError(t, err)
	require.Equal(t, byHeight, byHash)

	// Absence is a nil result, never an error.
	missing, err := c.GetBlockByHashOrHeight(ctx, "999999")
	require.NoError(t, err)
	require.Nil(t, missing)

	missing, err = c.GetBlockByHashOrHeight(ctx, "feedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedface")
	require.NoError(t, err)
	require.Nil(t, missing)

	missing, err = c.GetBlockByHashOrHeight(ctx, "   ")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestBlockLookupsAreCached(t *testing.T) {
	c := mockClient(t)
	counter := &countingSource{Source: c.source}
	c.source = counter
	ctx := context.Background()

	tip, err := c.GetBlockByHashOrHeight(ctx, strconv.FormatInt(mock.DefaultTipHeight, 10))
	require.NoError(t, err)
	require.NotNil(t, tip)
	require.Equal(t, 1, counter.blockByHeight)
	c.blockCache.Wait()

	again, err := c.GetBlockByHashOrHeight(ctx, strconv.FormatInt(mock.DefaultTipHeight, 10))
	require.NoError(t, err)
	require.Equal(t, tip, again)
	require.Equal(t, 1, counter.blockByHeight, "repeat lookup must be served from cache")
}

func TestHashLookupSeedsHeightCache(t *testing.T) {
	c := mockClient(t)
	counter := &countingSource{Source: c.source}
	c.source = counter
	ctx := context.Background()

	// List pages bypass the lookup cache; use one to learn a hash.
	page, err := c.GetBlocksPage(ctx, "")
	require.NoError(t, err)
	tip := page.Items[0]

	byHash, err := c.GetBlockByHashOrHeight(ctx, tip.Hash)
	require.NoError(t, err)
	require.Equal(t, 1, counter.blockByHash)
	c.blockCache.Wait()

	// The hash lookup cached the block under its height, so the height
	// spelling of the same block never reaches the backend.
	byHeight, err := c.GetBlockByHashOrHeight(ctx, strconv.FormatInt(tip.Height, 10))
	require.NoError(t, err)
	require.Equal(t, byHash, byHeight)
	require.Equal(t, 0, counter.blockByHeight)
}

func TestOnlyConfirmedTransactionsAreCached(t *testing.T) {
	c := mockClient(t)
	counter := &countingSource{Source: c.source}
	c.source = counter
	ctx := context.Background()

	all, err := c.LatestTransactions(ctx, mock.DefaultTxCount)
	require.NoError(t, err)
	var confirmed, pending string
	for _, tx := range all {
		switch tx.Status {
		case storage.StatusSuccess:
			if confirmed == "" {
				confirmed = tx.Hash
			}
		case storage.StatusPending:
			if pending == "" {
				pending = tx.Hash
			}
		}
	}
	require.NotEmpty(t, confirmed)
	require.NotEmpty(t, pending)

	_, err = c.GetTransactionByHash(ctx, confirmed)
	require.NoError(t, err)
	c.txCache.Wait()
	_, err = c.GetTransactionByHash(ctx, confirmed)
	require.NoError(t, err)
	require.Equal(t, 1, counter.txByHash, "confirmed lookup must be served from cache")

	_, err = c.GetTransactionByHash(ctx, pending)
	require.NoError(t, err)
	c.txCache.Wait()
	got, err := c.GetTransactionByHash(ctx, pending)
	require.NoError(t, err)
	require.Equal(t, storage.StatusPending, got.Status)
	require.Equal(t, 3, counter.txByHash, "pending transactions must never be cached")
}

func TestGetBlockTransactionsByID(t *testing.T) {
	c := mockClient(t)
	ctx := context.Background()

	// Any confirmed transaction names a block that demonstrably has
	// transactions.
	txs, err := c.LatestTransactions(ctx, mock.DefaultTxCount)
	require.NoError(t, err)
	var height int64 = -1
	for _, tx := range txs {
		if tx.BlockHeight != nil {
			height = *tx.BlockHeight
			break
		}
	}
	require.NotEqual(t, int64(-1), height)

	page, err := c.GetBlockTransactions(ctx, strconv.FormatInt(height, 10), "")
	require.NoError(t, err)
	require.NotEmpty(t, page.Items)
	for _, tx := range page.Items {
		require.Equal(t, height, *tx.BlockHeight)
	}

	// An unknown block yields an empty page, not an error.
	page, err = c.GetBlockTransactions(ctx, "999999", "")
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.Empty(t, page.NextCursor)
}

func TestAddressSummaryPerBackend(t *testing.T) {
	ctx := context.Background()

	c := mockClient(t)
	first, err := c.GetAddressSummary(ctx, "mn_shield-addr_test1qxy")
	require.NoError(t, err)
	require.NotNil(t, first)
	second, err := c.GetAddressSummary(ctx, "mn_shield-addr_test1qxy")
	require.NoError(t, err)
	require.Equal(t, first, second)

	// The node backend has no address view and reports absence, not error.
	// Construction does not dial, so no node needs to be listening.
	nodeBacked, err := NewStorageClient(&config.SourceConfig{NodeRPC: "ws://127.0.0.1:1"}, testLogger(t))
	require.NoError(t, err)
	defer nodeBacked.Shutdown()
	summary, err := nodeBacked.GetAddressSummary(ctx, "mn_shield-addr_test1qxy")
	require.NoError(t, err)
	require.Nil(t, summary)
}

func TestFacadeFallbackEquivalence(t *testing.T) {
	// An indexer that rejects everything makes the indexer-backed facade
	// indistinguishable from the mock-backed one.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"errors": [{"message": "unavailable"}]}`))
	}))
	t.Cleanup(ts.Close)

	viaIndexer, err := NewStorageClient(&config.SourceConfig{IndexerURL: ts.URL}, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(viaIndexer.Shutdown)
	viaMock := mockClient(t)
	ctx := context.Background()

	gotPage, err := viaIndexer.GetBlocksPage(ctx, "")
	require.NoError(t, err)
	wantPage, err := viaMock.GetBlocksPage(ctx, "")
	require.NoError(t, err)
	require.Equal(t, wantPage, gotPage)

	wantTxs, err := viaMock.LatestTransactions(ctx, 3)
	require.NoError(t, err)
	gotTx, err := viaIndexer.GetTransactionByHash(ctx, wantTxs[0].Hash)
	require.NoError(t, err)
	require.Equal(t, &wantTxs[0], gotTx)

	wantSummary, err := viaMock.GetAddressSummary(ctx, "mn_addr_test1abc")
	require.NoError(t, err)
	gotSummary, err := viaIndexer.GetAddressSummary(ctx, "mn_addr_test1abc")
	require.NoError(t, err)
	require.Equal(t, wantSummary, gotSummary)
}
