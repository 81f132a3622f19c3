// Package client implements the data-access facade the explorer consumes:
// a backend selected once at construction, a unified cursor-paginated
// contract, small in-process caches for immutable lookups, and
// per-operation request metrics.
package client

import (
	"context"
	"strconv"
	"strings"

	"github.com/dgraph-io/ristretto"

	"github.com/longphanquangminh/midnight-explorer/config"
	"github.com/longphanquangminh/midnight-explorer/log"
	"github.com/longphanquangminh/midnight-explorer/metrics"
	"github.com/longphanquangminh/midnight-explorer/storage"
	"github.com/longphanquangminh/midnight-explorer/storage/indexer"
	"github.com/longphanquangminh/midnight-explorer/storage/mock"
	"github.com/longphanquangminh/midnight-explorer/storage/node"
)

const (
	blockCost = 1
	txCost    = 1
)

// Metric endpoint labels, one per facade operation.
const (
	endpointLatestBlocks       = "latest_blocks"
	endpointLatestTransactions = "latest_transactions"
	endpointBlocksPage         = "blocks_page"
	endpointTransactionsPage   = "transactions_page"
	endpointBlockByID          = "block_by_id"
	endpointTransactionByHash  = "transaction_by_hash"
	endpointAddressSummary     = "address_summary"
	endpointBlockTransactions  = "block_transactions"
)

// StorageClient routes explorer queries to the selected backend with
// knowledge of chain semantics: which lookups are immutable and therefore
// cacheable, and how string ids map onto chain coordinates.
type StorageClient struct {
	source storage.Source

	blockCache *ristretto.Cache
	txCache    *ristretto.Cache

	blockCacheMetrics *metrics.CacheMetrics
	txCacheMetrics    *metrics.CacheMetrics
	metrics           *metrics.RequestMetrics

	logger *log.Logger
}

// newSource selects the backend strategy. The indexer wins over the node
// when both are configured; the synthetic corpus serves when nothing is,
// or when forced. An endpoint that is set but blank is a configuration
// error surfaced by the backend's own constructor.
func newSource(cfg *config.SourceConfig, logger *log.Logger) (storage.Source, error) {
	if cfg == nil {
		cfg = &config.SourceConfig{}
	}
	switch {
	case cfg.UseMock || (cfg.NodeRPC == "" && cfg.IndexerURL == ""):
		return mock.NewClient(mock.DefaultConfig(), logger.WithModule("mock")), nil
	case cfg.IndexerURL != "":
		fallback := mock.NewClient(mock.DefaultConfig(), logger.WithModule("mock"))
		return indexer.NewClient(indexer.Config{Endpoint: cfg.IndexerURL}, fallback, logger.WithModule("indexer"))
	default:
		return node.NewClient(node.Config{
			Endpoint:    cfg.NodeRPC,
			ScanDepth:   cfg.ScanDepth,
			LookupDepth: cfg.LookupDepth,
			CacheDir:    cfg.CacheDir,
		}, logger.WithModule("node"))
	}
}

// NewStorageClient creates a new storage client over the backend the
// configuration selects.
func NewStorageClient(cfg *config.SourceConfig, logger *log.Logger) (*StorageClient, error) {
	source, err := newSource(cfg, logger)
	if err != nil {
		return nil, err
	}
	blockCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        1024 * 10,
		MaxCost:            1024,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		_ = source.Close()
		logger.Error("failed to create block cache", "err", err)
		return nil, err
	}
	txCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        1024 * 10,
		MaxCost:            1024,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		_ = source.Close()
		blockCache.Close()
		logger.Error("failed to create tx cache", "err", err)
		return nil, err
	}
	logger.Info("storage client initialized", "source", source.Name())
	return &StorageClient{
		source:            source,
		blockCache:        blockCache,
		txCache:           txCache,
		blockCacheMetrics: metrics.NewDefaultCacheMetrics("client_blocks"),
		txCacheMetrics:    metrics.NewDefaultCacheMetrics("client_txs"),
		metrics:           metrics.NewDefaultRequestMetrics("client"),
		logger:            logger,
	}, nil
}

// SourceName names the backend serving this client.
func (c *StorageClient) SourceName() string {
	return c.source.Name()
}

// Shutdown releases the backend and the in-process caches.
func (c *StorageClient) Shutdown() {
	if err := c.source.Close(); err != nil {
		c.logger.Error("failed to close source", "source", c.source.Name(), "err", err)
	}
	c.blockCache.Close()
	c.txCache.Close()
}

func (c *StorageClient) requestFailed(endpoint string, err error) {
	c.metrics.RequestCounter(endpoint, "failure", failureCause(err)).Inc()
	c.logger.Error("request failed", "endpoint", endpoint, "err", err)
}

func (c *StorageClient) requestServed(endpoint string) {
	c.metrics.RequestCounter(endpoint, "success").Inc()
}

func failureCause(err error) string {
	switch {
	case storage.IsConfigurationError(err):
		return "configuration_error"
	case storage.IsConnectionError(err):
		return "connection_error"
	default:
		return "source_error"
	}
}

// parseHeight interprets purely numeric ids as block heights.
func parseHeight(id string) (int64, bool) {
	if id == "" {
		return 0, false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	height, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, false
	}
	return height, true
}

// LatestBlocks returns up to limit blocks, newest first.
func (c *StorageClient) LatestBlocks(ctx context.Context, limit int) ([]storage.Block, error) {
	timer := c.metrics.RequestTimer(endpointLatestBlocks)
	defer timer.ObserveDuration()

	blocks, err := c.source.LatestBlocks(ctx, limit)
	if err != nil {
		c.requestFailed(endpointLatestBlocks, err)
		return nil, err
	}
	c.requestServed(endpointLatestBlocks)
	return blocks, nil
}

// LatestTransactions returns up to limit transactions, newest first.
func (c *StorageClient) LatestTransactions(ctx context.Context, limit int) ([]storage.Transaction, error) {
	timer := c.metrics.RequestTimer(endpointLatestTransactions)
	defer timer.ObserveDuration()

	txs, err := c.source.LatestTransactions(ctx, limit)
	if err != nil {
		c.requestFailed(endpointLatestTransactions, err)
		return nil, err
	}
	c.requestServed(endpointLatestTransactions)
	return txs, nil
}

// GetBlocksPage returns one page of blocks, newest first. An absent or
// malformed cursor means the first page.
func (c *StorageClient) GetBlocksPage(ctx context.Context, cursor string) (*storage.BlockPage, error) {
	timer := c.metrics.RequestTimer(endpointBlocksPage)
	defer timer.ObserveDuration()

	page, err := c.source.Blocks(ctx, storage.DecodeCursor(cursor))
	if err != nil {
		c.requestFailed(endpointBlocksPage, err)
		return nil, err
	}
	c.requestServed(endpointBlocksPage)
	return page, nil
}

// GetTransactionsPage returns one page of transactions, newest first.
func (c *StorageClient) GetTransactionsPage(ctx context.Context, cursor string) (*storage.TransactionPage, error) {
	timer := c.metrics.RequestTimer(endpointTransactionsPage)
	defer timer.ObserveDuration()

	page, err := c.source.Transactions(ctx, storage.DecodeCursor(cursor))
	if err != nil {
		c.requestFailed(endpointTransactionsPage, err)
		return nil, err
	}
	c.requestServed(endpointTransactionsPage)
	return page, nil
}

// GetBlockByHashOrHeight returns the block the id names, or nil when no
// such block exists. This lookup is cached.
func (c *StorageClient) GetBlockByHashOrHeight(ctx context.Context, id string) (*storage.Block, error) {
	timer := c.metrics.RequestTimer(endpointBlockByID)
	defer timer.ObserveDuration()

	block, err := c.blockByID(ctx, id)
	if err != nil {
		c.requestFailed(endpointBlockByID, err)
		return nil, err
	}
	c.requestServed(endpointBlockByID)
	return block, nil
}

// blockByID resolves an id to a block: a purely numeric id is a height,
// anything else a hash. Blocks found by hash are cached under their height,
// so later height lookups of the same block hit the cache too.
func (c *StorageClient) blockByID(ctx context.Context, id string) (*storage.Block, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	if height, ok := parseHeight(id); ok {
		if block, ok := c.cachedBlock(height); ok {
			return block, nil
		}
		block, err := c.source.BlockByHeight(ctx, height)
		if err != nil {
			return nil, err
		}
		c.cacheBlock(block)
		return block, nil
	}
	block, err := c.source.BlockByHash(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cacheBlock(block)
	return block, nil
}

func (c *StorageClient) cachedBlock(height int64) (*storage.Block, bool) {
	untyped, ok := c.blockCache.Get(height)
	if !ok {
		c.blockCacheMetrics.LocalCacheReads(metrics.CacheReadStatusMiss).Inc()
		return nil, false
	}
	block, ok := untyped.(*storage.Block)
	if !ok {
		c.blockCacheMetrics.LocalCacheReads(metrics.CacheReadStatusBadValue).Inc()
		return nil, false
	}
	c.blockCacheMetrics.LocalCacheReads(metrics.CacheReadStatusHit).Inc()
	return block, true
}

// cacheBlock adds a block to the client's block cache. Finalized blocks
// are immutable, so entries never need invalidation.
func (c *StorageClient) cacheBlock(block *storage.Block) {
	if block == nil {
		return
	}
	c.blockCache.Set(block.Height, block, blockCost)
}

// GetTransactionByHash returns the transaction with the given hash, or nil
// when no such transaction is known. Confirmed transactions are cached;
// pending ones are not, since their status is expected to change.
func (c *StorageClient) GetTransactionByHash(ctx context.Context, hash string) (*storage.Transaction, error) {
	timer := c.metrics.RequestTimer(endpointTransactionByHash)
	defer timer.ObserveDuration()

	hash = strings.TrimSpace(hash)
	if hash == "" {
		c.requestServed(endpointTransactionByHash)
		return nil, nil
	}
	key := strings.ToLower(hash)
	if tx, ok := c.cachedTransaction(key); ok {
		c.requestServed(endpointTransactionByHash)
		return tx, nil
	}
	tx, err := c.source.TransactionByHash(ctx, hash)
	if err != nil {
		c.requestFailed(endpointTransactionByHash, err)
		return nil, err
	}
	c.cacheTransaction(key, tx)
	c.requestServed(endpointTransactionByHash)
	return tx, nil
}

func (c *StorageClient) cachedTransaction(key string) (*storage.Transaction, bool) {
	untyped, ok := c.txCache.Get(key)
	if !ok {
		c.txCacheMetrics.LocalCacheReads(metrics.CacheReadStatusMiss).Inc()
		return nil, false
	}
	tx, ok := untyped.(*storage.Transaction)
	if !ok {
		c.txCacheMetrics.LocalCacheReads(metrics.CacheReadStatusBadValue).Inc()
		return nil, false
	}
	c.txCacheMetrics.LocalCacheReads(metrics.CacheReadStatusHit).Inc()
	return tx, true
}

func (c *StorageClient) cacheTransaction(key string, tx *storage.Transaction) {
	if tx == nil || tx.Status == storage.StatusPending {
		return
	}
	c.txCache.Set(key, tx, txCost)
}

// GetBlockTransactions returns one page of the transactions of the block
// the id names, in operation order. An unknown block yields an empty page.
func (c *StorageClient) GetBlockTransactions(ctx context.Context, id string, cursor string) (*storage.TransactionPage, error) {
	timer := c.metrics.RequestTimer(endpointBlockTransactions)
	defer timer.ObserveDuration()

	block, err := c.blockByID(ctx, id)
	if err != nil {
		c.requestFailed(endpointBlockTransactions, err)
		return nil, err
	}
	if block == nil {
		c.requestServed(endpointBlockTransactions)
		return &storage.TransactionPage{Items: []storage.Transaction{}}, nil
	}
	page, err := c.source.BlockTransactions(ctx, block, storage.DecodeCursor(cursor))
	if err != nil {
		c.requestFailed(endpointBlockTransactions, err)
		return nil, err
	}
	c.requestServed(endpointBlockTransactions)
	return page, nil
}

// GetAddressSummary returns the aggregate view of an address, or nil when
// the backend has no address view.
func (c *StorageClient) GetAddressSummary(ctx context.Context, address string) (*storage.AddressSummary, error) {
	timer := c.metrics.RequestTimer(endpointAddressSummary)
	defer timer.ObserveDuration()

	summary, err := c.source.AddressSummary(ctx, address)
	if err != nil {
		c.requestFailed(endpointAddressSummary, err)
		return nil, err
	}
	c.requestServed(endpointAddressSummary)
	return summary, nil
}
