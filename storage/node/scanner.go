// Package node implements the chain-node backend. It reconstructs explorer
// entities by scanning finalized blocks over the node's JSON-RPC interface;
// nothing is stored beyond an optional cache of immutable responses.
package node

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/longphanquangminh/midnight-explorer/cache/kvstore"
	"github.com/longphanquangminh/midnight-explorer/log"
	"github.com/longphanquangminh/midnight-explorer/metrics"
	"github.com/longphanquangminh/midnight-explorer/storage"
)

const sourceName = "node"

const (
	// blockInterval is the chain's block spacing, used to estimate
	// timestamps of blocks that carry no timestamp inherent.
	blockInterval = 6 * time.Second

	// fetchBatchSize is how many blocks a scan resolves per round before
	// checking whether it already has enough data.
	fetchBatchSize = 16

	// fetchParallelism bounds concurrent block fetches within a batch.
	fetchParallelism = 8
)

// Scan bounds. List operations look at most ScanDepth blocks behind the
// tip; transaction hash lookups walk up to LookupDepth blocks.
const (
	DefaultScanDepth   = 200
	DefaultLookupDepth = 500
)

// Config tunes the node-backed source.
type Config struct {
	// Endpoint is the JSON-RPC URL of the node.
	Endpoint string

	// ScanDepth bounds how many recent blocks list operations inspect.
	// Zero means DefaultScanDepth.
	ScanDepth int

	// LookupDepth bounds how many recent blocks a transaction hash lookup
	// inspects before reporting the hash as unknown. Zero means
	// DefaultLookupDepth.
	LookupDepth int

	// CacheDir, when set, enables a persistent cache of immutable node
	// responses under this directory.
	CacheDir string
}

// Client is the node-backed Source. Every answer is derived from the chain
// by walking finalized blocks; the client holds no state beyond a lazily
// dialed connection and the optional response cache.
type Client struct {
	cfg    Config
	conn   *Manager
	cache  kvstore.KVStore
	logger *log.Logger
}

var _ storage.Source = (*Client)(nil)

// NewClient validates the configuration and prepares a lazily connecting
// client. No network traffic happens until the first operation.
func NewClient(cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, &storage.ConfigurationError{Backend: sourceName, Msg: "node RPC endpoint is blank"}
	}
	if cfg.ScanDepth <= 0 {
		cfg.ScanDepth = DefaultScanDepth
	}
	if cfg.LookupDepth <= 0 {
		cfg.LookupDepth = DefaultLookupDepth
	}

	var cache kvstore.KVStore
	if cfg.CacheDir != "" {
		var err error
		cache, err = kvstore.OpenKVStore(logger, cfg.CacheDir, metrics.NewDefaultCacheMetrics(sourceName))
		if err != nil {
			return nil, fmt.Errorf("opening node response cache: %w", err)
		}
	}

	return &Client{
		cfg:    cfg,
		conn:   NewManager(cfg.Endpoint, logger),
		cache:  cache,
		logger: logger,
	}, nil
}

// tip returns the finalized head of the chain.
func (c *Client) tip(ctx context.Context) (*ChainTip, error) {
	var hash string
	if err := c.conn.Call(ctx, &hash, methodGetFinalizedHead); err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, &storage.ConnectionError{Endpoint: c.cfg.Endpoint, Err: fmt.Errorf("node returned an empty finalized head")}
	}
	header, err := c.getHeader(ctx, hash)
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, &storage.ConnectionError{Endpoint: c.cfg.Endpoint, Err: fmt.Errorf("finalized head %s has no header", hash)}
	}
	return &ChainTip{Hash: hash, Height: int64(header.Number)}, nil
}

// getHeader fetches the header for a block hash. Headers of finalized
// blocks are immutable, so responses are cacheable.
func (c *Client) getHeader(ctx context.Context, hash string) (*Header, error) {
	return kvstore.GetFromCacheOrCall(c.cache, false, kvstore.GenerateCacheKey(methodGetHeader, hash), func() (*Header, error) {
		var header *Header
		if err := c.conn.Call(ctx, &header, methodGetHeader, hash); err != nil {
			return nil, err
		}
		return header, nil
	})
}

// getBlockHash resolves a height to its finalized block hash. An empty
// result means the height lies beyond the finalized tip.
func (c *Client) getBlockHash(ctx context.Context, height int64) (string, error) {
	hash, err := kvstore.GetFromCacheOrCall(c.cache, false, kvstore.GenerateCacheKey(methodGetBlockHash, height), func() (*string, error) {
		var h string
		if err := c.conn.Call(ctx, &h, methodGetBlockHash, height); err != nil {
			return nil, err
		}
		if h == "" {
			return nil, nil
		}
		return &h, nil
	})
	if err != nil || hash == nil {
		return "", err
	}
	return *hash, nil
}

func (c *Client) getBlock(ctx context.Context, hash string) (*SignedBlock, error) {
	return kvstore.GetFromCacheOrCall(c.cache, false, kvstore.GenerateCacheKey(methodGetBlock, hash), func() (*SignedBlock, error) {
		var signed *SignedBlock
		if err := c.conn.Call(ctx, &signed, methodGetBlock, hash); err != nil {
			return nil, err
		}
		return signed, nil
	})
}

func (c *Client) getEvents(ctx context.Context, hash string) ([]EventRecord, error) {
	return kvstore.GetSliceFromCacheOrCall(c.cache, false, kvstore.GenerateCacheKey(methodGetEvents, hash), func() ([]EventRecord, error) {
		var events []EventRecord
		if err := c.conn.Call(ctx, &events, methodGetEvents, hash); err != nil {
			return nil, err
		}
		if len(events) == 0 {
			// An empty payload stays uncached: a hash can be queried before
			// its block finalizes, and must not pin an empty event list.
			return nil, nil
		}
		return events, nil
	})
}

// blockBundle is one fully resolved block: the explorer entity plus its
// transactions in extrinsic order.
type blockBundle struct {
	block storage.Block
	txs   []storage.Transaction
}

// fetchBlock resolves the block at a height. A nil bundle means the height
// lies beyond the finalized tip. A negative tipHeight means the caller does
// not know the tip; synthesized timestamps then count back from the present.
func (c *Client) fetchBlock(ctx context.Context, height, tipHeight int64) (*blockBundle, error) {
	hash, err := c.getBlockHash(ctx, height)
	if err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, nil
	}
	return c.fetchBlockByHash(ctx, hash, tipHeight)
}

// fetchBlockByHash resolves a block body and its events into explorer
// entities. A nil bundle means the node does not know the hash.
func (c *Client) fetchBlockByHash(ctx context.Context, hash string, tipHeight int64) (*blockBundle, error) {
	var (
		signed *SignedBlock
		events []EventRecord
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		signed, err = c.getBlock(egCtx, hash)
		return err
	})
	eg.Go(func() error {
		var err error
		events, err = c.getEvents(egCtx, hash)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if signed == nil {
		return nil, nil
	}

	height := int64(signed.Block.Header.Number)
	blockTime := c.blockTimestamp(signed.Block.Extrinsics, height, tipHeight)

	txs := []storage.Transaction{}
	for i, ext := range signed.Block.Extrinsics {
		if isInherent(ext) {
			continue
		}
		h := height
		ts := blockTime
		size := ext.Length
		txs = append(txs, storage.Transaction{
			Hash:        ext.Hash,
			Status:      c.statusFromEvents(events, uint32(i), height),
			BlockHeight: &h,
			Timestamp:   &ts,
			Size:        &size,
		})
	}

	return &blockBundle{
		block: storage.Block{
			Height:    height,
			Hash:      hash,
			Timestamp: blockTime,
			TxCount:   uint64(len(txs)),
		},
		txs: txs,
	}, nil
}

// blockTimestamp reads the millisecond timestamp inherent, falling back to
// a tip-relative estimate for blocks that carry none.
func (c *Client) blockTimestamp(extrinsics []Extrinsic, height, tipHeight int64) time.Time {
	for _, ext := range extrinsics {
		if ext.Section != sectionTimestamp || ext.Method != methodTimestampSet || len(ext.Args) == 0 {
			continue
		}
		ms, err := strconv.ParseInt(ext.Args[0], 10, 64)
		if err != nil {
			c.logger.Warn("unparseable timestamp inherent", "height", height, "arg", ext.Args[0])
			break
		}
		return time.UnixMilli(ms).UTC()
	}
	if tipHeight >= 0 {
		return time.Now().Add(-time.Duration(tipHeight-height) * blockInterval).UTC()
	}
	return time.Now().Add(-blockInterval).UTC()
}

// statusFromEvents derives an extrinsic's status from the block's system
// events. Success wins over failure for the same index; with no correlated
// marker at all the extrinsic counts as pending, e.g. when the event log
// lags the block body.
func (c *Client) statusFromEvents(events []EventRecord, index uint32, height int64) storage.TxStatus {
	var success, failed bool
	for _, rec := range events {
		if rec.Event.Section != sectionSystem || rec.Phase.ApplyExtrinsic == nil || *rec.Phase.ApplyExtrinsic != index {
			continue
		}
		switch rec.Event.Method {
		case methodExtrinsicOK:
			success = true
		case methodExtrinsicFailed:
			failed = true
		}
	}
	switch {
	case success && failed:
		c.logger.Warn("conflicting status markers for extrinsic, keeping success",
			"height", height,
			"extrinsic_index", index,
		)
		return storage.StatusSuccess
	case success:
		return storage.StatusSuccess
	case failed:
		return storage.StatusFailed
	default:
		return storage.StatusPending
	}
}

// isInherent reports whether an extrinsic is chain housekeeping rather than
// a user transaction.
func isInherent(ext Extrinsic) bool {
	return ext.Section == sectionTimestamp
}

// pageHeights returns the descending run of heights for one window,
// stopping at genesis.
func pageHeights(tipHeight int64, offset, limit int) []int64 {
	heights := make([]int64, 0, limit)
	for i := 0; i < limit; i++ {
		h := tipHeight - int64(offset) - int64(i)
		if h < 0 {
			break
		}
		heights = append(heights, h)
	}
	return heights
}

// scanBlocks resolves the given heights, at most fetchParallelism at a
// time. Bundles come back in the order of the heights argument; heights
// beyond the tip are skipped.
func (c *Client) scanBlocks(ctx context.Context, heights []int64, tipHeight int64) ([]*blockBundle, error) {
	bundles := make([]*blockBundle, len(heights))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(fetchParallelism)
	for i, height := range heights {
		eg.Go(func() error {
			bundle, err := c.fetchBlock(egCtx, height, tipHeight)
			if err != nil {
				return err
			}
			bundles[i] = bundle
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	kept := make([]*blockBundle, 0, len(bundles))
	for _, b := range bundles {
		if b != nil {
			kept = append(kept, b)
		}
	}
	return kept, nil
}

// collectTransactions scans finalized blocks newest first in small batches
// until it has gathered want transactions or exhausted the scan window.
// Within each block the extrinsics are reversed, so the listing is strictly
// newest first end to end.
func (c *Client) collectTransactions(ctx context.Context, tip *ChainTip, want int) ([]storage.Transaction, error) {
	scanID := uuid.New().String()
	txs := []storage.Transaction{}
	for scanned := 0; scanned < c.cfg.ScanDepth && len(txs) < want; scanned += fetchBatchSize {
		batch := fetchBatchSize
		if rest := c.cfg.ScanDepth - scanned; rest < batch {
			batch = rest
		}
		heights := pageHeights(tip.Height, scanned, batch)
		if len(heights) == 0 {
			break
		}
		bundles, err := c.scanBlocks(ctx, heights, tip.Height)
		if err != nil {
			return nil, err
		}
		for _, b := range bundles {
			for i := len(b.txs) - 1; i >= 0; i-- {
				txs = append(txs, b.txs[i])
			}
		}
		c.logger.Debug("scanned block batch",
			"scan_id", scanID,
			"from", heights[0],
			"batch", len(heights),
			"gathered", len(txs),
		)
		if len(heights) < batch {
			// Hit genesis; nothing older remains.
			break
		}
	}
	return txs, nil
}

// LatestBlocks returns up to limit blocks, newest first, capped at the
// scan depth.
func (c *Client) LatestBlocks(ctx context.Context, limit int) ([]storage.Block, error) {
	if limit <= 0 {
		return []storage.Block{}, nil
	}
	if limit > c.cfg.ScanDepth {
		limit = c.cfg.ScanDepth
	}
	tip, err := c.tip(ctx)
	if err != nil {
		return nil, err
	}
	bundles, err := c.scanBlocks(ctx, pageHeights(tip.Height, 0, limit), tip.Height)
	if err != nil {
		return nil, err
	}
	blocks := make([]storage.Block, 0, len(bundles))
	for _, b := range bundles {
		blocks = append(blocks, b.block)
	}
	return blocks, nil
}

// LatestTransactions returns up to limit transactions from recent blocks,
// newest block first.
func (c *Client) LatestTransactions(ctx context.Context, limit int) ([]storage.Transaction, error) {
	if limit <= 0 {
		return []storage.Transaction{}, nil
	}
	tip, err := c.tip(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := c.collectTransactions(ctx, tip, limit)
	if err != nil {
		return nil, err
	}
	if len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

// Blocks lists finalized blocks newest first. The next cursor is present
// whenever the window filled; a page past genesis comes back empty with no
// cursor.
func (c *Client) Blocks(ctx context.Context, offset int) (*storage.BlockPage, error) {
	if offset < 0 {
		offset = 0
	}
	tip, err := c.tip(ctx)
	if err != nil {
		return nil, err
	}
	bundles, err := c.scanBlocks(ctx, pageHeights(tip.Height, offset, storage.PageSize), tip.Height)
	if err != nil {
		return nil, err
	}

	blocks := make([]storage.Block, 0, len(bundles))
	for _, b := range bundles {
		blocks = append(blocks, b.block)
	}
	page := &storage.BlockPage{Items: blocks}
	if len(blocks) == storage.PageSize {
		page.NextCursor = storage.NextCursor(offset)
	}
	return page, nil
}

// Transactions lists transactions from recent blocks, newest block first.
// The cursor is only present when at least one more transaction is known
// to exist past the returned window.
func (c *Client) Transactions(ctx context.Context, offset int) (*storage.TransactionPage, error) {
	if offset < 0 {
		offset = 0
	}
	tip, err := c.tip(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := c.collectTransactions(ctx, tip, offset+storage.PageSize+1)
	if err != nil {
		return nil, err
	}
	return storage.PageOf(txs, offset), nil
}

// BlockByHeight resolves a single block. Heights beyond the finalized tip
// are a legitimate not-found, not an error.
func (c *Client) BlockByHeight(ctx context.Context, height int64) (*storage.Block, error) {
	if height < 0 {
		return nil, nil
	}
	bundle, err := c.fetchBlock(ctx, height, -1)
	if err != nil || bundle == nil {
		return nil, err
	}
	b := bundle.block
	return &b, nil
}

// BlockByHash resolves a single block by hash, case-insensitively.
func (c *Client) BlockByHash(ctx context.Context, hash string) (*storage.Block, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" {
		return nil, nil
	}
	bundle, err := c.fetchBlockByHash(ctx, hash, -1)
	if err != nil || bundle == nil {
		return nil, err
	}
	b := bundle.block
	return &b, nil
}

// TransactionByHash walks back from the tip looking for the extrinsic, at
// most LookupDepth blocks deep. Hash matching is case-insensitive.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (*storage.Transaction, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, nil
	}
	tip, err := c.tip(ctx)
	if err != nil {
		return nil, err
	}
	scanID := uuid.New().String()
	for scanned := 0; scanned < c.cfg.LookupDepth; scanned += fetchBatchSize {
		batch := fetchBatchSize
		if rest := c.cfg.LookupDepth - scanned; rest < batch {
			batch = rest
		}
		heights := pageHeights(tip.Height, scanned, batch)
		if len(heights) == 0 {
			break
		}
		bundles, err := c.scanBlocks(ctx, heights, tip.Height)
		if err != nil {
			return nil, err
		}
		for _, b := range bundles {
			for i := range b.txs {
				if strings.EqualFold(b.txs[i].Hash, hash) {
					tx := b.txs[i]
					return &tx, nil
				}
			}
		}
		if len(heights) < batch {
			break
		}
	}
	c.logger.Debug("transaction not found within lookup window",
		"scan_id", scanID,
		"hash", hash,
		"lookup_depth", c.cfg.LookupDepth,
	)
	return nil, nil
}

// BlockTransactions lists the block's transactions in extrinsic order.
func (c *Client) BlockTransactions(ctx context.Context, block *storage.Block, offset int) (*storage.TransactionPage, error) {
	if block == nil {
		return &storage.TransactionPage{Items: []storage.Transaction{}}, nil
	}
	if offset < 0 {
		offset = 0
	}
	bundle, err := c.fetchBlockByHash(ctx, block.Hash, -1)
	if err != nil {
		return nil, err
	}
	if bundle == nil {
		return &storage.TransactionPage{Items: []storage.Transaction{}}, nil
	}
	return storage.PageOf(bundle.txs, offset), nil
}

// AddressSummary is not answerable from block scans; the node keeps no
// address index.
func (c *Client) AddressSummary(ctx context.Context, address string) (*storage.AddressSummary, error) {
	return nil, nil
}

// Name implements storage.Source.
func (c *Client) Name() string {
	return sourceName
}

// Close releases the node connection and the response cache.
func (c *Client) Close() error {
	c.conn.Close()
	if c.cache != nil {
		return c.cache.Close()
	}
	return nil
}
