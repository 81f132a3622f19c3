// Package mock implements a deterministic synthetic data source.
//
// The corpus is derived entirely from pure seeded hashing over per-entity
// seed strings, so two clients built with the same Config produce
// byte-identical entities. It backs the explorer when no live source is
// configured and serves as the fallback target of the indexer client.
package mock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/longphanquangminh/midnight-explorer/log"
	"github.com/longphanquangminh/midnight-explorer/storage"
)

const sourceName = "mock"

// Default corpus parameters.
const (
	DefaultTipHeight  int64 = 12345
	DefaultBlockCount       = 100
	DefaultTxCount          = 57
)

const (
	// hashLength is the length of a synthetic hash string.
	hashLength = 64

	// blockSpacing is the synthetic inter-block time.
	blockSpacing = 6 * time.Second

	// failureThreshold splits the unconfirmed corpus into pending and
	// failed transactions.
	failureThreshold = 0.7
)

// corpusAnchor pins block timestamps to a fixed instant so that corpora
// are byte-identical across process restarts.
var corpusAnchor = time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)

// Config holds the corpus parameters.
type Config struct {
	TipHeight  int64
	BlockCount int
	TxCount    int
}

// DefaultConfig returns the corpus parameters used in production.
func DefaultConfig() Config {
	return Config{
		TipHeight:  DefaultTipHeight,
		BlockCount: DefaultBlockCount,
		TxCount:    DefaultTxCount,
	}
}

// Client is a storage.Source serving a synthetic corpus. The corpus is
// built once at construction and never mutated afterwards, so the client
// is safe for unsynchronized concurrent reads. Callers must treat returned
// entities as read-only values.
type Client struct {
	cfg Config

	// blocks is ordered newest first, mirroring chain listing order.
	blocks        []storage.Block
	blockByHeight map[int64]int
	txs           []storage.Transaction

	logger *log.Logger
}

var _ storage.Source = (*Client)(nil)

// NewClient builds the synthetic corpus for the given parameters.
func NewClient(cfg Config, logger *log.Logger) *Client {
	c := &Client{
		cfg:    cfg,
		logger: logger.WithModule(sourceName),
	}
	c.buildBlocks()
	c.buildTransactions()
	c.logger.Debug("synthetic corpus built",
		"tip", cfg.TipHeight,
		"blocks", len(c.blocks),
		"transactions", len(c.txs),
	)
	return c
}

func (c *Client) buildBlocks() {
	c.blocks = make([]storage.Block, 0, c.cfg.BlockCount)
	c.blockByHeight = make(map[int64]int, c.cfg.BlockCount)
	for i := 0; i < c.cfg.BlockCount; i++ {
		height := c.cfg.TipHeight - int64(i)
		if height < 0 {
			break
		}
		seed := fmt.Sprintf("block:%d", height)
		c.blockByHeight[height] = len(c.blocks)
		c.blocks = append(c.blocks, storage.Block{
			Height:    height,
			Hash:      syntheticHash(seed),
			Timestamp: corpusAnchor.Add(-time.Duration(i) * blockSpacing),
			TxCount:   seededValue(seed+":txs") % 8,
		})
	}
}

func (c *Client) buildTransactions() {
	// The leading two thirds of the corpus are confirmed; the remainder is
	// split between pending and failed by the seeded failure threshold.
	confirmed := c.cfg.TxCount * 2 / 3
	c.txs = make([]storage.Transaction, 0, c.cfg.TxCount)
	for i := 0; i < c.cfg.TxCount; i++ {
		seed := fmt.Sprintf("tx:%d", i)
		size := 128 + seededValue(seed+":size")%3968
		tx := storage.Transaction{
			Hash: syntheticHash(seed),
			Size: &size,
		}
		switch {
		case i < confirmed && len(c.blocks) > 0:
			block := c.blocks[int(seededValue(seed+":block")%uint64(len(c.blocks)))]
			ts := block.Timestamp
			tx.Status = storage.StatusSuccess
			tx.BlockHeight = &block.Height
			tx.Timestamp = &ts
		case seededFloat(seed+":fail") > failureThreshold:
			tx.Status = storage.StatusFailed
		default:
			tx.Status = storage.StatusPending
		}
		c.txs = append(c.txs, tx)
	}
}

// LatestBlocks implements storage.Source.
func (c *Client) LatestBlocks(_ context.Context, limit int) ([]storage.Block, error) {
	if limit <= 0 {
		return []storage.Block{}, nil
	}
	if limit > len(c.blocks) {
		limit = len(c.blocks)
	}
	return c.blocks[:limit], nil
}

// LatestTransactions implements storage.Source.
func (c *Client) LatestTransactions(_ context.Context, limit int) ([]storage.Transaction, error) {
	if limit <= 0 {
		return []storage.Transaction{}, nil
	}
	if limit > len(c.txs) {
		limit = len(c.txs)
	}
	return c.txs[:limit], nil
}

// Blocks implements storage.Source.
func (c *Client) Blocks(_ context.Context, offset int) (*storage.BlockPage, error) {
	return storage.PageOf(c.blocks, offset), nil
}

// Transactions implements storage.Source.
func (c *Client) Transactions(_ context.Context, offset int) (*storage.TransactionPage, error) {
	return storage.PageOf(c.txs, offset), nil
}

// BlockByHeight implements storage.Source.
func (c *Client) BlockByHeight(_ context.Context, height int64) (*storage.Block, error) {
	i, ok := c.blockByHeight[height]
	if !ok {
		return nil, nil
	}
	block := c.blocks[i]
	return &block, nil
}

// BlockByHash implements storage.Source.
func (c *Client) BlockByHash(_ context.Context, hash string) (*storage.Block, error) {
	for i := range c.blocks {
		if strings.EqualFold(c.blocks[i].Hash, hash) {
			block := c.blocks[i]
			return &block, nil
		}
	}
	return nil, nil
}

// TransactionByHash implements storage.Source.
func (c *Client) TransactionByHash(_ context.Context, hash string) (*storage.Transaction, error) {
	for i := range c.txs {
		if strings.EqualFold(c.txs[i].Hash, hash) {
			tx := c.txs[i]
			return &tx, nil
		}
	}
	return nil, nil
}

// BlockTransactions implements storage.Source.
func (c *Client) BlockTransactions(_ context.Context, block *storage.Block, offset int) (*storage.TransactionPage, error) {
	if block == nil {
		return &storage.TransactionPage{Items: []storage.Transaction{}}, nil
	}
	var txs []storage.Transaction
	for i := range c.txs {
		if c.txs[i].BlockHeight != nil && *c.txs[i].BlockHeight == block.Height {
			txs = append(txs, c.txs[i])
		}
	}
	return storage.PageOf(txs, offset), nil
}

// AddressSummary implements storage.Source. The summary is a pure function
// of the address string.
func (c *Client) AddressSummary(_ context.Context, address string) (*storage.AddressSummary, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}
	seed := "addr:" + address
	balance := decimal.New(int64(seededValue(seed+":balance")%1_000_000_000_000), -6)
	txCount := seededValue(seed+":count") % 500
	return &storage.AddressSummary{
		Address: address,
		Balance: &balance,
		TxCount: &txCount,
	}, nil
}

// Name implements storage.Source.
func (c *Client) Name() string {
	return sourceName
}

// Close implements storage.Source.
func (c *Client) Close() error {
	return nil
}

// seededValue folds a seed string FNV-style and finishes with a
// splitmix64 mix, making every derived attribute a pure function of its
// seed string.
func seededValue(seed string) uint64 {
	v := uint64(14695981039346656037)
	for i := 0; i < len(seed); i++ {
		v ^= uint64(seed[i])
		v *= 1099511628211
	}
	v ^= v >> 30
	v *= 0xbf58476d1ce4e5b9
	v ^= v >> 27
	v *= 0x94d049bb133111eb
	v ^= v >> 31
	return v
}

// seededFloat maps a seed to [0, 1).
func seededFloat(seed string) float64 {
	return float64(seededValue(seed)>>11) / float64(uint64(1)<<53)
}

const hexDigits = "0123456789abcdef"

// syntheticHash derives a fixed-length hex identifier from the seed, one
// character at a time.
func syntheticHash(seed string) string {
	var b strings.Builder
	b.Grow(hashLength)
	for i := 0; i < hashLength; i++ {
		b.WriteByte(hexDigits[seededValue(fmt.Sprintf("%s:%d", seed, i))%16])
	}
	return b.String()
}
