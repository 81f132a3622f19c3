// Package indexer implements the indexing-service backend. The indexer's
// schema differs between deployments and is not controlled by this project,
// so every operation probes an ordered list of plausible query shapes and
// normalizes whatever comes back through field-path tables. When nothing
// usable comes back at all, operations fall back to the deterministic
// synthetic source instead of surfacing an error: the contract of this
// backend is that reads always produce a renderable value.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/longphanquangminh/midnight-explorer/log"
	"github.com/longphanquangminh/midnight-explorer/storage"
)

const sourceName = "indexer"

// probeTimeout caps a single candidate query, so one hanging shape cannot
// starve the ones behind it.
const probeTimeout = 10 * time.Second

// Config tunes the indexer-backed source.
type Config struct {
	// Endpoint is the HTTP URL queries are POSTed to.
	Endpoint string
}

// Client is the indexer-backed Source. It never surfaces transport or
// schema failures; those trigger the fallback source instead.
type Client struct {
	endpoint string
	http     *resty.Client
	fallback storage.Source
	logger   *log.Logger
}

var _ storage.Source = (*Client)(nil)

// queryRequest is the outbound exchange format: a query document plus named
// variables.
type queryRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

// envelope is the inbound exchange format: a data object keyed by query
// root, or application errors.
type envelope struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []queryError               `json:"errors"`
}

type queryError struct {
	Message string `json:"message"`
}

// NewClient validates the configuration and prepares the probing client.
// fallback serves every operation the indexer cannot; it must be non-nil.
func NewClient(cfg Config, fallback storage.Source, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, &storage.ConfigurationError{Backend: sourceName, Msg: "indexer endpoint is blank"}
	}
	if fallback == nil {
		return nil, &storage.ConfigurationError{Backend: sourceName, Msg: "no fallback source provided"}
	}
	return &Client{
		endpoint: cfg.Endpoint,
		http:     resty.New().SetTimeout(probeTimeout),
		fallback: fallback,
		logger:   logger,
	}, nil
}

// tryQueries executes the candidate shapes strictly in order and returns
// the payload of the first one the indexer accepts. This is schema-shape
// probing, not retry-on-transient-failure: probing stops at the first
// success, and must stay sequential because issuing candidates in parallel
// would break first-success semantics. Individual rejections are internal;
// only exhaustion of every candidate is an error.
func (c *Client) tryQueries(ctx context.Context, family string, candidates []candidate, vars map[string]interface{}) (json.RawMessage, error) {
	requestID := uuid.New().String()
	for _, cand := range candidates {
		raw, err := c.execute(ctx, cand, vars, requestID)
		if err != nil {
			c.logger.Debug("candidate query rejected",
				"family", family,
				"candidate", cand.name,
				"request_id", requestID,
				"err", err,
			)
			continue
		}
		return raw, nil
	}
	return nil, fmt.Errorf("every %s query shape was rejected", family)
}

// execute POSTs one candidate and extracts the payload under its root
// field. A root that is present but null is a successful response; a
// missing root means the shape guess was wrong.
func (c *Client) execute(ctx context.Context, cand candidate, vars map[string]interface{}, requestID string) (json.RawMessage, error) {
	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID).
		SetBody(queryRequest{Query: cand.query, Variables: vars}).
		SetResult(&env).
		Post(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("status %s", resp.Status())
	}
	if len(env.Errors) > 0 {
		return nil, fmt.Errorf("application error: %s", env.Errors[0].Message)
	}
	raw, ok := env.Data[cand.root]
	if !ok {
		return nil, fmt.Errorf("response carries no %q field", cand.root)
	}
	return raw, nil
}

// fellBack records that an operation is being served from the fallback
// source. The cause is logged, never surfaced.
func (c *Client) fellBack(op string, err error) {
	reason := "empty result set"
	if err != nil {
		reason = err.Error()
	}
	c.logger.Warn("serving operation from fallback source", "op", op, "reason", reason)
}

// listBlocks fetches and maps one run of blocks.
func (c *Client) listBlocks(ctx context.Context, limit, offset int) ([]storage.Block, error) {
	raw, err := c.tryQueries(ctx, "block list", blockListCandidates, map[string]interface{}{
		"limit":  limit,
		"offset": offset,
	})
	if err != nil {
		return nil, err
	}
	return c.mapBlocks(raw)
}

// listTransactions fetches and maps one run of transactions.
func (c *Client) listTransactions(ctx context.Context, limit, offset int) ([]storage.Transaction, error) {
	raw, err := c.tryQueries(ctx, "transaction list", transactionListCandidates, map[string]interface{}{
		"limit":  limit,
		"offset": offset,
	})
	if err != nil {
		return nil, err
	}
	return c.mapTransactions(raw)
}

// LatestBlocks implements storage.Source.
func (c *Client) LatestBlocks(ctx context.Context, limit int) ([]storage.Block, error) {
	if limit <= 0 {
		return []storage.Block{}, nil
	}
	blocks, err := c.listBlocks(ctx, limit, 0)
	if err != nil || len(blocks) == 0 {
		c.fellBack("LatestBlocks", err)
		return c.fallback.LatestBlocks(ctx, limit)
	}
	if len(blocks) > limit {
		blocks = blocks[:limit]
	}
	return blocks, nil
}

// LatestTransactions implements storage.Source.
func (c *Client) LatestTransactions(ctx context.Context, limit int) ([]storage.Transaction, error) {
	if limit <= 0 {
		return []storage.Transaction{}, nil
	}
	txs, err := c.listTransactions(ctx, limit, 0)
	if err != nil || len(txs) == 0 {
		c.fellBack("LatestTransactions", err)
		return c.fallback.LatestTransactions(ctx, limit)
	}
	if len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

// Blocks implements storage.Source. The window is requested one item past
// the page size, so a full page plus overflow proves more items exist.
func (c *Client) Blocks(ctx context.Context, offset int) (*storage.BlockPage, error) {
	if offset < 0 {
		offset = 0
	}
	blocks, err := c.listBlocks(ctx, storage.PageSize+1, offset)
	if err != nil || len(blocks) == 0 {
		c.fellBack("Blocks", err)
		return c.fallback.Blocks(ctx, offset)
	}
	page := &storage.BlockPage{Items: blocks}
	if len(blocks) > storage.PageSize {
		page.Items = blocks[:storage.PageSize]
		page.NextCursor = storage.NextCursor(offset)
	}
	return page, nil
}

// Transactions implements storage.Source.
func (c *Client) Transactions(ctx context.Context, offset int) (*storage.TransactionPage, error) {
	if offset < 0 {
		offset = 0
	}
	txs, err := c.listTransactions(ctx, storage.PageSize+1, offset)
	if err != nil || len(txs) == 0 {
		c.fellBack("Transactions", err)
		return c.fallback.Transactions(ctx, offset)
	}
	page := &storage.TransactionPage{Items: txs}
	if len(txs) > storage.PageSize {
		page.Items = txs[:storage.PageSize]
		page.NextCursor = storage.NextCursor(offset)
	}
	return page, nil
}

// BlockByHeight implements storage.Source. An explicit null from the
// indexer is a legitimate not-found and does not trigger fallback.
func (c *Client) BlockByHeight(ctx context.Context, height int64) (*storage.Block, error) {
	if height < 0 {
		return nil, nil
	}
	raw, err := c.tryQueries(ctx, "block by height", blockByHeightCandidates, map[string]interface{}{
		"height": height,
	})
	if err != nil {
		c.fellBack("BlockByHeight", err)
		return c.fallback.BlockByHeight(ctx, height)
	}
	block, err := c.mapSingleBlock(raw)
	if err != nil {
		c.fellBack("BlockByHeight", err)
		return c.fallback.BlockByHeight(ctx, height)
	}
	return block, nil
}

// BlockByHash implements storage.Source.
func (c *Client) BlockByHash(ctx context.Context, hash string) (*storage.Block, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, nil
	}
	raw, err := c.tryQueries(ctx, "block by hash", blockByHashCandidates, map[string]interface{}{
		"hash": hash,
	})
	if err != nil {
		c.fellBack("BlockByHash", err)
		return c.fallback.BlockByHash(ctx, hash)
	}
	block, err := c.mapSingleBlock(raw)
	if err != nil {
		c.fellBack("BlockByHash", err)
		return c.fallback.BlockByHash(ctx, hash)
	}
	return block, nil
}

// TransactionByHash implements storage.Source.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (*storage.Transaction, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, nil
	}
	raw, err := c.tryQueries(ctx, "transaction by hash", transactionByHashCandidates, map[string]interface{}{
		"hash": hash,
	})
	if err != nil {
		c.fellBack("TransactionByHash", err)
		return c.fallback.TransactionByHash(ctx, hash)
	}
	tx, err := c.mapSingleTransaction(raw)
	if err != nil {
		c.fellBack("TransactionByHash", err)
		return c.fallback.TransactionByHash(ctx, hash)
	}
	return tx, nil
}

// BlockTransactions implements storage.Source. Records in a block listing
// inherit the block's height and timestamp when the indexer omits them.
func (c *Client) BlockTransactions(ctx context.Context, block *storage.Block, offset int) (*storage.TransactionPage, error) {
	if block == nil {
		return &storage.TransactionPage{Items: []storage.Transaction{}}, nil
	}
	if offset < 0 {
		offset = 0
	}
	raw, err := c.tryQueries(ctx, "block transactions", blockTransactionsCandidates, map[string]interface{}{
		"height": block.Height,
		"limit":  storage.PageSize + 1,
		"offset": offset,
	})
	if err != nil {
		c.fellBack("BlockTransactions", err)
		return c.fallback.BlockTransactions(ctx, block, offset)
	}
	txs, err := c.mapTransactions(raw)
	if err != nil || len(txs) == 0 {
		c.fellBack("BlockTransactions", err)
		return c.fallback.BlockTransactions(ctx, block, offset)
	}
	for i := range txs {
		if txs[i].BlockHeight == nil {
			height := block.Height
			ts := block.Timestamp
			txs[i].BlockHeight = &height
			txs[i].Timestamp = &ts
			if txs[i].Status == storage.StatusPending {
				txs[i].Status = storage.StatusSuccess
			}
		}
	}
	page := &storage.TransactionPage{Items: txs}
	if len(txs) > storage.PageSize {
		page.Items = txs[:storage.PageSize]
		page.NextCursor = storage.NextCursor(offset)
	}
	return page, nil
}

// AddressSummary implements storage.Source.
func (c *Client) AddressSummary(ctx context.Context, address string) (*storage.AddressSummary, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}
	raw, err := c.tryQueries(ctx, "address summary", addressSummaryCandidates, map[string]interface{}{
		"address": address,
	})
	if err != nil {
		c.fellBack("AddressSummary", err)
		return c.fallback.AddressSummary(ctx, address)
	}
	summary, err := c.mapAddressSummary(raw, address)
	if err != nil {
		c.fellBack("AddressSummary", err)
		return c.fallback.AddressSummary(ctx, address)
	}
	return summary, nil
}

// Name implements storage.Source.
func (c *Client) Name() string {
	return sourceName
}

// Close releases the transport and the fallback source.
func (c *Client) Close() error {
	c.http.GetClient().CloseIdleConnections()
	return c.fallback.Close()
}
