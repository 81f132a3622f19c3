// Package storage defines the canonical chain entities and the contract
// shared by every data source backend.
package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TxStatus is the lifecycle status of a transaction.
type TxStatus string

const (
	// StatusSuccess marks a transaction whose success event was observed.
	StatusSuccess TxStatus = "success"
	// StatusFailed marks a transaction whose failure event was observed.
	StatusFailed TxStatus = "failed"
	// StatusPending marks a transaction with no correlated outcome event yet.
	StatusPending TxStatus = "pending"
)

// Block is a finalized chain block. Entities are value objects rebuilt per
// query; nothing in the core persists them.
type Block struct {
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
	// Timestamp is always present; sources estimate it when the chain data
	// does not carry one.
	Timestamp time.Time `json:"timestamp"`
	TxCount   uint64    `json:"txCount"`
}

// Transaction is a single operation included in (or destined for) a block.
type Transaction struct {
	Hash   string   `json:"hash"`
	Status TxStatus `json:"status"`
	// BlockHeight and Timestamp are nil while the transaction is unconfirmed.
	BlockHeight *int64     `json:"blockHeight,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	// Size is the encoded length in bytes, when known.
	Size *uint64 `json:"size,omitempty"`
}

// AddressSummary is the aggregate view of a single address.
type AddressSummary struct {
	Address string           `json:"address"`
	Balance *decimal.Decimal `json:"balance,omitempty"`
	TxCount *uint64          `json:"txCount,omitempty"`
}

// Source is the backend contract shared by the node scanner, the indexer
// client, and the mock generator. Implementations are safe for concurrent
// use. A legitimately absent entity is reported as (nil, nil), never as an
// error; empty pages are normal results.
type Source interface {
	// LatestBlocks returns up to limit blocks, newest first.
	LatestBlocks(ctx context.Context, limit int) ([]Block, error)

	// LatestTransactions returns up to limit transactions, newest first.
	// Sources backed by bounded scans may return fewer when history is
	// sparse within their scan window.
	LatestTransactions(ctx context.Context, limit int) ([]Transaction, error)

	// Blocks returns one page of blocks, newest first, starting at the
	// given item offset.
	Blocks(ctx context.Context, offset int) (*BlockPage, error)

	// Transactions returns one page of transactions, newest first,
	// starting at the given item offset.
	Transactions(ctx context.Context, offset int) (*TransactionPage, error)

	// BlockByHeight returns the block at the given height.
	BlockByHeight(ctx context.Context, height int64) (*Block, error)

	// BlockByHash returns the block with the given hash.
	BlockByHash(ctx context.Context, hash string) (*Block, error)

	// TransactionByHash returns the transaction with the given hash,
	// matched case-insensitively.
	TransactionByHash(ctx context.Context, hash string) (*Transaction, error)

	// BlockTransactions returns one page of the given block's transactions
	// in operation order.
	BlockTransactions(ctx context.Context, block *Block, offset int) (*TransactionPage, error)

	// AddressSummary returns the aggregate view of an address. Sources
	// without an address view return (nil, nil).
	AddressSummary(ctx context.Context, address string) (*AddressSummary, error)

	// Name returns the name of the source.
	Name() string

	// Close releases any resources held by the source.
	Close() error
}
