package indexer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/longphanquangminh/midnight-explorer/storage"
)

// blockInterval is the chain's block spacing, used to synthesize timestamps
// for records that carry none.
const blockInterval = 6 * time.Second

// Indexer deployments disagree on field names, so every canonical field is
// probed through an ordered list of source paths; the first present value
// wins. A path with dots descends into nested objects. The tables are data,
// not code: extending support for another deployment means adding a path,
// not another conditional.
var (
	blockHeightPaths    = []string{"height", "number", "header.height", "header.number", "blockNumber"}
	blockHashPaths      = []string{"hash", "id", "header.hash", "blockHash"}
	blockTimestampPaths = []string{"timestamp", "time", "datetime", "header.timestamp"}
	blockTxCountPaths   = []string{"txCount", "transactionsCount", "extrinsicsCount", "tx_count", "extrinsics_count"}

	txHashPaths      = []string{"hash", "id", "txHash"}
	txStatusPaths    = []string{"status", "result", "success", "outcome"}
	txHeightPaths    = []string{"blockHeight", "blockNumber", "block.height", "block.number", "height"}
	txTimestampPaths = []string{"timestamp", "time", "datetime", "block.timestamp"}
	txSizePaths      = []string{"size", "length", "bytes"}

	addressBalancePaths = []string{"balance", "totalBalance", "balances.free", "free"}
	addressTxCountPaths = []string{"txCount", "transactionsCount", "totalCount", "extrinsicsCount"}
)

// lookupPath resolves one dot-separated path inside a loosely-shaped record.
// A nil value counts as absent.
func lookupPath(rec map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = rec
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// probe returns the value under the first present path.
func probe(rec map[string]interface{}, paths []string) (interface{}, bool) {
	for _, path := range paths {
		if v, ok := lookupPath(rec, path); ok {
			return v, true
		}
	}
	return nil, false
}

// asInt64 coerces JSON numbers, decimal strings, and 0x-prefixed hex
// quantities.
func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			parsed, err := strconv.ParseInt(s[2:], 16, 64)
			return parsed, err == nil
		}
		parsed, err := strconv.ParseInt(s, 10, 64)
		return parsed, err == nil
	case json.Number:
		parsed, err := n.Int64()
		return parsed, err == nil
	default:
		return 0, false
	}
}

func asUint64(v interface{}) (uint64, bool) {
	n, ok := asInt64(v)
	if !ok || n < 0 {
		return 0, false
	}
	return uint64(n), true
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok && s != ""
}

// asTime accepts RFC 3339 strings and unix epochs. Numeric epochs beyond
// the year 33658 in seconds are interpreted as milliseconds, which covers
// every chain-plausible value.
func asTime(v interface{}) (time.Time, bool) {
	const millisCutoff = int64(1) << 40
	switch t := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), true
			}
		}
		if epoch, err := strconv.ParseInt(t, 10, 64); err == nil {
			return epochTime(epoch, millisCutoff), true
		}
		return time.Time{}, false
	case float64:
		return epochTime(int64(t), millisCutoff), true
	default:
		return time.Time{}, false
	}
}

func epochTime(epoch, millisCutoff int64) time.Time {
	if epoch >= millisCutoff {
		return time.UnixMilli(epoch).UTC()
	}
	return time.Unix(epoch, 0).UTC()
}

// asStatus normalizes the status vocabulary seen across deployments.
// Booleans report extrinsic success directly.
func asStatus(v interface{}) (storage.TxStatus, bool) {
	switch s := v.(type) {
	case bool:
		if s {
			return storage.StatusSuccess, true
		}
		return storage.StatusFailed, true
	case string:
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "success", "succeeded", "ok", "true", "finalized":
			return storage.StatusSuccess, true
		case "failed", "failure", "error", "false", "reverted":
			return storage.StatusFailed, true
		case "pending", "unconfirmed", "inpool", "ready":
			return storage.StatusPending, true
		}
	}
	return "", false
}

func asDecimal(v interface{}) (decimal.Decimal, bool) {
	switch d := v.(type) {
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(d))
		return parsed, err == nil
	case float64:
		return decimal.NewFromFloat(d), true
	default:
		return decimal.Decimal{}, false
	}
}

// mapBlock normalizes one loosely-shaped block record. Hash and height are
// mandatory; a record lacking either is reported as unmappable and dropped
// by the caller. A zero timestamp is filled in later, once the batch tip is
// known.
func mapBlock(rec map[string]interface{}) (storage.Block, error) {
	var block storage.Block

	v, ok := probe(rec, blockHeightPaths)
	if !ok {
		return block, fmt.Errorf("record has no height field")
	}
	height, ok := asInt64(v)
	if !ok {
		return block, fmt.Errorf("unusable height value %v", v)
	}

	v, ok = probe(rec, blockHashPaths)
	if !ok {
		return block, fmt.Errorf("record has no hash field")
	}
	hash, ok := asString(v)
	if !ok {
		return block, fmt.Errorf("unusable hash value %v", v)
	}

	block.Height = height
	block.Hash = hash
	if v, ok := probe(rec, blockTimestampPaths); ok {
		if ts, tok := asTime(v); tok {
			block.Timestamp = ts
		}
	}
	if v, ok := probe(rec, blockTxCountPaths); ok {
		if n, nok := asUint64(v); nok {
			block.TxCount = n
		}
	}
	return block, nil
}

// mapBlocks normalizes a list payload into blocks ordered newest first.
// Unmappable records are dropped; the rest of the page survives. Blocks
// without a source timestamp get one synthesized from their offset below
// the highest height in the batch.
func (c *Client) mapBlocks(raw json.RawMessage) ([]storage.Block, error) {
	var records []map[string]interface{}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("block list payload: %w", err)
	}

	blocks := make([]storage.Block, 0, len(records))
	for _, rec := range records {
		block, err := mapBlock(rec)
		if err != nil {
			c.logger.Debug("dropping unmappable block record", "err", err)
			continue
		}
		blocks = append(blocks, block)
	}

	// Deployments disagree on ordering too; the contract is newest first.
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Height > blocks[j].Height })

	if len(blocks) > 0 {
		tip := blocks[0].Height
		now := time.Now().UTC()
		for i := range blocks {
			if blocks[i].Timestamp.IsZero() {
				blocks[i].Timestamp = now.Add(-time.Duration(tip-blocks[i].Height) * blockInterval)
			}
		}
	}
	return blocks, nil
}

// mapSingleBlock normalizes a point-lookup payload. A JSON null is a
// legitimate not-found, reported as (nil, nil).
func (c *Client) mapSingleBlock(raw json.RawMessage) (*storage.Block, error) {
	rec, err := singleRecord(raw)
	if err != nil || rec == nil {
		return nil, err
	}
	block, err := mapBlock(rec)
	if err != nil {
		return nil, err
	}
	if block.Timestamp.IsZero() {
		block.Timestamp = time.Now().UTC()
	}
	return &block, nil
}

// mapTransaction normalizes one loosely-shaped transaction record. Only the
// hash is mandatory; pending transactions legitimately lack a height and
// timestamp. A missing status marker means success for confirmed records
// and pending otherwise.
func mapTransaction(rec map[string]interface{}) (storage.Transaction, error) {
	var tx storage.Transaction

	v, ok := probe(rec, txHashPaths)
	if !ok {
		return tx, fmt.Errorf("record has no hash field")
	}
	hash, ok := asString(v)
	if !ok {
		return tx, fmt.Errorf("unusable hash value %v", v)
	}
	tx.Hash = hash

	if v, ok := probe(rec, txHeightPaths); ok {
		if height, hok := asInt64(v); hok {
			tx.BlockHeight = &height
		}
	}
	if v, ok := probe(rec, txTimestampPaths); ok {
		if ts, tok := asTime(v); tok {
			tx.Timestamp = &ts
		}
	}
	if v, ok := probe(rec, txSizePaths); ok {
		if size, sok := asUint64(v); sok {
			tx.Size = &size
		}
	}

	tx.Status = storage.StatusPending
	if tx.BlockHeight != nil {
		tx.Status = storage.StatusSuccess
	}
	if v, ok := probe(rec, txStatusPaths); ok {
		if status, sok := asStatus(v); sok {
			tx.Status = status
		}
	}
	return tx, nil
}

// mapTransactions normalizes a list payload. Ordering is preserved as
// returned: pending entries carry no height to sort by.
func (c *Client) mapTransactions(raw json.RawMessage) ([]storage.Transaction, error) {
	var records []map[string]interface{}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("transaction list payload: %w", err)
	}

	txs := make([]storage.Transaction, 0, len(records))
	for _, rec := range records {
		tx, err := mapTransaction(rec)
		if err != nil {
			c.logger.Debug("dropping unmappable transaction record", "err", err)
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// mapSingleTransaction normalizes a point-lookup payload; JSON null is a
// legitimate not-found.
func (c *Client) mapSingleTransaction(raw json.RawMessage) (*storage.Transaction, error) {
	rec, err := singleRecord(raw)
	if err != nil || rec == nil {
		return nil, err
	}
	tx, err := mapTransaction(rec)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// mapAddressSummary normalizes an address payload. Balance and transaction
// count are both optional, but a record offering neither is unmappable.
func (c *Client) mapAddressSummary(raw json.RawMessage, address string) (*storage.AddressSummary, error) {
	rec, err := singleRecord(raw)
	if err != nil || rec == nil {
		return nil, err
	}

	summary := &storage.AddressSummary{Address: address}
	if v, ok := probe(rec, addressBalancePaths); ok {
		if balance, bok := asDecimal(v); bok {
			summary.Balance = &balance
		}
	}
	if v, ok := probe(rec, addressTxCountPaths); ok {
		if count, cok := asUint64(v); cok {
			summary.TxCount = &count
		}
	}
	if summary.Balance == nil && summary.TxCount == nil {
		return nil, fmt.Errorf("address record has neither balance nor transaction count")
	}
	return summary, nil
}

// singleRecord unmarshals a point-lookup payload. (nil, nil) means the
// indexer explicitly reported no match.
func singleRecord(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var rec map[string]interface{}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("point lookup payload: %w", err)
	}
	return rec, nil
}
