package node

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// JSON-RPC methods of the node's chain namespace.
const (
	methodGetFinalizedHead = "chain_getFinalizedHead"
	methodGetHeader        = "chain_getHeader"
	methodGetBlockHash     = "chain_getBlockHash"
	methodGetBlock         = "chain_getBlock"
	methodGetEvents        = "chain_getEvents"

	subscriptionNamespace = "chain"
	subscriptionNewHeads  = "newHeads"
)

// Extrinsic sections and event methods the scanner interprets.
const (
	sectionSystem    = "system"
	sectionTimestamp = "timestamp"

	methodTimestampSet    = "set"
	methodExtrinsicOK     = "ExtrinsicSuccess"
	methodExtrinsicFailed = "ExtrinsicFailed"
)

// Header is the chain_getHeader payload.
type Header struct {
	Number     hexutil.Uint64 `json:"number"`
	ParentHash string         `json:"parentHash"`
}

// Extrinsic is one transaction-like entry of a block body.
type Extrinsic struct {
	Hash    string   `json:"hash"`
	Section string   `json:"section"`
	Method  string   `json:"method"`
	Args    []string `json:"args"`
	Length  uint64   `json:"length"`
}

// Block is the block body carried inside the chain_getBlock payload.
type Block struct {
	Header     Header      `json:"header"`
	Extrinsics []Extrinsic `json:"extrinsics"`
}

// SignedBlock is the chain_getBlock payload.
type SignedBlock struct {
	Block Block `json:"block"`
}

// EventPhase ties an event to the extrinsic it was emitted for. A nil
// ApplyExtrinsic means the event belongs to the block itself.
type EventPhase struct {
	ApplyExtrinsic *uint32 `json:"applyExtrinsic,omitempty"`
}

// Event identifies the pallet and method that emitted an event.
type Event struct {
	Section string `json:"section"`
	Method  string `json:"method"`
}

// EventRecord is one entry of the chain_getEvents payload.
type EventRecord struct {
	Phase EventPhase `json:"phase"`
	Event Event      `json:"event"`
}

// ChainTip pairs the finalized head hash with its decoded height.
type ChainTip struct {
	Hash   string
	Height int64
}
