package indexer

// The indexer's schema differs between deployments. Each operation carries
// an ordered list of candidate queries, tried strictly in order; the first
// one the indexer accepts wins. Variable names are shared across the
// candidates of a family, so one variables map serves them all.

// candidate is one schema guess: the query text and the data field the
// payload is expected under.
type candidate struct {
	name  string
	root  string
	query string
}

var blockListCandidates = []candidate{
	{
		name: "blocks",
		root: "blocks",
		query: `query Blocks($limit: Int!, $offset: Int!) {
  blocks(limit: $limit, offset: $offset, orderBy: HEIGHT_DESC) {
    height
    hash
    timestamp
    txCount
  }
}`,
	},
	{
		name: "blocksByHeader",
		root: "blocks",
		query: `query Blocks($limit: Int!, $offset: Int!) {
  blocks(limit: $limit, offset: $offset, orderBy: NUMBER_DESC) {
    header {
      number
      hash
      timestamp
    }
    extrinsicsCount
  }
}`,
	},
	{
		name: "allBlocks",
		root: "allBlocks",
		query: `query Blocks($limit: Int!, $offset: Int!) {
  allBlocks(first: $limit, skip: $offset, orderByDesc: NUMBER) {
    number
    id
    datetime
    transactionsCount
  }
}`,
	},
}

var transactionListCandidates = []candidate{
	{
		name: "transactions",
		root: "transactions",
		query: `query Transactions($limit: Int!, $offset: Int!) {
  transactions(limit: $limit, offset: $offset, orderBy: TIMESTAMP_DESC) {
    hash
    status
    blockHeight
    timestamp
    size
  }
}`,
	},
	{
		name: "extrinsics",
		root: "extrinsics",
		query: `query Transactions($limit: Int!, $offset: Int!) {
  extrinsics(limit: $limit, offset: $offset, orderByDesc: TIMESTAMP) {
    id
    result
    blockNumber
    time
    length
  }
}`,
	},
}

var blockTransactionsCandidates = []candidate{
	{
		name: "transactionsByBlock",
		root: "transactions",
		query: `query BlockTransactions($height: Int!, $limit: Int!, $offset: Int!) {
  transactions(blockHeight: $height, limit: $limit, offset: $offset, orderBy: INDEX_ASC) {
    hash
    status
    blockHeight
    timestamp
    size
  }
}`,
	},
	{
		name: "extrinsicsByBlock",
		root: "extrinsics",
		query: `query BlockTransactions($height: Int!, $limit: Int!, $offset: Int!) {
  extrinsics(blockNumber: $height, first: $limit, skip: $offset) {
    id
    result
    blockNumber
    time
    length
  }
}`,
	},
}

var blockByHeightCandidates = []candidate{
	{
		name: "blockByHeight",
		root: "block",
		query: `query Block($height: Int!) {
  block(height: $height) {
    height
    hash
    timestamp
    txCount
  }
}`,
	},
	{
		name: "blockByNumber",
		root: "block",
		query: `query Block($height: Int!) {
  block(number: $height) {
    header {
      number
      hash
      timestamp
    }
    extrinsicsCount
  }
}`,
	},
}

var blockByHashCandidates = []candidate{
	{
		name: "blockByHash",
		root: "block",
		query: `query Block($hash: String!) {
  block(hash: $hash) {
    height
    hash
    timestamp
    txCount
  }
}`,
	},
	{
		name: "blockByID",
		root: "block",
		query: `query Block($hash: String!) {
  block(id: $hash) {
    number
    id
    datetime
    transactionsCount
  }
}`,
	},
}

var transactionByHashCandidates = []candidate{
	{
		name: "transactionByHash",
		root: "transaction",
		query: `query Transaction($hash: String!) {
  transaction(hash: $hash) {
    hash
    status
    blockHeight
    timestamp
    size
  }
}`,
	},
	{
		name: "extrinsicByID",
		root: "extrinsic",
		query: `query Transaction($hash: String!) {
  extrinsic(id: $hash) {
    id
    result
    blockNumber
    time
    length
  }
}`,
	},
}

var addressSummaryCandidates = []candidate{
	{
		name: "address",
		root: "address",
		query: `query Address($address: String!) {
  address(id: $address) {
    balance
    txCount
  }
}`,
	},
	{
		name: "account",
		root: "account",
		query: `query Address($address: String!) {
  account(address: $address) {
    totalBalance
    transactionsCount
  }
}`,
	},
}
