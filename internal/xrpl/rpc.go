// Package xrpl provides ledger clients (JSON-RPC and transaction stream) and
// the classic address codec.
package xrpl

import (
	"context"
	"encoding/json"

	"xrpl-nft-archiver/internal/domain"
)

// RPCClient is the subset of the ledger JSON-RPC API the archiver uses.
type RPCClient interface {
	// AccountInfo returns the validated account root. Returns ErrAccountNotFound
	// if the account does not exist.
	AccountInfo(ctx context.Context, address string) (*AccountInfo, error)

	// Tx returns a transaction with its metadata. Returns (nil, nil) if the
	// transaction is not known to the server.
	Tx(ctx context.Context, hash string) (*domain.LedgerEvent, error)
}

// StreamClient delivers validated transactions from the ledger stream.
type StreamClient interface {
	// SubscribeTransactions subscribes to the transactions stream.
	// The channel is closed when the client closes.
	SubscribeTransactions(ctx context.Context) (<-chan *domain.LedgerEvent, error)

	// Close closes the connection.
	Close() error
}

// AccountInfo is the part of an account root the archiver reads.
type AccountInfo struct {
	Account string
	// DomainHex is the raw hex-encoded Domain field. Empty when unset.
	DomainHex string
	Sequence  uint32
}

type accountInfoResult struct {
	AccountData struct {
		Account  string `json:"Account"`
		Domain   string `json:"Domain"`
		Sequence uint32 `json:"Sequence"`
	} `json:"account_data"`
	Status string `json:"status"`
}

// txEnvelope covers both response shapes: flat transaction fields (api v1)
// and a nested tx_json or transaction object (api v2, stream messages).
type txEnvelope struct {
	TxJSON      json.RawMessage `json:"tx_json,omitempty"`
	Transaction json.RawMessage `json:"transaction,omitempty"`
	Meta        json.RawMessage `json:"meta,omitempty"`
	Hash        string          `json:"hash,omitempty"`
	LedgerIndex int64           `json:"ledger_index,omitempty"`
	Validated   bool            `json:"validated,omitempty"`
}
