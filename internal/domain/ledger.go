package domain

import (
	"encoding/json"
	"fmt"
)

// Ledger constants used by the mint pipeline.
const (
	TxTypeNFTokenMint      = "NFTokenMint"
	ResultSuccess          = "tesSUCCESS"
	LedgerEntryNFTokenPage = "NFTokenPage"
)

// LedgerEvent is a validated ledger transaction together with its metadata.
// Field names follow the ledger's JSON encoding so raw notifications decode
// directly. Raw keeps the original document for failure records.
type LedgerEvent struct {
	Account         string           `json:"Account,omitempty"`
	Issuer          string           `json:"Issuer,omitempty"`
	Domain          string           `json:"Domain,omitempty"`
	TransactionType string           `json:"TransactionType,omitempty"`
	URI             string           `json:"URI,omitempty"`
	NFTokenID       string           `json:"NFTokenID,omitempty"`
	NFTokenTaxon    *uint32          `json:"NFTokenTaxon,omitempty"`
	Hash            string           `json:"hash,omitempty"`
	LedgerIndex     int64            `json:"ledger_index,omitempty"`
	Validated       bool             `json:"validated,omitempty"`
	Meta            *TransactionMeta `json:"meta,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// TransactionMeta is the side-effect section of a transaction.
type TransactionMeta struct {
	AffectedNodes     []AffectedNode `json:"AffectedNodes"`
	TransactionResult string         `json:"TransactionResult"`
	NFTokenID         string         `json:"nftoken_id,omitempty"`
}

// AffectedNode wraps exactly one of the created/modified/deleted variants.
type AffectedNode struct {
	CreatedNode  *LedgerNode `json:"CreatedNode,omitempty"`
	ModifiedNode *LedgerNode `json:"ModifiedNode,omitempty"`
	DeletedNode  *LedgerNode `json:"DeletedNode,omitempty"`
}

// LedgerNode is a ledger entry touched by a transaction.
type LedgerNode struct {
	LedgerEntryType string      `json:"LedgerEntryType"`
	LedgerIndex     string      `json:"LedgerIndex,omitempty"`
	NewFields       *NodeFields `json:"NewFields,omitempty"`
	FinalFields     *NodeFields `json:"FinalFields,omitempty"`
	PreviousFields  *NodeFields `json:"PreviousFields,omitempty"`
}

// NodeFields holds the token entries of a token page. Entries are kept raw
// because identity is decided by structural equality of the whole entry.
type NodeFields struct {
	NFTokens []json.RawMessage `json:"NFTokens,omitempty"`
}

// TokenEntry is a single entry of a token page.
type TokenEntry struct {
	NFToken struct {
		NFTokenID string `json:"NFTokenID"`
		URI       string `json:"URI,omitempty"`
	} `json:"NFToken"`
}

// Succeeded reports whether the transaction result is success.
func (e *LedgerEvent) Succeeded() bool {
	return e != nil && e.Meta != nil && e.Meta.TransactionResult == ResultSuccess
}

// IssuerAccount returns the issuing account: Issuer when minted on behalf of
// another account, otherwise the submitting Account.
func (e *LedgerEvent) IssuerAccount() string {
	if e.Issuer != "" {
		return e.Issuer
	}
	return e.Account
}

// Payload returns the original document, or a re-encoding of the event when
// it was built in code.
func (e *LedgerEvent) Payload() json.RawMessage {
	if len(e.Raw) > 0 {
		return e.Raw
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}

// DecodeLedgerEvent decodes a ledger event and keeps the raw bytes.
func DecodeLedgerEvent(data []byte) (*LedgerEvent, error) {
	var ev LedgerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode ledger event: %w", err)
	}
	ev.Raw = append(json.RawMessage(nil), data...)
	return &ev, nil
}
