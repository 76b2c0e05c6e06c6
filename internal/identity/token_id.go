package identity

import (
	"encoding/json"
	"fmt"

	"xrpl-nft-archiver/internal/domain"
)

// ExtractTokenID returns the id of the single token entry added by the event.
//
// Entries from modified token pages (final and previous state) and created
// token pages are counted by structural equality. An entry present before
// and after the event is counted at least twice; the one added by the
// event is counted once. Exactly one such entry yields its id; zero or more
// than one yields ErrNoIdentity.
func ExtractTokenID(ev *domain.LedgerEvent) (string, error) {
	if !ev.Succeeded() {
		return "", fmt.Errorf("%w: transaction not successful", ErrNoIdentity)
	}

	counts := make(map[string]int)
	var order []string
	entries := make(map[string]json.RawMessage)

	add := func(fields *domain.NodeFields) error {
		if fields == nil {
			return nil
		}
		for _, raw := range fields.NFTokens {
			key, err := canonicalKey(raw)
			if err != nil {
				return err
			}
			if counts[key] == 0 {
				order = append(order, key)
				entries[key] = raw
			}
			counts[key]++
		}
		return nil
	}

	for _, node := range ev.Meta.AffectedNodes {
		if m := node.ModifiedNode; m != nil && m.LedgerEntryType == domain.LedgerEntryNFTokenPage {
			if err := add(m.FinalFields); err != nil {
				return "", err
			}
			if err := add(m.PreviousFields); err != nil {
				return "", err
			}
		}
	}
	for _, node := range ev.Meta.AffectedNodes {
		if c := node.CreatedNode; c != nil && c.LedgerEntryType == domain.LedgerEntryNFTokenPage {
			if err := add(c.NewFields); err != nil {
				return "", err
			}
		}
	}

	var added []string
	for _, key := range order {
		if counts[key] == 1 {
			added = append(added, key)
		}
	}
	if len(added) != 1 {
		return "", fmt.Errorf("%w: %d candidate entries", ErrNoIdentity, len(added))
	}

	var entry domain.TokenEntry
	if err := json.Unmarshal(entries[added[0]], &entry); err != nil {
		return "", fmt.Errorf("%w: decode token entry: %v", ErrNoIdentity, err)
	}
	if entry.NFToken.NFTokenID == "" {
		return "", fmt.Errorf("%w: entry without NFTokenID", ErrNoIdentity)
	}
	return entry.NFToken.NFTokenID, nil
}

// canonicalKey re-encodes a JSON value with sorted object keys so that
// equal structures produce equal keys regardless of field order.
func canonicalKey(raw json.RawMessage) (string, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("%w: decode token entry: %v", ErrNoIdentity, err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: encode token entry: %v", ErrNoIdentity, err)
	}
	return string(out), nil
}
