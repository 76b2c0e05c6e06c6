package retry

import (
	"errors"
	"fmt"
	"strings"

	"xrpl-nft-archiver/internal/domain"
)

const (
	publicPrefix = "public/"
	recordExt    = ".json"
)

// ErrInvalidKey is returned for keys outside the failure partitions.
var ErrInvalidKey = errors.New("invalid failure key")

// Key returns the storage key of a record, e.g. notfound/{id}.json or
// public/done/{id}.json.
func Key(origin domain.ReplayOrigin, state domain.FailureState, tokenID string) string {
	return Prefix(origin, state) + tokenID + recordExt
}

// Prefix returns the listing prefix of a partition.
func Prefix(origin domain.ReplayOrigin, state domain.FailureState) string {
	p := string(state) + "/"
	if origin == domain.OriginPublic {
		p = publicPrefix + p
	}
	return p
}

// ParseKey splits a failure key into origin, state and token id.
func ParseKey(key string) (domain.ReplayOrigin, domain.FailureState, string, error) {
	origin := domain.OriginPipeline
	rest := strings.TrimPrefix(key, "/")
	if strings.HasPrefix(rest, publicPrefix) {
		origin = domain.OriginPublic
		rest = strings.TrimPrefix(rest, publicPrefix)
	}

	partition, name, ok := strings.Cut(rest, "/")
	if !ok || strings.Contains(name, "/") {
		return "", "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	state := domain.FailureState(partition)
	if !state.Valid() {
		return "", "", "", fmt.Errorf("%w: unknown partition %q", ErrInvalidKey, partition)
	}
	tokenID := strings.TrimSuffix(name, recordExt)
	if tokenID == "" {
		return "", "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return origin, state, tokenID, nil
}
