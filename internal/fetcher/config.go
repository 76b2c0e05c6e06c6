// Package fetcher resolves metadata pointers to bytes, racing public
// gateways for content-addressed pointers.
package fetcher

import (
	"fmt"
	"time"
)

// RacePolicy decides when a gateway race settles.
type RacePolicy string

const (
	// FirstCompleted settles on the first gateway response of any kind and
	// keeps the last success among the responses completed by then. A later
	// success from a slower gateway is discarded.
	FirstCompleted RacePolicy = "first_completed"
	// FirstSuccess settles on the first successful response, or on none once
	// every gateway has failed.
	FirstSuccess RacePolicy = "first_success"
)

// DefaultGateways are the public gateways, in race order.
var DefaultGateways = []string{
	"https://nftstorage.link/ipfs",
	"https://gateway.pinata.cloud/ipfs",
	"https://cloudflare-ipfs.com/ipfs",
	"https://dweb.link/ipfs",
}

// Config configures the fetcher.
type Config struct {
	Gateways []string `yaml:"gateways"`
	// RequestTimeout bounds every HTTP call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// FailureBackoff is slept once before returning none.
	FailureBackoff time.Duration `yaml:"failure_backoff"`
	RacePolicy     RacePolicy    `yaml:"race_policy"`
	// MaxBodyBytes caps a response body; larger bodies count as failures.
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
	UserAgent    string `yaml:"user_agent"`
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		Gateways:       append([]string(nil), DefaultGateways...),
		RequestTimeout: 30 * time.Second,
		FailureBackoff: 3 * time.Second,
		RacePolicy:     FirstCompleted,
		MaxBodyBytes:   100 << 20,
		UserAgent:      "xrpl-nft-archiver/1.0",
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Gateways) == 0 {
		return fmt.Errorf("fetcher: at least one gateway is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("fetcher: request timeout must be positive")
	}
	switch c.RacePolicy {
	case FirstCompleted, FirstSuccess:
	default:
		return fmt.Errorf("fetcher: unknown race policy %q", c.RacePolicy)
	}
	return nil
}
