// Package identity derives a token id and a metadata pointer from ledger
// events and replay payloads.
package identity

import "errors"

var (
	// ErrNoIdentity means the event does not name exactly one newly added
	// token. Terminal and quiet: nothing is recorded for retry.
	ErrNoIdentity = errors.New("no identity")

	// ErrNoDomain means the issuing account has no domain to fall back to.
	// Terminal and quiet.
	ErrNoDomain = errors.New("issuer has no domain")

	// ErrMissingURI means no URI field is present.
	ErrMissingURI = errors.New("missing uri")

	// ErrUnrecognizedDomain means the issuer domain matches no known template.
	ErrUnrecognizedDomain = errors.New("unrecognized domain")

	// ErrInvalidURI means the URI field is not valid hex or UTF-8.
	ErrInvalidURI = errors.New("invalid uri encoding")
)

// IsTerminal reports whether err ends a run without a failure record.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNoIdentity) || errors.Is(err, ErrNoDomain)
}
