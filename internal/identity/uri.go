package identity

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Pointer schemes.
const (
	SchemeIPFS  = "ipfs://"
	SchemeHTTPS = "https://"
	cidPrefix   = "cid:"
)

// IsIPFS reports whether pointer is content-addressed.
func IsIPFS(pointer string) bool {
	return strings.HasPrefix(pointer, SchemeIPFS)
}

// IsHTTPS reports whether pointer is a normal HTTPS URL.
func IsHTTPS(pointer string) bool {
	return strings.HasPrefix(pointer, SchemeHTTPS)
}

// NormalizePointer returns text unchanged when it is already an ipfs:// or
// https:// pointer; otherwise strips an optional "cid:" prefix and wraps the
// remainder as ipfs://.
func NormalizePointer(text string) string {
	if IsIPFS(text) || IsHTTPS(text) {
		return text
	}
	return SchemeIPFS + strings.TrimPrefix(text, cidPrefix)
}

// NormalizeReference normalizes a media reference found inside metadata.
// References that carry a URL scheme (http, https, ipfs, data, ...) are
// returned unchanged. Bare content hashes and "cid:", "ipfs/" or "/ipfs/"
// forms are wrapped as ipfs://.
func NormalizeReference(text string) string {
	text = strings.TrimSpace(text)
	if u, err := url.Parse(text); err == nil && u.Scheme != "" && !strings.EqualFold(u.Scheme, "cid") {
		return text
	}
	text = strings.TrimPrefix(text, cidPrefix)
	text = strings.TrimPrefix(text, "/")
	text = strings.TrimPrefix(text, "ipfs/")
	return SchemeIPFS + text
}

// DecodeURI decodes a hex-encoded URI field into a normalized pointer.
// An empty field is ErrMissingURI.
func DecodeURI(hexURI string) (string, error) {
	if hexURI == "" {
		return "", ErrMissingURI
	}
	raw, err := hex.DecodeString(hexURI)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: not utf-8", ErrInvalidURI)
	}
	return NormalizePointer(string(raw)), nil
}

// DecodeHexText decodes a hex-encoded text field such as an account domain.
func DecodeHexText(hexText string) (string, error) {
	raw, err := hex.DecodeString(hexText)
	if err != nil {
		return "", fmt.Errorf("decode hex text: %w", err)
	}
	return string(raw), nil
}
