package xrpl

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// rippleAlphabet is the base58 alphabet used for classic addresses.
var rippleAlphabet = base58.NewAlphabet("rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz")

const (
	accountIDLength   = 20
	accountPrefix     = 0x00
	checksumLength    = 4
	tokenIDHexLength  = 64
	tokenIDByteLength = 32
)

// ErrInvalidAddress is returned for malformed classic addresses.
var ErrInvalidAddress = errors.New("invalid classic address")

// ErrInvalidTokenID is returned for malformed token ids.
var ErrInvalidTokenID = errors.New("invalid token id")

// EncodeClassicAddress encodes a 20-byte account id as a classic r-address.
func EncodeClassicAddress(accountID []byte) (string, error) {
	if len(accountID) != accountIDLength {
		return "", fmt.Errorf("%w: account id must be %d bytes, got %d", ErrInvalidAddress, accountIDLength, len(accountID))
	}
	payload := make([]byte, 0, 1+accountIDLength+checksumLength)
	payload = append(payload, accountPrefix)
	payload = append(payload, accountID...)
	payload = append(payload, checksum(payload)...)
	return base58.EncodeAlphabet(payload, rippleAlphabet), nil
}

// DecodeClassicAddress decodes a classic r-address into its account id.
func DecodeClassicAddress(address string) ([]byte, error) {
	raw, err := base58.DecodeAlphabet(address, rippleAlphabet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != 1+accountIDLength+checksumLength || raw[0] != accountPrefix {
		return nil, fmt.Errorf("%w: unexpected length or prefix", ErrInvalidAddress)
	}
	body := raw[:1+accountIDLength]
	if !bytes.Equal(checksum(body), raw[1+accountIDLength:]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	return body[1:], nil
}

// IsValidClassicAddress reports whether address decodes with a valid checksum.
func IsValidClassicAddress(address string) bool {
	_, err := DecodeClassicAddress(address)
	return err == nil
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:checksumLength]
}

// TokenIDFields is the decoded layout of a token id.
type TokenIDFields struct {
	Flags          uint16
	TransferFee    uint16
	Issuer         string
	ScrambledTaxon uint32
	Sequence       uint32
}

// ParseTokenID decodes the fixed layout of a token id:
// flags(2) | transfer fee(2) | issuer account id(20) | scrambled taxon(4) | sequence(4).
func ParseTokenID(tokenID string) (*TokenIDFields, error) {
	if len(tokenID) != tokenIDHexLength {
		return nil, fmt.Errorf("%w: expected %d hex chars, got %d", ErrInvalidTokenID, tokenIDHexLength, len(tokenID))
	}
	raw, err := hex.DecodeString(strings.ToUpper(tokenID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTokenID, err)
	}
	issuer, err := EncodeClassicAddress(raw[4:24])
	if err != nil {
		return nil, err
	}
	return &TokenIDFields{
		Flags:          binary.BigEndian.Uint16(raw[0:2]),
		TransferFee:    binary.BigEndian.Uint16(raw[2:4]),
		Issuer:         issuer,
		ScrambledTaxon: binary.BigEndian.Uint32(raw[24:28]),
		Sequence:       binary.BigEndian.Uint32(raw[28:32]),
	}, nil
}

// IssuerFromTokenID returns the issuer classic address embedded in a token id.
func IssuerFromTokenID(tokenID string) (string, error) {
	fields, err := ParseTokenID(tokenID)
	if err != nil {
		return "", err
	}
	return fields.Issuer, nil
}
