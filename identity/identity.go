// Package identity validates and normalizes account addresses into
// core.Identity values.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/cloudx-io/openbidding/core"
)

var ErrInvalidAddress = errors.New("invalid address")

// Validator turns a caller supplied address into a canonical identity.
type Validator interface {
	Validate(addr string) (core.Identity, error)
}

// Bech32Validator accepts bech32 addresses with a fixed human readable part,
// e.g. "cosmos1...". Mixed-case input is rejected; all-uppercase input is
// accepted and normalized to lower case.
type Bech32Validator struct {
	HRP string

	// DataLen, when non-zero, is the required payload length in bytes.
	DataLen int
}

func (v Bech32Validator) Validate(addr string) (core.Identity, error) {
	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidAddress, addr, err)
	}
	if hrp != v.HRP {
		return "", fmt.Errorf("%w: %q: expected prefix %q, got %q", ErrInvalidAddress, addr, v.HRP, hrp)
	}

	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidAddress, addr, err)
	}
	if v.DataLen > 0 && len(payload) != v.DataLen {
		return "", fmt.Errorf("%w: %q: payload is %d bytes, expected %d", ErrInvalidAddress, addr, len(payload), v.DataLen)
	}

	canonical, err := bech32.Encode(hrp, data)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidAddress, addr, err)
	}
	return core.Identity(canonical), nil
}

// Encode renders a raw payload as an address this validator accepts.
func (v Bech32Validator) Encode(payload []byte) (string, error) {
	data, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(v.HRP, data)
}

// PlainValidator accepts any non-empty address without whitespace that is
// already in lower case. It is meant for development setups and tests that
// use short names like "owner" or "sender1".
type PlainValidator struct{}

func (PlainValidator) Validate(addr string) (core.Identity, error) {
	if addr == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	if strings.IndexFunc(addr, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("%w: %q contains whitespace", ErrInvalidAddress, addr)
	}
	if strings.ToLower(addr) != addr {
		return "", fmt.Errorf("%w: %q: address not normalized", ErrInvalidAddress, addr)
	}
	return core.Identity(addr), nil
}

// New returns the validator for a bech32 prefix, or a PlainValidator when
// hrp is empty.
func New(hrp string) Validator {
	if hrp == "" {
		return PlainValidator{}
	}
	return Bech32Validator{HRP: hrp}
}
