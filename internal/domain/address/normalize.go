// Package address turns user-entered phone numbers into routable chat
// network addresses.
package address

import (
	"errors"
	"strings"
)

// ErrInvalidAddress is returned when an address contains no digits.
var ErrInvalidAddress = errors.New("invalid address: no digits")

// Defaults for the single supported numbering plan.
const (
	DefaultCountryCode    = "7"
	DefaultTrunkPrefix    = "8"
	DefaultNationalLength = 10
	DefaultSuffix         = "@s.whatsapp.net"
)

// Normalizer converts phone numbers to routable addresses. The zero value is
// not usable; use New or Default.
type Normalizer struct {
	countryCode    string
	trunkPrefix    string
	nationalLength int
	suffix         string
}

// New creates a Normalizer. Empty or non-positive arguments fall back to the
// defaults.
func New(countryCode, trunkPrefix string, nationalLength int, suffix string) *Normalizer {
	n := &Normalizer{
		countryCode:    countryCode,
		trunkPrefix:    trunkPrefix,
		nationalLength: nationalLength,
		suffix:         suffix,
	}
	if n.countryCode == "" {
		n.countryCode = DefaultCountryCode
	}
	if n.trunkPrefix == "" {
		n.trunkPrefix = DefaultTrunkPrefix
	}
	if n.nationalLength <= 0 {
		n.nationalLength = DefaultNationalLength
	}
	if n.suffix == "" {
		n.suffix = DefaultSuffix
	}
	return n
}

// Default returns a Normalizer using the default numbering plan.
func Default() *Normalizer {
	return New("", "", 0, "")
}

// Normalize returns the routable address for raw. A number written with the
// domestic trunk prefix has it replaced by the country code, a bare national
// number gets the country code prepended, and anything else is kept as
// digits. Normalizing an already normalized address returns it unchanged.
func (n *Normalizer) Normalize(raw string) (string, error) {
	digits := onlyDigits(strings.TrimSuffix(raw, n.suffix))
	if digits == "" {
		return "", ErrInvalidAddress
	}

	switch {
	case len(digits) == n.nationalLength+len(n.trunkPrefix) && strings.HasPrefix(digits, n.trunkPrefix):
		digits = n.countryCode + digits[len(n.trunkPrefix):]
	case len(digits) == n.nationalLength:
		digits = n.countryCode + digits
	}
	return digits + n.suffix, nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
