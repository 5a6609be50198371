package wallet

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroAddress is the placeholder value a dApp may leave in a login claim.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// IsAddress reports whether s is a 20-byte hex address (with or without 0x).
func IsAddress(s string) bool {
	return common.IsHexAddress(strings.TrimSpace(s))
}

// Checksum returns the mixed-case checksummed form of addr. Invalid input is
// returned unchanged.
func Checksum(addr string) string {
	if !IsAddress(addr) {
		return addr
	}
	return common.HexToAddress(strings.TrimSpace(addr)).Hex()
}

// SameAddress compares two addresses case-insensitively. Empty strings never match.
func SameAddress(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	if IsAddress(a) && IsAddress(b) {
		return common.HexToAddress(a) == common.HexToAddress(b)
	}
	return strings.EqualFold(a, b)
}

// IsZeroAddress reports whether addr is empty or the all-zero address.
func IsZeroAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return true
	}
	return IsAddress(addr) && common.HexToAddress(addr) == (common.Address{})
}
