package types

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidWallet  = errors.New("wallet_address must be a 0x-prefixed 20 byte hex address")
	ErrInvalidEventID = errors.New("event_id is required")
)

// ParseWallet validates a hex wallet address and returns it in EIP-55
// checksum form, which is the canonical key used everywhere downstream.
// ENS names are not resolved.
func ParseWallet(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		return common.Address{}, ErrInvalidWallet
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, ErrInvalidWallet
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, ErrInvalidWallet
	}
	return addr, nil
}

// SameAddress compares two hex addresses ignoring case.
func SameAddress(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}
