// Copyright 2025 Trustcompute Protocol
//
// Client, executor, and verifier identities are 20-byte addresses, reusing
// go-ethereum's account representation rather than inventing a bespoke
// identity type — this lets the abstract ledger interface (pkg/ledger) be
// realized against any EVM-style account model without protocol logic
// changes.

package identity

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
)

// Address is a 20-byte account identifier.
type Address = common.Address

// Zero is the unset/empty address (e.g. a job with no executor yet).
var Zero = Address{}

// FromHex parses a "0x"-prefixed or bare hex string into an Address.
func FromHex(s string) Address {
	return common.HexToAddress(s)
}

// FromBytes truncates/pads a byte slice into an Address the same way
// go-ethereum's common.BytesToAddress does (left-padded, right-truncated).
func FromBytes(b []byte) Address {
	return common.BytesToAddress(b)
}

// String renders the checksum-free lowercase hex form used in logs and
// wire payloads throughout this protocol.
func String(a Address) string {
	return hex.EncodeToString(a[:])
}
