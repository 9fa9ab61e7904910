// Copyright 2025 Trustcompute Protocol
//
// JSON wire encoding for Digest, needed by component G's HTTP handlers:
// without it, encoding/json renders a Digest as an array of 32 numbers
// instead of the hex string every other part of the wire surface uses.

package hasher

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// MarshalJSON renders d as a "0x"-prefixed hex string.
func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + hex.EncodeToString(d[:]))
}

// UnmarshalJSON parses a "0x"-prefixed or bare hex string into d.
func (d *Digest) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("hasher: invalid digest hex: %w", err)
	}
	if len(b) != Size {
		return fmt.Errorf("hasher: digest must be %d bytes, got %d", Size, len(b))
	}
	copy(d[:], b)
	return nil
}
