package ledger

import (
	"encoding/hex"
	"fmt"
)

// AddressType distinguishes plain accounts from deployed contracts.
type AddressType uint8

const (
	AddressTypeAccount        AddressType = 0x00
	AddressTypePublicContract AddressType = 0x02
)

// Address identifies an account or contract on the host chain:
// one type byte followed by a 20-byte identifier. The hex form is
// 42 characters, e.g. "02aabb...".
type Address struct {
	Type AddressType
	ID   [20]byte
}

// ParseAddress decodes the 42-character hex form of an address.
func ParseAddress(s string) (Address, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", s, err)
	}
	if len(raw) != 21 {
		return Address{}, fmt.Errorf("parse address %q: want 21 bytes, got %d", s, len(raw))
	}

	addr := Address{Type: AddressType(raw[0])}
	copy(addr.ID[:], raw[1:])
	return addr, nil
}

// MustParseAddress is ParseAddress that panics on error. Test helper.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	buf := make([]byte, 0, 21)
	buf = append(buf, byte(a.Type))
	buf = append(buf, a.ID[:]...)
	return hex.EncodeToString(buf)
}

// IsContract reports whether the address denotes a deployed contract.
func (a Address) IsContract() bool {
	return a.Type == AddressTypePublicContract
}
