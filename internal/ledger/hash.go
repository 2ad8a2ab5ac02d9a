package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
)

// CanonicalBytes serializes the full state deterministically: owner,
// both pools, swap constant, balances in sorted address order, closed
// flag. Used for the per-operation state digest stored in the journal
// and for snapshot integrity checks.
func (s *State) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128+len(s.UserBalances)*37)

	buf = appendAddress(buf, s.ContractOwner)
	buf = appendAddress(buf, s.TokenPoolA.TokenAddress)
	buf = appendUint64LE(buf, s.TokenPoolA.Pool)
	buf = appendAddress(buf, s.TokenPoolB.TokenAddress)
	buf = appendUint64LE(buf, s.TokenPoolB.Pool)
	buf = appendUint64LE(buf, s.SwapConstant)

	users := make([]Address, 0, len(s.UserBalances))
	for user := range s.UserBalances {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].String() < users[j].String()
	})

	for _, user := range users {
		ub := s.UserBalances[user]
		buf = appendAddress(buf, user)
		buf = appendUint64LE(buf, ub.PoolABalance)
		buf = appendUint64LE(buf, ub.PoolBBalance)
	}

	if s.IsClosed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	return buf
}

// Digest is the SHA-256 of the canonical state serialization.
func (s *State) Digest() [32]byte {
	return sha256.Sum256(s.CanonicalBytes())
}

func appendAddress(buf []byte, a Address) []byte {
	buf = append(buf, byte(a.Type))
	return append(buf, a.ID[:]...)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}
