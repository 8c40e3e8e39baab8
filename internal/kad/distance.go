package kad

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"math/bits"
)

// Distance is the XOR of two identifiers, read as a big-endian unsigned
// 160-bit integer.
type Distance [IDLength]byte

func (d Distance) Cmp(other Distance) int {
	return bytes.Compare(d[:], other[:])
}

func (d Distance) Less(other Distance) bool {
	return d.Cmp(other) < 0
}

func (d Distance) IsZero() bool {
	return d == Distance{}
}

// BitLen is the 1-based position of the highest set bit, or 0 for a zero distance.
func (d Distance) BitLen() int {
	for i := 0; i < IDLength; i++ {
		if d[i] != 0 {
			return (IDLength-i)*8 - bits.LeadingZeros8(d[i])
		}
	}
	return 0
}

func (d Distance) Int() *big.Int {
	return new(big.Int).SetBytes(d[:])
}

func (d Distance) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Distance) String() string {
	return d.Hex()
}
