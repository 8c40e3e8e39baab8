package kad

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/mr-tron/base58"
)

// IDLength is the byte length of a NodeID (160 bits).
const IDLength = 20

// IDBits is the number of bits in a NodeID and the number of buckets in a table.
const IDBits = IDLength * 8

var (
	ErrInvalidLength = errors.New("node id must be exactly 20 bytes")
	ErrOutOfRange    = errors.New("node id must be an unsigned 160-bit integer")
)

// NodeID is a 160-bit identifier in the DHT key space. It is compared and
// hashed on its raw bytes only.
type NodeID [IDLength]byte

func New(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != IDLength {
		return id, fmt.Errorf("%w: got %d", ErrInvalidLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

func Random() (NodeID, error) {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		return id, err
	}
	return id, nil
}

// FromInt encodes n big-endian. n must satisfy 0 <= n < 2^160.
func FromInt(n *big.Int) (NodeID, error) {
	var id NodeID
	if n == nil || n.Sign() < 0 || n.BitLen() > IDBits {
		return id, ErrOutOfRange
	}
	n.FillBytes(id[:])
	return id, nil
}

// ParseHex decodes the 40-character hex form.
func ParseHex(s string) (NodeID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("invalid hex node id: %w", err)
	}
	return New(b)
}

// ParseBase58 decodes the base-58 form used by some peer-id encodings.
func ParseBase58(s string) (NodeID, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("invalid base58 node id: %w", err)
	}
	return New(b)
}

func (id NodeID) Bytes() []byte {
	out := make([]byte, IDLength)
	copy(out, id[:])
	return out
}

func (id NodeID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id NodeID) Base58() string {
	return base58.Encode(id[:])
}

func (id NodeID) String() string {
	return id.Hex()
}

// Short is the first 16 hex characters, for log lines.
func (id NodeID) Short() string {
	return id.Hex()[:16]
}

// Int returns the identifier as an unsigned integer. The result is a fresh
// value the caller may modify.
func (id NodeID) Int() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

func (id NodeID) Distance(other NodeID) Distance {
	var d Distance
	for i := 0; i < IDLength; i++ {
		d[i] = id[i] ^ other[i]
	}
	return d
}

// EqualBytes reports whether b is exactly the raw form of id.
func (id NodeID) EqualBytes(b []byte) bool {
	other, err := New(b)
	if err != nil {
		return false
	}
	return other == id
}

// EqualHex decodes s as hex and compares raw bytes. Undecodable input never matches.
func (id NodeID) EqualHex(s string) bool {
	other, err := ParseHex(s)
	if err != nil {
		return false
	}
	return other == id
}

// EqualBase58 decodes s as base-58 and compares raw bytes. Undecodable input never matches.
func (id NodeID) EqualBase58(s string) bool {
	other, err := ParseBase58(s)
	if err != nil {
		return false
	}
	return other == id
}

func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := ParseHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
