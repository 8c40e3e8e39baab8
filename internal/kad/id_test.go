package kad

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idFromByte(last byte) NodeID {
	var id NodeID
	id[IDLength-1] = last
	return id
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		wantErr bool
	}{
		{"exact length", make([]byte, 20), false},
		{"empty", nil, true},
		{"short", make([]byte, 19), true},
		{"long", make([]byte, 21), true},
		{"sha256 sized", make([]byte, 32), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidLength), "expected ErrInvalidLength, got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewCopiesInput(t *testing.T) {
	b := make([]byte, 20)
	b[0] = 0xaa
	id, err := New(b)
	require.NoError(t, err)

	b[0] = 0xbb
	assert.Equal(t, byte(0xaa), id[0])

	out := id.Bytes()
	out[0] = 0xcc
	assert.Equal(t, byte(0xaa), id[0], "Bytes must not alias the identifier")
}

func TestFromInt(t *testing.T) {
	maxID := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))

	id, err := FromInt(maxID)
	require.NoError(t, err)
	for i := range id {
		assert.Equal(t, byte(0xff), id[i])
	}

	id, err = FromInt(big.NewInt(0x0102))
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), id[18])
	assert.Equal(t, byte(0x02), id[19])
	assert.Equal(t, 0, id.Int().Cmp(big.NewInt(0x0102)))

	_, err = FromInt(new(big.Int).Lsh(big.NewInt(1), 160))
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = FromInt(big.NewInt(-1))
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = FromInt(nil)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestRandom(t *testing.T) {
	a, err := Random()
	require.NoError(t, err)
	b, err := Random()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEncodings(t *testing.T) {
	id, err := Random()
	require.NoError(t, err)

	fromHex, err := ParseHex(id.Hex())
	require.NoError(t, err)
	assert.Equal(t, id, fromHex)

	fromB58, err := ParseBase58(id.Base58())
	require.NoError(t, err)
	assert.Equal(t, id, fromB58)

	_, err = ParseHex("zz")
	assert.Error(t, err)
	_, err = ParseHex("abcd")
	assert.ErrorIs(t, err, ErrInvalidLength)

	text, err := id.MarshalText()
	require.NoError(t, err)
	var back NodeID
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, id, back)
}

func TestExplicitEquality(t *testing.T) {
	id, err := Random()
	require.NoError(t, err)
	other, err := Random()
	require.NoError(t, err)

	assert.True(t, id.EqualBytes(id[:]))
	assert.False(t, id.EqualBytes(other[:]))
	assert.False(t, id.EqualBytes(id[:19]))

	assert.True(t, id.EqualHex(id.Hex()))
	assert.False(t, id.EqualHex(id.Base58()))
	assert.False(t, id.EqualHex("not hex"))

	assert.True(t, id.EqualBase58(id.Base58()))
	assert.False(t, id.EqualBase58(other.Base58()))
}

func TestDistanceMetric(t *testing.T) {
	ids := make([]NodeID, 0, 8)
	for i := 0; i < 8; i++ {
		id, err := Random()
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, a := range ids {
		assert.True(t, a.Distance(a).IsZero(), "distance to self must be zero")
		for _, b := range ids {
			assert.Equal(t, a.Distance(b), b.Distance(a), "distance must be symmetric")
			if a.Distance(b).IsZero() {
				assert.Equal(t, a, b)
			}
		}
	}
}

func TestDistanceMatchesIntegerXor(t *testing.T) {
	a, err := Random()
	require.NoError(t, err)
	b, err := Random()
	require.NoError(t, err)

	want := new(big.Int).Xor(a.Int(), b.Int())
	assert.Equal(t, 0, a.Distance(b).Int().Cmp(want))
}

func TestDistanceBitLen(t *testing.T) {
	var top Distance
	top[0] = 0x80

	var mid Distance
	mid[10] = 0x10

	tests := []struct {
		name string
		d    Distance
		want int
	}{
		{"zero", Distance{}, 0},
		{"one", Distance(idFromByte(1)), 1},
		{"three", Distance(idFromByte(3)), 2},
		{"0xff", Distance(idFromByte(0xff)), 8},
		{"mid", mid, (IDLength-10)*8 - 3},
		{"top bit", top, 160},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.BitLen())
			assert.Equal(t, tt.d.Int().BitLen(), tt.d.BitLen())
		})
	}
}

func TestDistanceCmp(t *testing.T) {
	near := Distance(idFromByte(1))
	far := Distance(idFromByte(2))
	assert.True(t, near.Less(far))
	assert.False(t, far.Less(near))
	assert.Equal(t, 0, near.Cmp(near))
}
