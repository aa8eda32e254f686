package aptos

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeU64LittleEndian(t *testing.T) {
	b, err := EncodeMoveValue("u64", "1000000")
	require.NoError(t, err)
	assert.Equal(t, "40420f0000000000", hex.EncodeToString(b))
}

func TestEncodeU8AndBool(t *testing.T) {
	b, err := EncodeMoveValue("u8", float64(7))
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, b)

	b, err = EncodeMoveValue("bool", true)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, b)
}

func TestEncodeAddressPadsShortForm(t *testing.T) {
	b, err := EncodeMoveValue("address", "0x1")
	require.NoError(t, err)
	require.Len(t, b, 32)
	assert.Equal(t, byte(1), b[31])
	for _, v := range b[:31] {
		assert.Equal(t, byte(0), v)
	}
}

func TestEncodeVectorULEB128Prefix(t *testing.T) {
	items := make([]interface{}, 200)
	for i := range items {
		items[i] = float64(1)
	}
	b, err := EncodeMoveValue("vector<u8>", items)
	require.NoError(t, err)
	// 200 = 0xC8 -> uleb128 two bytes 0xC8 0x01
	assert.Equal(t, byte(0xc8), b[0])
	assert.Equal(t, byte(0x01), b[1])
	assert.Len(t, b, 202)
}

func TestEncodeNestedVector(t *testing.T) {
	v := []interface{}{
		[]interface{}{"1", "2"},
		[]interface{}{},
	}
	b, err := EncodeMoveValue("vector<vector<u64>>", v)
	require.NoError(t, err)
	// outer len 2, inner len 2 + two u64, inner len 0
	assert.Equal(t, byte(2), b[0])
	assert.Equal(t, byte(2), b[1])
	assert.Len(t, b, 1+1+16+1)
}

func TestEncodeOptionSignerAlwaysNone(t *testing.T) {
	b, err := EncodeMoveValue("0x1::option::Option<signer>", map[string]interface{}{"ignored": true})
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, b)
}

func TestEncodeOptionSomeAndNone(t *testing.T) {
	b, err := EncodeMoveValue("0x1::option::Option<u64>", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, b)

	b, err = EncodeMoveValue("0x1::option::Option<u64>", "5")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 5, 0, 0, 0, 0, 0, 0, 0}, b)
}

func TestEncodeUnsupportedType(t *testing.T) {
	_, err := EncodeMoveValue("u256", "1")
	assert.Error(t, err)
}

func TestEncodeU128(t *testing.T) {
	b, err := EncodeMoveValue("u128", "340282366920938463463374607431768211455")
	require.NoError(t, err)
	require.Len(t, b, 16)
	for _, v := range b {
		assert.Equal(t, byte(0xff), v)
	}
}
