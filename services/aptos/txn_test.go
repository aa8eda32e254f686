package aptos

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTypeTagPrimitives(t *testing.T) {
	for _, s := range []string{"bool", "u8", "u64", "u128", "address", "signer"} {
		_, err := ParseTypeTag(s)
		assert.NoError(t, err, s)
	}
}

func TestParseTypeTagStruct(t *testing.T) {
	tag, err := ParseTypeTag("0x1::aptos_coin::AptosCoin")
	require.NoError(t, err)
	require.NotNil(t, tag.strct)
	assert.Equal(t, "0x1", tag.strct.Address)
	assert.Equal(t, "aptos_coin", tag.strct.Module)
	assert.Equal(t, "AptosCoin", tag.strct.Name)
}

func TestParseTypeTagNestedGenerics(t *testing.T) {
	tag, err := ParseTypeTag("0x1::coin::CoinStore<0x1::aptos_coin::AptosCoin>")
	require.NoError(t, err)
	require.NotNil(t, tag.strct)
	require.Len(t, tag.strct.TypeParams, 1)
	assert.Equal(t, "AptosCoin", tag.strct.TypeParams[0].strct.Name)

	tag, err = ParseTypeTag("0xabc::pair::LP<0x1::a::A, vector<u8>>")
	require.NoError(t, err)
	require.Len(t, tag.strct.TypeParams, 2)
}

func TestParseTypeTagMalformed(t *testing.T) {
	_, err := ParseTypeTag("not_a_type")
	assert.Error(t, err)
	_, err = ParseTypeTag("0x1::only_two")
	assert.Error(t, err)
}

func TestNewEntryFunctionSplitsPath(t *testing.T) {
	fn, err := NewEntryFunction("0x1::router::swap_entry", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "0x1", fn.ModuleAddress)
	assert.Equal(t, "router", fn.ModuleName)
	assert.Equal(t, "swap_entry", fn.Function)

	_, err = NewEntryFunction("router::swap", nil, nil)
	assert.Error(t, err)
}

func TestSigningMessageHasDomainPrefix(t *testing.T) {
	fn, err := NewEntryFunction("0x1::router::swap_entry", nil, [][]byte{{1, 2, 3}})
	require.NoError(t, err)

	raw := &RawTransaction{
		Sender:         "0x1",
		SequenceNumber: 7,
		Payload:        fn,
		MaxGasAmount:   MaxGasUnits,
		GasUnitPrice:   GasUnitPrice,
		ExpirationSecs: 1700000000,
		ChainID:        1,
	}

	msg, err := raw.SigningMessage()
	require.NoError(t, err)
	// 32-byte sha3-256 domain separator, then the BCS body.
	assert.Greater(t, len(msg), 32)

	msg2, err := raw.SigningMessage()
	require.NoError(t, err)
	assert.Equal(t, msg, msg2)
}

func TestSignedBytesRoundTrip(t *testing.T) {
	acct, err := LoadAccount(strings.Repeat("11", 32), "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(acct.Address(), "0x"))
	assert.Len(t, acct.PublicKey(), 32)

	fn, err := NewEntryFunction("0x1::router::swap_entry", nil, nil)
	require.NoError(t, err)

	raw := &RawTransaction{
		Sender:         acct.Address(),
		SequenceNumber: 0,
		Payload:        fn,
		MaxGasAmount:   MinGasUnits,
		GasUnitPrice:   GasUnitPrice,
		ExpirationSecs: 1700000000,
		ChainID:        1,
	}

	signed, err := raw.SignedBytes(acct)
	require.NoError(t, err)

	body := NewSerializer()
	require.NoError(t, raw.serialize(body))
	// signed = body || authenticator(variant 0, pubkey vec, sig vec)
	assert.Equal(t, body.Bytes(), signed[:len(body.Bytes())])
	rest := signed[len(body.Bytes()):]
	assert.Equal(t, byte(0), rest[0])
	assert.Equal(t, byte(32), rest[1])
	assert.Equal(t, []byte(acct.PublicKey()), rest[2:34])
	assert.Equal(t, byte(64), rest[34])
	assert.Len(t, rest[35:], 64)
}

func TestLoadAccountOverrideAddress(t *testing.T) {
	acct, err := LoadAccount("0x"+strings.Repeat("22", 32), "0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", acct.Address())

	_, err = LoadAccount("0x1234", "")
	assert.Error(t, err)
}
