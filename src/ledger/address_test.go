package ledger

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stake-plus/govvote/src/shared/gov"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	var h ScriptHash
	for i := range h {
		h[i] = byte(i + 1)
	}
	addr := ScriptHashToAddress(h)
	assert.Equal(t, byte('N'), addr[0])

	got, err := AddressToScriptHash(addr)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, "0x14131211100f0e0d0c0b0a090807060504030201", got.String())
}

func TestAddressRejectsBadInput(t *testing.T) {
	var h ScriptHash
	good := ScriptHashToAddress(h)

	raw, _ := base58.Decode(good)
	raw[24] ^= 0xff
	badChecksum := base58.Encode(raw)

	raw, _ = base58.Decode(good)
	raw[0] = 0x17
	badVersion := base58.Encode(raw)

	for _, addr := range []string{"", "sim-voter-1-00001", "0OIl", badChecksum, badVersion} {
		_, err := AddressToScriptHash(addr)
		assert.ErrorIs(t, err, gov.ErrInvalidArgument, addr)
	}
}
