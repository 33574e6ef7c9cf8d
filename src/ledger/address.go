package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"github.com/mr-tron/base58"
	"github.com/stake-plus/govvote/src/shared/gov"
)

// AddressVersion is the N3 address version byte.
const AddressVersion = 0x35

// ScriptHash is a 20-byte account script hash in little-endian order.
type ScriptHash [20]byte

// String renders the big-endian 0x form accepted as a Hash160 parameter.
func (h ScriptHash) String() string {
	rev := make([]byte, len(h))
	for i := range h {
		rev[len(h)-1-i] = h[i]
	}
	return "0x" + hex.EncodeToString(rev)
}

// AddressToScriptHash decodes a base58check account address.
func AddressToScriptHash(addr string) (ScriptHash, error) {
	var h ScriptHash
	raw, err := base58.Decode(addr)
	if err != nil {
		return h, gov.Wrap(err, gov.CodeInvalidArgument, "ledger.address")
	}
	if len(raw) != 25 {
		return h, gov.E(gov.CodeInvalidArgument, "ledger.address", "address must decode to 25 bytes")
	}
	if raw[0] != AddressVersion {
		return h, gov.E(gov.CodeInvalidArgument, "ledger.address", "unexpected address version")
	}
	if !bytes.Equal(checksum(raw[:21]), raw[21:]) {
		return h, gov.E(gov.CodeInvalidArgument, "ledger.address", "address checksum mismatch")
	}
	copy(h[:], raw[1:21])
	return h, nil
}

// ScriptHashToAddress is the inverse of AddressToScriptHash.
func ScriptHashToAddress(h ScriptHash) string {
	payload := append([]byte{AddressVersion}, h[:]...)
	return base58.Encode(append(payload, checksum(payload)...))
}

func checksum(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:4]
}
