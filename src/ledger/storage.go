package ledger

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/OneOfOne/xxhash"
	"golang.org/x/crypto/blake2b"
)

// Storage keys of the deployed proposal contract.
var (
	proposalCountKey = []byte("proposal_count")
	proposalPrefix   = []byte("proposal:")
	votePrefix       = []byte("vote:")
)

// proposalKey mirrors PROPOSAL_PREFIX + proposal_id.to_bytes().
func proposalKey(id uint64) string {
	return string(append(append([]byte{}, proposalPrefix...), intBytes(id)...))
}

// voteKey mirrors VOTE_PREFIX + proposal_id.to_bytes() + voter. The contract
// keys on the voter's 20-byte script hash; the simulation keys on a fixed-width
// digest of the address string instead.
func voteKey(id uint64, voter string) string {
	key := append(append([]byte{}, votePrefix...), intBytes(id)...)
	key = append(key, Twox128([]byte(voter))...)
	return string(key)
}

// intBytes is the contract VM's minimal little-endian integer encoding.
func intBytes(v uint64) []byte {
	if v == 0 {
		return []byte{}
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	n := 8
	for n > 1 && buf[n-1] == 0 {
		n--
	}
	// keep the value positive when the top bit of the last byte is set
	if buf[n-1]&0x80 != 0 {
		return append(buf[:n:n], 0)
	}
	return buf[:n]
}

// Twox128 implements the TwoX 128-bit hash
func Twox128(data []byte) []byte {
	hash1 := xxhash.NewS64(0)
	hash1.Write(data)
	hash2 := xxhash.NewS64(1)
	hash2.Write(data)

	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out[0:], hash1.Sum64())
	binary.LittleEndian.PutUint64(out[8:], hash2.Sum64())
	return out
}

// txHash renders a 0x-prefixed blake2b-256 digest.
func txHash(parts ...[]byte) string {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
	}
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
