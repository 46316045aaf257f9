package crypto

import (
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// DigestLen is the length of Digest values.
const DigestLen = 32

// Digest is a BLAKE3 digest. It keys aggregation tables and DKG sessions.
type Digest [DigestLen]byte

// SHA3 returns the SHA3-256 hash of the concatenated inputs. It is the hash
// that derives node names from signing keys and chunk names from content.
func SHA3(data ...[]byte) []byte {
	h := sha3.New256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// Blake3 returns the BLAKE3 digest of the concatenated inputs.
func Blake3(data ...[]byte) Digest {
	h := blake3.New()
	for _, d := range data {
		h.Write(d)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// SimpleHashFromTwoHashes returns the SHA3 hash of the concatenation of left
// and right data.
func SimpleHashFromTwoHashes(left []byte, right []byte) []byte {
	return SHA3(left, right)
}
