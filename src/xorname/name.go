package xorname

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"math/bits"

	"golang.org/x/crypto/sha3"
)

// NameLen is the length of a Name in bytes.
const NameLen = 32

// Name is a 256-bit identifier in the XOR space. Node names are the SHA3-256
// of the node's signing key, data names are the SHA3-256 of the content.
type Name [NameLen]byte

// FromContent hashes arbitrary bytes into a Name.
func FromContent(content ...[]byte) Name {
	h := sha3.New256()
	for _, c := range content {
		h.Write(c)
	}
	var n Name
	copy(n[:], h.Sum(nil))
	return n
}

// FromBytes copies b into a Name. b must hold NameLen bytes.
func FromBytes(b []byte) (Name, bool) {
	var n Name
	if len(b) != NameLen {
		return n, false
	}
	copy(n[:], b)
	return n, true
}

// Random returns a uniformly random Name.
func Random() Name {
	var n Name
	if _, err := rand.Read(n[:]); err != nil {
		panic(err)
	}
	return n
}

// Bit returns the i-th most significant bit of the name.
func (n Name) Bit(i int) bool {
	return n[i/8]&(0x80>>uint(i%8)) != 0
}

// WithBit returns a copy of n where bit i is set to b.
func (n Name) WithBit(i int, b bool) Name {
	mask := byte(0x80 >> uint(i%8))
	if b {
		n[i/8] |= mask
	} else {
		n[i/8] &^= mask
	}
	return n
}

// Xor returns the XOR distance between two names.
func (n Name) Xor(o Name) Name {
	var d Name
	for i := range n {
		d[i] = n[i] ^ o[i]
	}
	return d
}

// Cmp compares names as unsigned big-endian integers.
func (n Name) Cmp(o Name) int {
	return bytes.Compare(n[:], o[:])
}

// CmpDistance compares the distances of a and b to n. It returns -1 if a is
// closer, 1 if b is closer and 0 if a == b.
func (n Name) CmpDistance(a, b Name) int {
	for i := 0; i < NameLen; i++ {
		da := a[i] ^ n[i]
		db := b[i] ^ n[i]
		if da != db {
			if da < db {
				return -1
			}
			return 1
		}
	}
	return 0
}

// CommonPrefix returns the number of leading bits n and o share.
func (n Name) CommonPrefix(o Name) int {
	for i := 0; i < NameLen; i++ {
		if x := n[i] ^ o[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return 8 * NameLen
}

// IsZero ...
func (n Name) IsZero() bool {
	return n == Name{}
}

// Bytes returns the name as a slice.
func (n Name) Bytes() []byte {
	return n[:]
}

// String returns a short hex form, enough to tell names apart in logs.
func (n Name) String() string {
	return hex.EncodeToString(n[:4])
}

// Hex returns the full hex encoding.
func (n Name) Hex() string {
	return hex.EncodeToString(n[:])
}

// ParseHex decodes a full hex encoded name.
func ParseHex(s string) (Name, error) {
	var n Name
	b, err := hex.DecodeString(s)
	if err != nil {
		return n, err
	}
	if len(b) != NameLen {
		return n, ErrBadLength
	}
	copy(n[:], b)
	return n, nil
}
