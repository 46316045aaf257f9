package xorname

import (
	"errors"
	"strings"
)

// ErrBadLength ...
var ErrBadLength = errors.New("xorname: bad length")

// ErrBadPrefix ...
var ErrBadPrefix = errors.New("xorname: invalid prefix string")

// MaxPrefixLen is the number of bits in a Name.
const MaxPrefixLen = 8 * NameLen

// Prefix is a bitstring identifying a region of the name space. Only the
// first BitCount bits of Bits are significant; the rest are always zero.
type Prefix struct {
	BitCount uint16
	Bits     Name
}

// NewPrefix returns the prefix made of the first bitCount bits of name.
func NewPrefix(bitCount int, name Name) Prefix {
	if bitCount > MaxPrefixLen {
		bitCount = MaxPrefixLen
	}
	p := Prefix{BitCount: uint16(bitCount)}
	full := bitCount / 8
	copy(p.Bits[:full], name[:full])
	if rem := bitCount % 8; rem != 0 {
		p.Bits[full] = name[full] & (0xff << uint(8-rem))
	}
	return p
}

// ParsePrefix reads a string of '0' and '1' characters. The empty string is
// the root prefix.
func ParsePrefix(s string) (Prefix, error) {
	s = strings.TrimSpace(s)
	if s == "()" {
		s = ""
	}
	if len(s) > MaxPrefixLen {
		return Prefix{}, ErrBadPrefix
	}
	var n Name
	for i, c := range s {
		switch c {
		case '0':
		case '1':
			n = n.WithBit(i, true)
		default:
			return Prefix{}, ErrBadPrefix
		}
	}
	return NewPrefix(len(s), n), nil
}

// MustParsePrefix is ParsePrefix for literals.
func MustParsePrefix(s string) Prefix {
	p, err := ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Len returns the number of bits in the prefix.
func (p Prefix) Len() int {
	return int(p.BitCount)
}

// IsEmpty reports whether this is the root prefix.
func (p Prefix) IsEmpty() bool {
	return p.BitCount == 0
}

// Matches reports whether the prefix is a leading substring of name.
func (p Prefix) Matches(name Name) bool {
	return name.CommonPrefix(p.Bits) >= int(p.BitCount)
}

// Pushed returns the prefix extended by one bit.
func (p Prefix) Pushed(bit bool) Prefix {
	if int(p.BitCount) >= MaxPrefixLen {
		return p
	}
	return NewPrefix(int(p.BitCount)+1, p.Bits.WithBit(int(p.BitCount), bit))
}

// Popped returns the parent prefix.
func (p Prefix) Popped() Prefix {
	if p.BitCount == 0 {
		return p
	}
	return NewPrefix(int(p.BitCount)-1, p.Bits)
}

// Sibling returns the prefix differing from p only in the last bit.
func (p Prefix) Sibling() Prefix {
	if p.BitCount == 0 {
		return p
	}
	last := int(p.BitCount) - 1
	return NewPrefix(int(p.BitCount), p.Bits.WithBit(last, !p.Bits.Bit(last)))
}

// IsCompatible reports whether one of p and o is a prefix of the other.
func (p Prefix) IsCompatible(o Prefix) bool {
	min := p.BitCount
	if o.BitCount < min {
		min = o.BitCount
	}
	return p.Bits.CommonPrefix(o.Bits) >= int(min)
}

// IsExtensionOf reports whether p strictly extends o.
func (p Prefix) IsExtensionOf(o Prefix) bool {
	return p.BitCount > o.BitCount && o.Matches(p.Bits)
}

// IsAncestorOf reports whether p is o or an ancestor of o.
func (p Prefix) IsAncestorOf(o Prefix) bool {
	return p.BitCount <= o.BitCount && p.Matches(o.Bits)
}

// Equal ...
func (p Prefix) Equal(o Prefix) bool {
	return p == o
}

// Less orders prefixes by their bits, then by length. Ancestors sort before
// their descendants.
func (p Prefix) Less(o Prefix) bool {
	if c := p.Bits.Cmp(o.Bits); c != 0 {
		return c < 0
	}
	return p.BitCount < o.BitCount
}

// Substituted returns name with its first BitCount bits replaced by the
// prefix's bits.
func (p Prefix) Substituted(name Name) Name {
	for i := 0; i < int(p.BitCount); i++ {
		name = name.WithBit(i, p.Bits.Bit(i))
	}
	return name
}

// Name returns a name at the centre of the prefix's range. It is used to
// address a section as a whole.
func (p Prefix) Name() Name {
	n := p.Bits
	if int(p.BitCount) < MaxPrefixLen {
		n = n.WithBit(int(p.BitCount), true)
	}
	return n
}

// String returns the bits of the prefix, or "()" for the root.
func (p Prefix) String() string {
	if p.BitCount == 0 {
		return "()"
	}
	var b strings.Builder
	for i := 0; i < int(p.BitCount); i++ {
		if p.Bits.Bit(i) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
