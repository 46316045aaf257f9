package xorname

import (
	"testing"
)

func TestPrefixMatches(t *testing.T) {
	n := Name{0xA0} // 1010 0000 ...

	cases := []struct {
		prefix string
		match  bool
	}{
		{"", true},
		{"1", true},
		{"10", true},
		{"101", true},
		{"1010", true},
		{"11", false},
		{"0", false},
		{"10100001", false},
	}

	for _, c := range cases {
		p := MustParsePrefix(c.prefix)
		if got := p.Matches(n); got != c.match {
			t.Fatalf("prefix %s matches %x: expected %v, got %v", p, n[:1], c.match, got)
		}
	}
}

func TestPrefixPushPopSibling(t *testing.T) {
	root := MustParsePrefix("")
	zero := root.Pushed(false)
	one := root.Pushed(true)

	if zero.String() != "0" || one.String() != "1" {
		t.Fatalf("unexpected children %s %s", zero, one)
	}
	if zero.Sibling() != one {
		t.Fatalf("sibling of 0 should be 1, got %s", zero.Sibling())
	}
	if one.Popped() != root {
		t.Fatalf("parent of 1 should be root, got %s", one.Popped())
	}
	if !zero.IsExtensionOf(root) || root.IsExtensionOf(zero) {
		t.Fatalf("extension relation is wrong")
	}
	if zero.IsCompatible(one) {
		t.Fatalf("siblings are not compatible")
	}
	if !root.IsCompatible(one) {
		t.Fatalf("root is compatible with everything")
	}

	p := MustParsePrefix("0110")
	if p.Pushed(true).String() != "01101" {
		t.Fatalf("got %s", p.Pushed(true))
	}
}

func TestPrefixParseErrors(t *testing.T) {
	if _, err := ParsePrefix("01x"); err != ErrBadPrefix {
		t.Fatalf("expected ErrBadPrefix, got %v", err)
	}
	p, err := ParsePrefix("()")
	if err != nil || !p.IsEmpty() {
		t.Fatalf("() should parse as the root prefix")
	}
}

func TestSubstituted(t *testing.T) {
	p := MustParsePrefix("101")
	for i := 0; i < 20; i++ {
		n := p.Substituted(Random())
		if !p.Matches(n) {
			t.Fatalf("substituted name %x does not match %s", n[:1], p)
		}
	}
	if !p.Matches(p.Name()) {
		t.Fatalf("prefix name should match prefix")
	}
}

func TestDistance(t *testing.T) {
	target := Name{0x00}
	a := Name{0x01}
	b := Name{0x80}

	if target.CmpDistance(a, b) != -1 {
		t.Fatalf("a should be closer to target")
	}
	if target.CmpDistance(b, a) != 1 {
		t.Fatalf("b should be further from target")
	}
	if target.CmpDistance(a, a) != 0 {
		t.Fatalf("equal names are at equal distance")
	}
	if d := a.Xor(b); d != (Name{0x81}) {
		t.Fatalf("unexpected xor %x", d[:1])
	}
}

func TestPrefixOrdering(t *testing.T) {
	root := MustParsePrefix("")
	zero := MustParsePrefix("0")
	one := MustParsePrefix("1")

	if !root.Less(zero) {
		t.Fatalf("root should sort before 0")
	}
	if !zero.Less(one) {
		t.Fatalf("0 should sort before 1")
	}
	if one.Less(zero) {
		t.Fatalf("1 should not sort before 0")
	}
}
