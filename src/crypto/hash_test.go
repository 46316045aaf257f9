package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestSHA3(t *testing.T) {
	// SHA3-256 of the empty string.
	want, _ := hex.DecodeString("a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a")
	if got := SHA3(); !bytes.Equal(got, want) {
		t.Fatalf("SHA3(\"\") = %x, want %x", got, want)
	}
	if !bytes.Equal(SHA3([]byte("ab")), SHA3([]byte("a"), []byte("b"))) {
		t.Fatalf("SHA3 should hash the concatenation of its inputs")
	}
}

func TestBlake3(t *testing.T) {
	a := Blake3([]byte("hello"))
	b := Blake3([]byte("hel"), []byte("lo"))
	if a != b {
		t.Fatalf("Blake3 should hash the concatenation of its inputs")
	}
	if a == Blake3([]byte("hello!")) {
		t.Fatalf("different inputs should give different digests")
	}
}
