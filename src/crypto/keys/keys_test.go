package keys

import (
	"bytes"
	"io/ioutil"
	"os"
	"path"
	"testing"

	"github.com/mosaicnetworks/sectiond/src/xorname"
)

func TestSimpleKeyfile(t *testing.T) {
	dir, err := ioutil.TempDir("", "sectiond")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	simpleKeyfile := NewSimpleKeyfile(path.Join(dir, "priv_key"))

	// Try a read, should get nothing
	key, err := simpleKeyfile.ReadKey()
	if err == nil {
		t.Fatalf("ReadKey should generate an error")
	}
	if key != nil {
		t.Fatalf("key is not nil")
	}

	// Initialize a key and try a write
	key, _ = GenerateKeypair()

	if err := simpleKeyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Try a read, should get key
	nKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !bytes.Equal(nKey.Signing, key.Signing) {
		t.Fatalf("Signing keys do not match")
	}
	if nKey.EncryptionPublic != key.EncryptionPublic {
		t.Fatalf("Encryption keys do not match")
	}
	if nKey.Name() != key.Name() {
		t.Fatalf("Names do not match")
	}
}

func TestFilePermissions(t *testing.T) {
	dir, err := ioutil.TempDir("", "sectiond")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	key, _ := GenerateKeypair()
	rawKey := KeypairHex(key)

	badKeyPath := path.Join(dir, "priv_key_bad")

	shouldErr := []os.FileMode{
		0777, 0766, 0744,
		0677, 0666, 0644,
		0477, 0466, 0444,
	}

	for _, fm := range shouldErr {
		os.Remove(badKeyPath)
		ioutil.WriteFile(badKeyPath, []byte(rawKey), fm)
		os.Chmod(badKeyPath, fm)

		badKeyFile := NewSimpleKeyfile(badKeyPath)

		if _, err := badKeyFile.ReadKey(); err == nil {
			t.Fatalf("%o || badKeyFile should return permissions error", fm)
		}
	}

	goodKeyPath := path.Join(dir, "priv_key_good")

	shouldNotErr := []os.FileMode{
		0700, 0600, 0500, 0400,
	}

	for _, fm := range shouldNotErr {
		os.Remove(goodKeyPath)
		ioutil.WriteFile(goodKeyPath, []byte(rawKey), fm)
		os.Chmod(goodKeyPath, fm)

		goodKeyFile := NewSimpleKeyfile(goodKeyPath)

		if _, err := goodKeyFile.ReadKey(); err != nil {
			t.Fatalf("%o || goodKeyFile should not return error. Got %v", fm, err)
		}
	}
}

func TestClientSignatures(t *testing.T) {
	msg := []byte("J'aime mieux forger mon ame que la meubler")

	kp, _ := GenerateKeypair()
	secp, err := GenerateSecp256k1Key()
	if err != nil {
		t.Fatal(err)
	}

	signers := []Signer{
		KeypairSigner{kp},
		NewSecp256k1Signer(secp),
	}

	for _, s := range signers {
		sig, err := s.Sign(msg)
		if err != nil {
			t.Fatal(err)
		}
		pk := s.PublicKey()
		if !pk.Verify(msg, sig) {
			t.Fatalf("%s signature should verify", pk.Type)
		}
		if pk.Verify([]byte("other"), sig) {
			t.Fatalf("%s signature should not verify other data", pk.Type)
		}
	}
}

func TestSharedSecret(t *testing.T) {
	a, _ := GenerateKeypair()
	b, _ := GenerateKeypair()

	ab, err := a.SharedSecret(b.EncryptionPublic)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := b.SharedSecret(a.EncryptionPublic)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ab, ba) {
		t.Fatalf("shared secrets differ")
	}
}

func TestGenerateKeypairInPrefix(t *testing.T) {
	p := xorname.MustParsePrefix("101")
	kp, err := GenerateKeypairInPrefix(p, 10000)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Matches(kp.Name()) {
		t.Fatalf("name %s does not match %s", kp.Name(), p)
	}
}
