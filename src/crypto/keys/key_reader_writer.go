package keys

import (
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"strings"
	"sync"
)

// KeyReaderWriter reads and writes node identities from/to any format or
// support.
type KeyReaderWriter interface {
	ReadKey() (*Keypair, error)
	WriteKey(*Keypair) error
}

// SimpleKeyfile implements KeyReaderWriter with unencrypted and unformated
// files.
type SimpleKeyfile struct {
	l       sync.Mutex
	keyfile string
}

// NewSimpleKeyfile instantiates a new SimpleKeyfile with an underlying file
func NewSimpleKeyfile(keyfile string) *SimpleKeyfile {
	simpleKeyfile := &SimpleKeyfile{
		keyfile: keyfile,
	}

	return simpleKeyfile
}

// CheckFileInfo verifies that the file exists and has user permissions only.
func (k *SimpleKeyfile) CheckFileInfo() error {
	info, err := os.Stat(k.keyfile)
	if err != nil {
		return err
	}

	// get file permissions
	perm := info.Mode().Perm()

	// build 000111111 mask
	var nonUserMask os.FileMode = (1 << 6) - 1

	// get permissions for 'groups' and 'others'
	nonUserPerm := perm & nonUserMask

	if nonUserPerm != 0 {
		return fmt.Errorf("key file permissions should exclude 'groups' and 'others'. Got %o", perm)
	}

	return nil
}

// ReadKey implements KeyReaderWriter. It reads from the underlying file which
// is expected to contain a raw hex dump of the identity, as produced by
// WriteKey.
func (k *SimpleKeyfile) ReadKey() (*Keypair, error) {
	k.l.Lock()
	defer k.l.Unlock()

	if err := k.CheckFileInfo(); err != nil {
		return nil, err
	}

	buf, err := ioutil.ReadFile(k.keyfile)
	if err != nil {
		return nil, err
	}

	trimmedKeyString := strings.TrimSpace(string(buf))

	key, err := hex.DecodeString(trimmedKeyString)
	if err != nil {
		return nil, err
	}

	return ParseKeypair(key)
}

// WriteKey implements KeyReaderWriter. It writes a raw hex dump of the
// identity to the underlying file.
func (k *SimpleKeyfile) WriteKey(key *Keypair) error {
	k.l.Lock()
	defer k.l.Unlock()

	rawKey := KeypairHex(key)

	if err := os.MkdirAll(path.Dir(k.keyfile), 0700); err != nil {
		return err
	}

	return ioutil.WriteFile(k.keyfile, []byte(rawKey), 0600)
}

// LoadOrCreate reads the identity from the file, or generates and writes a
// new one if the file does not exist.
func (k *SimpleKeyfile) LoadOrCreate() (*Keypair, error) {
	if _, err := os.Stat(k.keyfile); os.IsNotExist(err) {
		kp, err := GenerateKeypair()
		if err != nil {
			return nil, err
		}
		if err := k.WriteKey(kp); err != nil {
			return nil, err
		}
		return kp, nil
	}
	return k.ReadKey()
}
