package common

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

// Every signed payload goes through the canonical msgpack handle so that two
// peers encoding the same value produce the same bytes.
var msgpackHandle = newMsgpackHandle()

func newMsgpackHandle() *codec.MsgpackHandle {
	mh := new(codec.MsgpackHandle)
	mh.Canonical = true
	mh.WriteExt = true
	mh.RawToString = false
	return mh
}

// Marshal returns the canonical encoding of v.
func Marshal(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	enc := codec.NewEncoder(&b, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// MustMarshal is Marshal for values whose encoding cannot fail (plain structs
// of fixed types). It panics otherwise.
func MustMarshal(v interface{}) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Unmarshal decodes data produced by Marshal into v.
func Unmarshal(data []byte, v interface{}) error {
	dec := codec.NewDecoder(bytes.NewReader(data), msgpackHandle)
	return dec.Decode(v)
}

// MarshalJSON is used for human-facing documents (peers.json, HTTP service).
func MarshalJSON(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	jh.Indent = 2
	enc := codec.NewEncoder(&b, jh)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// UnmarshalJSON decodes JSON into v.
func UnmarshalJSON(data []byte, v interface{}) error {
	jh := new(codec.JsonHandle)
	dec := codec.NewDecoder(bytes.NewReader(data), jh)
	return dec.Decode(v)
}
