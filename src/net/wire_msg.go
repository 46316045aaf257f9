package net

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tchajed/marshal"

	"github.com/mosaicnetworks/sectiond/src/antientropy"
	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

const (
	wireVersion uint64 = 1
	// MaxMsgSize bounds every variable length field of a frame.
	MaxMsgSize = 8 * 1024 * 1024
)

var (
	// ErrMalformedMsg is returned for frames that cannot be decoded.
	ErrMalformedMsg = errors.New("malformed wire message")
	// ErrInvalidAuthority is returned when the authority of a message does
	// not verify.
	ErrInvalidAuthority = errors.New("invalid message authority")
)

// AuthorityKind tells who vouches for a message.
type AuthorityKind uint8

const (
	// NodeAuth messages are signed by a node key.
	NodeAuth AuthorityKind = iota
	// ClientAuth messages are signed by a client key.
	ClientAuth
	// SectionAuth messages carry a section signature over their payload.
	SectionAuth
)

var authorityKinds = []string{"Node", "Client", "Section"}

func (k AuthorityKind) String() string {
	if int(k) < len(authorityKinds) {
		return authorityKinds[k]
	}
	return "Unknown"
}

// Authority is the proof that the sender may send a message.
type Authority struct {
	Kind      AuthorityKind
	PublicKey keys.PublicKey
	Signature []byte
	Section   sections.SectionSig
}

// WireMsg is the envelope of every message exchanged by nodes and clients.
// Src is the sender's name and the address replies go to. Dst is the name
// the message is for and the sender's view of that name's section key.
type WireMsg struct {
	MsgID   uuid.UUID
	Kind    MsgKind
	Src     peers.Peer
	Dst     antientropy.Dst
	Auth    Authority
	Payload []byte
}

// NewWireMsg encodes payload into a new message with a fresh id.
func NewWireMsg(kind MsgKind, src peers.Peer, dst antientropy.Dst, payload interface{}) (*WireMsg, error) {
	b, err := common.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", kind, err)
	}
	return &WireMsg{
		MsgID:   uuid.New(),
		Kind:    kind,
		Src:     src,
		Dst:     dst,
		Payload: b,
	}, nil
}

// DecodePayload decodes the payload into v.
func (m *WireMsg) DecodePayload(v interface{}) error {
	if err := common.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedMsg, m.Kind, err)
	}
	return nil
}

// WithDst returns a copy of the message sent to dst. The id is kept so that
// resends are tracked as the same message. The copy must be signed again.
func (m *WireMsg) WithDst(dst antientropy.Dst) *WireMsg {
	c := *m
	c.Dst = dst
	return &c
}

// SigningBytes are the bytes covered by node and client signatures.
func (m *WireMsg) SigningBytes() []byte {
	b := make([]byte, 0, 16+8+xorname.NameLen*2+bls.PublicKeyLen+len(m.Payload))
	b = marshal.WriteBytes(b, m.MsgID[:])
	b = marshal.WriteInt(b, uint64(m.Kind))
	b = marshal.WriteBytes(b, m.Src.Name[:])
	b = marshal.WriteBytes(b, m.Dst.Name[:])
	b = marshal.WriteBytes(b, m.Dst.SectionKey[:])
	return marshal.WriteBytes(b, m.Payload)
}

// SignAsNode sets a node authority.
func (m *WireMsg) SignAsNode(kp *keys.Keypair) {
	m.Auth = Authority{
		Kind:      NodeAuth,
		PublicKey: kp.PublicKey(),
		Signature: kp.Sign(m.SigningBytes()),
	}
}

// SignAsClient sets a client authority.
func (m *WireMsg) SignAsClient(s keys.Signer) error {
	sig, err := s.Sign(m.SigningBytes())
	if err != nil {
		return err
	}
	m.Auth = Authority{
		Kind:      ClientAuth,
		PublicKey: s.PublicKey(),
		Signature: sig,
	}
	return nil
}

// SetSectionAuth sets a section authority. sig must cover the payload.
func (m *WireMsg) SetSectionAuth(sig sections.SectionSig) {
	m.Auth = Authority{Kind: SectionAuth, Section: sig}
}

// Verify checks the authority's signature and that it matches the sender.
// Whether a section key is trusted is left to the caller.
func (m *WireMsg) Verify() error {
	switch m.Auth.Kind {
	case NodeAuth:
		pk := m.Auth.PublicKey
		if pk.Type != keys.Ed25519Key || len(pk.Bytes) != ed25519.PublicKeySize {
			return ErrInvalidAuthority
		}
		if keys.NodeName(ed25519.PublicKey(pk.Bytes)) != m.Src.Name {
			return ErrInvalidAuthority
		}
		if !pk.Verify(m.SigningBytes(), m.Auth.Signature) {
			return ErrInvalidAuthority
		}
	case ClientAuth:
		if m.Auth.PublicKey.Name() != m.Src.Name {
			return ErrInvalidAuthority
		}
		if !m.Auth.PublicKey.Verify(m.SigningBytes(), m.Auth.Signature) {
			return ErrInvalidAuthority
		}
	case SectionAuth:
		if !m.Auth.Section.Verify(m.Payload) {
			return ErrInvalidAuthority
		}
	default:
		return ErrInvalidAuthority
	}
	return nil
}

// Marshal frames the message. The layout is a version, the message id, the
// kind, the source, the destination, then the length prefixed authority
// and payload.
func (m *WireMsg) Marshal() ([]byte, error) {
	auth, err := common.Marshal(m.Auth)
	if err != nil {
		return nil, err
	}
	if len(m.Payload) > MaxMsgSize {
		return nil, fmt.Errorf("payload of %d bytes exceeds %d", len(m.Payload), MaxMsgSize)
	}

	b := make([]byte, 0, 128+len(m.Src.NetAddr)+len(auth)+len(m.Payload))
	b = marshal.WriteInt(b, wireVersion)
	b = marshal.WriteBytes(b, m.MsgID[:])
	b = marshal.WriteInt(b, uint64(m.Kind))
	b = marshal.WriteBytes(b, m.Src.Name[:])
	b = writeBlob(b, []byte(m.Src.NetAddr))
	b = marshal.WriteBytes(b, m.Dst.Name[:])
	b = marshal.WriteBytes(b, m.Dst.SectionKey[:])
	b = writeBlob(b, auth)
	b = writeBlob(b, m.Payload)
	return b, nil
}

// Unmarshal decodes a frame produced by Marshal.
func (m *WireMsg) Unmarshal(data []byte) error {
	d := &decoder{b: data}

	if v := d.int(); d.err == nil && v != wireVersion {
		return fmt.Errorf("%w: unknown version %d", ErrMalformedMsg, v)
	}
	copy(m.MsgID[:], d.bytes(16))
	m.Kind = MsgKind(d.int())
	copy(m.Src.Name[:], d.bytes(xorname.NameLen))
	m.Src.NetAddr = string(d.blob())
	copy(m.Dst.Name[:], d.bytes(xorname.NameLen))
	copy(m.Dst.SectionKey[:], d.bytes(bls.PublicKeyLen))
	auth := d.blob()
	m.Payload = d.blob()

	if d.err != nil {
		return d.err
	}
	if len(d.b) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedMsg, len(d.b))
	}
	m.Auth = Authority{}
	if err := common.Unmarshal(auth, &m.Auth); err != nil {
		return fmt.Errorf("%w: authority: %v", ErrMalformedMsg, err)
	}
	return nil
}

func writeBlob(b, data []byte) []byte {
	b = marshal.WriteInt(b, uint64(len(data)))
	return marshal.WriteBytes(b, data)
}

// decoder wraps the marshal readers with bounds checks. After the first
// error every read returns zero values.
type decoder struct {
	b   []byte
	err error
}

func (d *decoder) int() uint64 {
	if d.err != nil {
		return 0
	}
	if len(d.b) < 8 {
		d.err = ErrMalformedMsg
		return 0
	}
	v, rest := marshal.ReadInt(d.b)
	d.b = rest
	return v
}

func (d *decoder) bytes(n uint64) []byte {
	if d.err != nil {
		return nil
	}
	if uint64(len(d.b)) < n {
		d.err = ErrMalformedMsg
		return nil
	}
	v, rest := marshal.ReadBytes(d.b, n)
	d.b = rest
	return append([]byte(nil), v...)
}

func (d *decoder) blob() []byte {
	n := d.int()
	if d.err == nil && n > MaxMsgSize {
		d.err = fmt.Errorf("%w: field of %d bytes", ErrMalformedMsg, n)
		return nil
	}
	return d.bytes(n)
}
