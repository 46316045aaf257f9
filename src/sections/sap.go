package sections

import (
	"fmt"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// SectionAuthorityProvider is an immutable snapshot of a section: its prefix,
// its elders and their threshold key, and the members at the moment the key
// was generated.
type SectionAuthorityProvider struct {
	Prefix        xorname.Prefix
	PublicKeySet  bls.PublicKeySet
	Elders        []peers.Peer
	Members       []peers.NodeState
	MembershipGen uint64
}

// NewSAP validates and builds a SAP. Elders and members are sorted by name.
func NewSAP(prefix xorname.Prefix, keySet bls.PublicKeySet, elders []peers.Peer,
	members []peers.NodeState, gen uint64, elderCount int) (SectionAuthorityProvider, error) {

	sap := SectionAuthorityProvider{
		Prefix:        prefix,
		PublicKeySet:  keySet,
		Elders:        append([]peers.Peer{}, elders...),
		Members:       append([]peers.NodeState{}, members...),
		MembershipGen: gen,
	}
	peers.SortPeers(sap.Elders)
	peers.SortNodeStates(sap.Members)

	if err := sap.Validate(elderCount); err != nil {
		return SectionAuthorityProvider{}, err
	}
	return sap, nil
}

// Validate checks the construction rules.
func (s SectionAuthorityProvider) Validate(elderCount int) error {
	if len(s.Elders) == 0 {
		return fmt.Errorf("%w: no elders", ErrInvalidSAP)
	}
	if elderCount > 0 && len(s.Elders) > elderCount {
		return fmt.Errorf("%w: %d elders, max %d", ErrInvalidSAP, len(s.Elders), elderCount)
	}
	if s.PublicKeySet.IsZero() {
		return fmt.Errorf("%w: no section key", ErrInvalidSAP)
	}
	if s.PublicKeySet.Size != len(s.Elders) {
		return fmt.Errorf("%w: key set size %d for %d elders", ErrInvalidSAP, s.PublicKeySet.Size, len(s.Elders))
	}
	for _, e := range s.Elders {
		if !s.Prefix.Matches(e.Name) {
			return fmt.Errorf("%w: elder %s outside prefix %s", ErrInvalidSAP, e.Name, s.Prefix)
		}
		m, ok := s.Member(e.Name)
		if !ok || !m.IsJoined() {
			return fmt.Errorf("%w: elder %s is not a joined member", ErrInvalidSAP, e.Name)
		}
	}
	return nil
}

// SectionKey is the section's BLS public key.
func (s SectionAuthorityProvider) SectionKey() bls.PublicKey {
	return s.PublicKeySet.PublicKey()
}

// ContainsElder ...
func (s SectionAuthorityProvider) ContainsElder(name xorname.Name) bool {
	return s.ElderIndex(name) >= 0
}

// ElderIndex returns the position of an elder, which is also the index of its
// key share, or -1.
func (s SectionAuthorityProvider) ElderIndex(name xorname.Name) int {
	for i, e := range s.Elders {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// ElderPeers returns the elders ordered by name.
func (s SectionAuthorityProvider) ElderPeers() []peers.Peer {
	return append([]peers.Peer{}, s.Elders...)
}

// Names returns the elder names.
func (s SectionAuthorityProvider) Names() []xorname.Name {
	res := make([]xorname.Name, len(s.Elders))
	for i, e := range s.Elders {
		res[i] = e.Name
	}
	return res
}

// Member looks a node up in the roster.
func (s SectionAuthorityProvider) Member(name xorname.Name) (peers.NodeState, bool) {
	for _, m := range s.Members {
		if m.Name() == name {
			return m, true
		}
	}
	return peers.NodeState{}, false
}

// ClosestElders returns the n elders closest to target.
func (s SectionAuthorityProvider) ClosestElders(target xorname.Name, n int) []peers.Peer {
	return peers.NewPeerSet(s.Elders).Closest(target, n)
}

// Bytes is the canonical encoding of the SAP, the payload of its signature.
func (s SectionAuthorityProvider) Bytes() []byte {
	return common.MustMarshal(s)
}

// String ...
func (s SectionAuthorityProvider) String() string {
	return fmt.Sprintf("SAP{prefix: %s, key: %s, elders: %d, members: %d, gen: %d}",
		s.Prefix, s.SectionKey(), len(s.Elders), len(s.Members), s.MembershipGen)
}
