package sections

import (
	"fmt"
	"sort"

	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// NetworkKnowledge is a node's authenticated view of the network: the SAPs
// of every section it heard of, the DAG proving them, its own section and
// the membership decisions of its own section.
//
// A NetworkKnowledge is owned by a single node and written by its dispatcher
// only. Other goroutines work on Snapshot copies.
type NetworkKnowledge struct {
	name    xorname.Name
	tree    *SectionTree
	own     SectionSignedSAP
	hasOwn  bool
	members map[xorname.Name]SignedNodeState
}

// NewNetworkKnowledge returns the knowledge of a node that only trusts the
// genesis key. The node learns about sections through Update.
func NewNetworkKnowledge(name xorname.Name, genesisKey bls.PublicKey) *NetworkKnowledge {
	return &NetworkKnowledge{
		name:    name,
		tree:    NewSectionTree(genesisKey),
		members: make(map[xorname.Name]SignedNodeState),
	}
}

// NewGenesisKnowledge builds the knowledge of a member of the genesis section,
// whose SAP is signed by the genesis key itself.
func NewGenesisKnowledge(name xorname.Name, genesis SectionSignedSAP) (*NetworkKnowledge, error) {
	k := NewNetworkKnowledge(name, genesis.SectionKey())
	if _, err := k.Update(genesis, NewSectionsDAG(genesis.SectionKey())); err != nil {
		return nil, err
	}
	return k, nil
}

// Name is the name of the node owning this knowledge.
func (k *NetworkKnowledge) Name() xorname.Name {
	return k.name
}

// SetName is used after relocation, when the node takes a new name.
func (k *NetworkKnowledge) SetName(name xorname.Name) {
	k.name = name
	k.hasOwn = false
	k.members = make(map[xorname.Name]SignedNodeState)
	if sap, err := k.tree.Closest(name, nil); err == nil && sap.Value.Prefix.Matches(name) {
		k.own = sap
		k.hasOwn = true
	}
}

// GenesisKey ...
func (k *NetworkKnowledge) GenesisKey() bls.PublicKey {
	return k.tree.GenesisKey()
}

// DAG returns the sections DAG. Callers must not modify it.
func (k *NetworkKnowledge) DAG() *SectionsDAG {
	return k.tree.DAG()
}

// Tree ...
func (k *NetworkKnowledge) Tree() *SectionTree {
	return k.tree
}

// HasSection reports whether the node knows its own section.
func (k *NetworkKnowledge) HasSection() bool {
	return k.hasOwn
}

// SignedSAP returns the node's own section SAP.
func (k *NetworkKnowledge) SignedSAP() SectionSignedSAP {
	return k.own
}

// SAP ...
func (k *NetworkKnowledge) SAP() SectionAuthorityProvider {
	return k.own.Value
}

// Prefix returns the node's own prefix.
func (k *NetworkKnowledge) Prefix() xorname.Prefix {
	return k.own.Value.Prefix
}

// SectionKey returns the current key of the node's own section, or the
// genesis key if the node has not joined yet.
func (k *NetworkKnowledge) SectionKey() bls.PublicKey {
	if !k.hasOwn {
		return k.GenesisKey()
	}
	return k.own.SectionKey()
}

// SectionChainLen is the length of the chain from genesis to the current
// section key.
func (k *NetworkKnowledge) SectionChainLen() uint64 {
	return k.DAG().ChainLen(k.SectionKey())
}

// IsElder ...
func (k *NetworkKnowledge) IsElder(name xorname.Name) bool {
	return k.hasOwn && k.own.Value.ContainsElder(name)
}

// Closest returns the SAP of the section best placed to handle target.
func (k *NetworkKnowledge) Closest(target xorname.Name, exclude map[xorname.Prefix]bool) (SectionSignedSAP, error) {
	return k.tree.Closest(target, exclude)
}

// Update verifies and installs a signed SAP with its proof chain. If the SAP
// is the node's own section, it becomes current. It returns whether the
// knowledge changed.
func (k *NetworkKnowledge) Update(signed SectionSignedSAP, proof *SectionsDAG) (bool, error) {
	changed, err := k.tree.Update(signed, proof)
	if err != nil {
		return false, err
	}

	prefix := signed.Value.Prefix
	if prefix.Matches(k.name) {
		if installed, ok := k.tree.Get(prefix); ok && installed.SectionKey() == signed.SectionKey() {
			if !k.hasOwn || k.own.SectionKey() != signed.SectionKey() {
				k.own = signed
				k.hasOwn = true
				k.pruneMembers()
				changed = true
			}
		}
	}
	return changed, nil
}

// ProofChainFrom returns the part of the DAG between from and the current
// section key.
func (k *NetworkKnowledge) ProofChainFrom(from bls.PublicKey) (*SectionsDAG, error) {
	return k.DAG().PartialDAG(from, k.SectionKey())
}

// ProofChainTo returns the chain from genesis to key.
func (k *NetworkKnowledge) ProofChainTo(key bls.PublicKey) (*SectionsDAG, error) {
	return k.DAG().PartialDAG(k.GenesisKey(), key)
}

// UpdateMember records a membership decision for the node's own section. The
// decision must be signed by a key of the DAG, and must be newer than the
// one we hold for that node.
func (k *NetworkKnowledge) UpdateMember(decision SignedNodeState) (bool, error) {
	if !k.DAG().HasKey(decision.Sig.PublicKey) {
		return false, ErrKeyNotFound
	}
	if !decision.Verify() {
		return false, ErrInvalidSignature
	}
	name := decision.Value.Name()
	if k.hasOwn && !k.own.Value.Prefix.Matches(name) {
		return false, nil
	}
	if existing, ok := k.members[name]; ok && existing.Gen >= decision.Gen {
		return false, nil
	}
	k.members[name] = decision
	return true, nil
}

// pruneMembers drops decisions for nodes outside our prefix, after a split.
func (k *NetworkKnowledge) pruneMembers() {
	for n := range k.members {
		if !k.own.Value.Prefix.Matches(n) {
			delete(k.members, n)
		}
	}
}

// Members returns the decisions we hold, ordered by name.
func (k *NetworkKnowledge) Members() []SignedNodeState {
	res := make([]SignedNodeState, 0, len(k.members))
	for _, m := range k.members {
		res = append(res, m)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Value.Name().Cmp(res[j].Value.Name()) < 0
	})
	return res
}

// Member returns the decision held for name.
func (k *NetworkKnowledge) Member(name xorname.Name) (SignedNodeState, bool) {
	m, ok := k.members[name]
	return m, ok
}

// JoinedMembers returns the states of joined members.
func (k *NetworkKnowledge) JoinedMembers() []peers.NodeState {
	var res []peers.NodeState
	for _, m := range k.Members() {
		if m.Value.IsJoined() {
			res = append(res, m.Value)
		}
	}
	return res
}

// Snapshot returns an independent copy.
func (k *NetworkKnowledge) Snapshot() *NetworkKnowledge {
	c := &NetworkKnowledge{
		name:    k.name,
		tree:    k.tree.Clone(),
		own:     k.own,
		hasOwn:  k.hasOwn,
		members: make(map[xorname.Name]SignedNodeState, len(k.members)),
	}
	for n, m := range k.members {
		c.members[n] = m
	}
	return c
}

// String ...
func (k *NetworkKnowledge) String() string {
	return fmt.Sprintf("Knowledge{name: %s, prefix: %s, key: %s, sections: %d, keys: %d}",
		k.name, k.Prefix(), k.SectionKey(), k.tree.Len(), k.DAG().Len())
}

// KnowledgeRecord is the persisted form of a NetworkKnowledge.
type KnowledgeRecord struct {
	Name     xorname.Name
	Chain    ProofChain
	Sections []SectionSignedSAP
	Members  []SignedNodeState
}

// Record returns the persisted form.
func (k *NetworkKnowledge) Record() KnowledgeRecord {
	return KnowledgeRecord{
		Name:     k.name,
		Chain:    k.DAG().ProofChain(),
		Sections: k.tree.All(),
		Members:  k.Members(),
	}
}

// Marshal ...
func (k *NetworkKnowledge) Marshal() ([]byte, error) {
	return marshal(k.Record())
}

// FromRecord rebuilds a NetworkKnowledge, verifying every signature again.
func FromRecord(r KnowledgeRecord) (*NetworkKnowledge, error) {
	dag, err := r.Chain.DAG()
	if err != nil {
		return nil, err
	}
	k := NewNetworkKnowledge(r.Name, dag.GenesisKey())
	for _, s := range r.Sections {
		proof, err := dag.PartialDAG(dag.GenesisKey(), s.SectionKey())
		if err != nil {
			return nil, err
		}
		if _, err := k.Update(s, proof); err != nil {
			return nil, err
		}
	}
	// Keys that no longer back a SAP are still part of the lineage.
	if err := k.tree.dag.Merge(dag); err != nil {
		return nil, err
	}
	for _, m := range r.Members {
		if _, err := k.UpdateMember(m); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// UnmarshalKnowledge ...
func UnmarshalKnowledge(data []byte) (*NetworkKnowledge, error) {
	var r KnowledgeRecord
	if err := unmarshal(data, &r); err != nil {
		return nil, err
	}
	return FromRecord(r)
}
