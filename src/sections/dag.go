package sections

import (
	"sort"

	"github.com/mosaicnetworks/sectiond/src/crypto"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
)

// Edge links a parent section key to a child key it signed.
type Edge struct {
	Parent bls.PublicKey
	Child  bls.PublicKey
	Sig    bls.Signature
}

// Verify checks that the parent key signed the child key.
func (e Edge) Verify() bool {
	return e.Parent.Verify(e.Child.Bytes(), e.Sig)
}

// dagNode is immutable once inserted. The hash commits to the node's whole
// lineage up to genesis.
type dagNode struct {
	key      bls.PublicKey
	parent   *crypto.Digest
	sig      bls.Signature
	depth    int
	children []bls.PublicKey
}

// SectionsDAG records the lineage of section keys. Every key but the genesis
// key has exactly one parent which signed it; a key with several children
// marks a split.
type SectionsDAG struct {
	genesisKey bls.PublicKey
	nodes      map[crypto.Digest]*dagNode
	hashes     map[bls.PublicKey]crypto.Digest
}

// NewSectionsDAG returns a DAG holding only the genesis key.
func NewSectionsDAG(genesisKey bls.PublicKey) *SectionsDAG {
	d := &SectionsDAG{
		genesisKey: genesisKey,
		nodes:      make(map[crypto.Digest]*dagNode),
		hashes:     make(map[bls.PublicKey]crypto.Digest),
	}
	h := nodeHash(nil, genesisKey, bls.Signature{})
	d.nodes[h] = &dagNode{key: genesisKey}
	d.hashes[genesisKey] = h
	return d
}

func nodeHash(parent *crypto.Digest, key bls.PublicKey, sig bls.Signature) crypto.Digest {
	if parent == nil {
		return crypto.Blake3(key.Bytes())
	}
	return crypto.Blake3(parent[:], key.Bytes(), sig.Bytes())
}

// GenesisKey ...
func (d *SectionsDAG) GenesisKey() bls.PublicKey {
	return d.genesisKey
}

// Len returns the number of keys, genesis included.
func (d *SectionsDAG) Len() int {
	return len(d.hashes)
}

// HasKey ...
func (d *SectionsDAG) HasKey(key bls.PublicKey) bool {
	_, ok := d.hashes[key]
	return ok
}

func (d *SectionsDAG) node(key bls.PublicKey) (*dagNode, bool) {
	h, ok := d.hashes[key]
	if !ok {
		return nil, false
	}
	n, ok := d.nodes[h]
	return n, ok
}

// Insert appends the edge parent -> child. Inserting an edge that is already
// present is a no-op.
func (d *SectionsDAG) Insert(parent, child bls.PublicKey, sig bls.Signature) error {
	pn, ok := d.node(parent)
	if !ok {
		return ErrKeyNotFound
	}
	if existing, ok := d.node(child); ok {
		if existing.parent != nil && d.nodes[*existing.parent].key == parent {
			return nil
		}
		return ErrKeyAlreadyExists
	}
	if !parent.Verify(child.Bytes(), sig) {
		return ErrInvalidSignature
	}

	ph := d.hashes[parent]
	h := nodeHash(&ph, child, sig)
	d.nodes[h] = &dagNode{
		key:    child,
		parent: &ph,
		sig:    sig,
		depth:  pn.depth + 1,
	}
	d.hashes[child] = h

	pn.children = append(pn.children, child)
	sort.Slice(pn.children, func(i, j int) bool {
		return pn.children[i].Less(pn.children[j])
	})
	return nil
}

// Parent returns the parent of key and the parent's signature over it.
func (d *SectionsDAG) Parent(key bls.PublicKey) (bls.PublicKey, bls.Signature, error) {
	n, ok := d.node(key)
	if !ok {
		return bls.PublicKey{}, bls.Signature{}, ErrKeyNotFound
	}
	if n.parent == nil {
		return bls.PublicKey{}, bls.Signature{}, ErrKeyNotFound
	}
	return d.nodes[*n.parent].key, n.sig, nil
}

// Children returns the children of key in ascending byte order.
func (d *SectionsDAG) Children(key bls.PublicKey) []bls.PublicKey {
	n, ok := d.node(key)
	if !ok {
		return nil
	}
	return append([]bls.PublicKey{}, n.children...)
}

// Keys returns every key, sorted by byte order.
func (d *SectionsDAG) Keys() []bls.PublicKey {
	keys := make([]bls.PublicKey, 0, len(d.hashes))
	for k := range d.hashes {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

// LeafKeys returns the keys without children, sorted by byte order.
func (d *SectionsDAG) LeafKeys() []bls.PublicKey {
	var keys []bls.PublicKey
	for k, h := range d.hashes {
		if len(d.nodes[h].children) == 0 {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)
	return keys
}

// ChainLen is the number of keys from genesis to key inclusive, or 0 if key
// is unknown.
func (d *SectionsDAG) ChainLen(key bls.PublicKey) uint64 {
	n, ok := d.node(key)
	if !ok {
		return 0
	}
	return uint64(n.depth + 1)
}

// Ancestors returns the keys strictly above key, closest first.
func (d *SectionsDAG) Ancestors(key bls.PublicKey) ([]bls.PublicKey, error) {
	n, ok := d.node(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	var res []bls.PublicKey
	for n.parent != nil {
		n = d.nodes[*n.parent]
		res = append(res, n.key)
	}
	return res, nil
}

// IsAncestor reports whether a is b or one of b's ancestors.
func (d *SectionsDAG) IsAncestor(a, b bls.PublicKey) bool {
	na, ok := d.node(a)
	if !ok {
		return false
	}
	nb, ok := d.node(b)
	if !ok {
		return false
	}
	for nb.depth > na.depth {
		nb = d.nodes[*nb.parent]
	}
	return nb.key == na.key
}

// PartialDAG returns the path from `from` (root of the result) to `to`.
func (d *SectionsDAG) PartialDAG(from, to bls.PublicKey) (*SectionsDAG, error) {
	if !d.HasKey(from) {
		return nil, ErrKeyNotFound
	}
	n, ok := d.node(to)
	if !ok {
		return nil, ErrKeyNotFound
	}

	var path []Edge
	for n.key != from {
		if n.parent == nil {
			return nil, ErrInvalidBranch
		}
		p := d.nodes[*n.parent]
		path = append(path, Edge{Parent: p.key, Child: n.key, Sig: n.sig})
		n = p
	}

	res := NewSectionsDAG(from)
	for i := len(path) - 1; i >= 0; i-- {
		res.insertTrusted(path[i])
	}
	return res, nil
}

// insertTrusted adds an edge that was already verified.
func (d *SectionsDAG) insertTrusted(e Edge) {
	pn := d.nodes[d.hashes[e.Parent]]
	ph := d.hashes[e.Parent]
	h := nodeHash(&ph, e.Child, e.Sig)
	d.nodes[h] = &dagNode{key: e.Child, parent: &ph, sig: e.Sig, depth: pn.depth + 1}
	d.hashes[e.Child] = h
	pn.children = append(pn.children, e.Child)
	sort.Slice(pn.children, func(i, j int) bool {
		return pn.children[i].Less(pn.children[j])
	})
}

// Edges lists the edges in serialization order: for each leaf, in key order,
// the path up to an already visited key, reversed so that parents always come
// before their children.
func (d *SectionsDAG) Edges() []Edge {
	visited := make(map[bls.PublicKey]bool, len(d.hashes))
	visited[d.genesisKey] = true

	var res []Edge
	for _, leaf := range d.LeafKeys() {
		var path []Edge
		n, _ := d.node(leaf)
		for !visited[n.key] {
			visited[n.key] = true
			p := d.nodes[*n.parent]
			path = append(path, Edge{Parent: p.key, Child: n.key, Sig: n.sig})
			n = p
		}
		for i := len(path) - 1; i >= 0; i-- {
			res = append(res, path[i])
		}
	}
	return res
}

// Merge adds the edges of other. One of the two DAGs must contain the other's
// genesis key; the descendant DAG is merged into the ancestor one. Edges are
// verified before anything changes.
func (d *SectionsDAG) Merge(other *SectionsDAG) error {
	if err := other.SelfVerify(); err != nil {
		return err
	}

	var base *SectionsDAG
	var extra []Edge
	switch {
	case d.HasKey(other.genesisKey):
		base = d.Clone()
		extra = other.Edges()
	case other.HasKey(d.genesisKey):
		base = other.Clone()
		extra = d.Edges()
	default:
		return ErrNoCommonKey
	}

	for _, e := range extra {
		if err := base.Insert(e.Parent, e.Child, e.Sig); err != nil {
			return err
		}
	}

	*d = *base
	return nil
}

// SelfVerify checks every edge signature.
func (d *SectionsDAG) SelfVerify() error {
	for _, n := range d.nodes {
		if n.parent == nil {
			if n.key != d.genesisKey {
				return ErrInvalidBranch
			}
			continue
		}
		p, ok := d.nodes[*n.parent]
		if !ok {
			return ErrKeyNotFound
		}
		if !p.key.Verify(n.key.Bytes(), n.sig) {
			return ErrInvalidSignature
		}
	}
	return nil
}

// CheckTrust reports whether the DAG's genesis key is one of trusted.
func (d *SectionsDAG) CheckTrust(trusted []bls.PublicKey) bool {
	for _, k := range trusted {
		if k == d.genesisKey {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Nodes are immutable, so only the indexes and
// children slices are copied.
func (d *SectionsDAG) Clone() *SectionsDAG {
	c := &SectionsDAG{
		genesisKey: d.genesisKey,
		nodes:      make(map[crypto.Digest]*dagNode, len(d.nodes)),
		hashes:     make(map[bls.PublicKey]crypto.Digest, len(d.hashes)),
	}
	for h, n := range d.nodes {
		cn := *n
		cn.children = append([]bls.PublicKey{}, n.children...)
		c.nodes[h] = &cn
	}
	for k, h := range d.hashes {
		c.hashes[k] = h
	}
	return c
}

// Equal compares genesis keys and edge sets.
func (d *SectionsDAG) Equal(o *SectionsDAG) bool {
	if d.genesisKey != o.genesisKey || len(d.hashes) != len(o.hashes) {
		return false
	}
	for k, h := range d.hashes {
		oh, ok := o.hashes[k]
		if !ok || oh != h {
			return false
		}
	}
	return true
}

// ProofChain returns the serializable form of the DAG.
func (d *SectionsDAG) ProofChain() ProofChain {
	return ProofChain{Genesis: d.genesisKey, Edges: d.Edges()}
}

// ProofChain is the wire form of a SectionsDAG.
type ProofChain struct {
	Genesis bls.PublicKey
	Edges   []Edge
}

// DAG rebuilds and verifies the DAG.
func (p ProofChain) DAG() (*SectionsDAG, error) {
	d := NewSectionsDAG(p.Genesis)
	for _, e := range p.Edges {
		if err := d.Insert(e.Parent, e.Child, e.Sig); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Marshal ...
func (d *SectionsDAG) Marshal() ([]byte, error) {
	return marshal(d.ProofChain())
}

// UnmarshalSectionsDAG ...
func UnmarshalSectionsDAG(data []byte) (*SectionsDAG, error) {
	var p ProofChain
	if err := unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p.DAG()
}

func sortKeys(keys []bls.PublicKey) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Less(keys[j])
	})
}
