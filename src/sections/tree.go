package sections

import (
	"fmt"

	"github.com/google/btree"

	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

type treeItem struct {
	prefix xorname.Prefix
	sap    SectionSignedSAP
}

func lessItems(a, b treeItem) bool {
	return a.prefix.Less(b.prefix)
}

// SectionTree maps prefixes to the latest signed SAP known for them, and
// keeps the DAG proving every SAP descends from the genesis key. The set of
// prefixes is always a partition of the part of the name space it covers.
type SectionTree struct {
	sections *btree.BTreeG[treeItem]
	dag      *SectionsDAG
}

// NewSectionTree returns a tree knowing only the genesis key.
func NewSectionTree(genesisKey bls.PublicKey) *SectionTree {
	return &SectionTree{
		sections: btree.NewG(8, lessItems),
		dag:      NewSectionsDAG(genesisKey),
	}
}

// GenesisKey ...
func (t *SectionTree) GenesisKey() bls.PublicKey {
	return t.dag.GenesisKey()
}

// DAG returns the tree's DAG. Callers must not modify it.
func (t *SectionTree) DAG() *SectionsDAG {
	return t.dag
}

// Len ...
func (t *SectionTree) Len() int {
	return t.sections.Len()
}

// Get returns the SAP stored for exactly this prefix.
func (t *SectionTree) Get(prefix xorname.Prefix) (SectionSignedSAP, bool) {
	it, ok := t.sections.Get(treeItem{prefix: prefix})
	return it.sap, ok
}

// All returns the SAPs in prefix order.
func (t *SectionTree) All() []SectionSignedSAP {
	res := make([]SectionSignedSAP, 0, t.sections.Len())
	t.sections.Ascend(func(it treeItem) bool {
		res = append(res, it.sap)
		return true
	})
	return res
}

// Prefixes returns the known prefixes in order.
func (t *SectionTree) Prefixes() []xorname.Prefix {
	res := make([]xorname.Prefix, 0, t.sections.Len())
	t.sections.Ascend(func(it treeItem) bool {
		res = append(res, it.prefix)
		return true
	})
	return res
}

// Closest returns the SAP whose prefix matches target with the most bits. If
// no prefix matches, the SAP whose prefix is closest to target is returned.
// Prefixes in exclude are skipped.
func (t *SectionTree) Closest(target xorname.Name, exclude map[xorname.Prefix]bool) (SectionSignedSAP, error) {
	var best *treeItem
	var closest *treeItem
	t.sections.Ascend(func(it treeItem) bool {
		if exclude[it.prefix] {
			return true
		}
		if it.prefix.Matches(target) {
			if best == nil || it.prefix.Len() > best.prefix.Len() {
				best = &it
			}
			return true
		}
		if closest == nil || target.CmpDistance(it.prefix.Name(), closest.prefix.Name()) < 0 {
			closest = &it
		}
		return true
	})
	if best != nil {
		return best.sap, nil
	}
	if closest != nil {
		return closest.sap, nil
	}
	return SectionSignedSAP{}, ErrNoSectionFound
}

// Update verifies and installs a signed SAP. The proof chain must start at a
// key we already trust and contain the SAP's key. It returns whether the tree
// changed.
func (t *SectionTree) Update(signed SectionSignedSAP, proof *SectionsDAG) (bool, error) {
	if !signed.Verify() {
		return false, ErrInvalidSignature
	}
	if !t.dag.HasKey(proof.GenesisKey()) {
		return false, ErrUntrustedProofChain
	}
	if !proof.HasKey(signed.SectionKey()) {
		return false, fmt.Errorf("%w: proof chain does not contain the section key", ErrKeyNotFound)
	}

	dag := t.dag.Clone()
	if err := dag.Merge(proof); err != nil {
		return false, err
	}
	dagChanged := dag.Len() != t.dag.Len()
	t.dag = dag

	return t.install(signed) || dagChanged, nil
}

// install applies the partition rules. The SAP's key must already be in the
// DAG.
func (t *SectionTree) install(signed SectionSignedSAP) bool {
	prefix := signed.Value.Prefix
	newKey := signed.SectionKey()

	if existing, ok := t.Get(prefix); ok {
		oldKey := existing.SectionKey()
		if oldKey == newKey {
			return false
		}
		newer := signed.Value.MembershipGen > existing.Value.MembershipGen
		if signed.Value.MembershipGen == existing.Value.MembershipGen {
			newer = t.dag.IsAncestor(oldKey, newKey)
		}
		if !newer {
			return false
		}
		t.sections.ReplaceOrInsert(treeItem{prefix: prefix, sap: signed})
		return true
	}

	var ancestors, descendants []treeItem
	t.sections.Ascend(func(it treeItem) bool {
		switch {
		case it.prefix.IsExtensionOf(prefix):
			descendants = append(descendants, it)
		case prefix.IsExtensionOf(it.prefix):
			ancestors = append(ancestors, it)
		}
		return true
	})

	// A SAP for an ancestor of known sections is stale.
	if len(descendants) > 0 {
		return false
	}
	for _, a := range ancestors {
		t.sections.Delete(a)
	}
	t.sections.ReplaceOrInsert(treeItem{prefix: prefix, sap: signed})
	return true
}

// Clone returns an independent copy.
func (t *SectionTree) Clone() *SectionTree {
	return &SectionTree{
		sections: t.sections.Clone(),
		dag:      t.dag.Clone(),
	}
}
