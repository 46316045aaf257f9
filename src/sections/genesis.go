package sections

import (
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// GenesisSAP builds the SAP of the first section, at the empty prefix, and
// signs it with every share of ks.
func GenesisSAP(ks *bls.KeySet, elders []peers.Peer, members []peers.NodeState, elderCount int) (SectionSignedSAP, error) {
	sap, err := NewSAP(xorname.Prefix{}, ks.Public, elders, members, 0, elderCount)
	if err != nil {
		return SectionSignedSAP{}, err
	}
	sig, err := ks.SignAll(sap.Bytes())
	if err != nil {
		return SectionSignedSAP{}, err
	}
	return SectionSignedSAP{
		Value: sap,
		Sig:   SectionSig{PublicKey: ks.Public.PublicKey(), Signature: sig},
	}, nil
}

// GenesisKeyShares hands share i of ks to the i-th elder of sap.
func GenesisKeyShares(ks *bls.KeySet, sap SectionAuthorityProvider) map[xorname.Name]SectionKeyShare {
	res := make(map[xorname.Name]SectionKeyShare, len(ks.Shares))
	for i, e := range sap.Elders {
		if i >= len(ks.Shares) {
			break
		}
		sk := ks.Shares[i]
		res[e.Name] = SectionKeyShare{PublicKeySet: ks.Public, Index: sk.Index, SecretKey: sk}
	}
	return res
}
