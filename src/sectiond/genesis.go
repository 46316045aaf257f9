package sectiond

import (
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/membership"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// GenesisFile is the name of the file, in a node's data directory, holding
// the genesis section and the node's share of its key.
const GenesisFile = "genesis.dat"

// Genesis is what a founder of a multi-node network needs to start. Share is
// nil for founders that are not elders.
type Genesis struct {
	SAP   sections.SectionSignedSAP
	Share *sections.SectionKeyShare
}

// MakeGenesis deals the genesis key between founders and returns the genesis
// of each of them, indexed by the hex of their name. Founders start with age
// age, so the elders are the first elderCount of them by name.
func MakeGenesis(founders []peers.Peer, age uint8, elderCount int) (map[string]Genesis, error) {
	if len(founders) == 0 {
		return nil, fmt.Errorf("no founders")
	}

	members := make([]peers.NodeState, len(founders))
	for i, f := range founders {
		if f.Name.IsZero() {
			return nil, fmt.Errorf("founder %s has no name", f.NetAddr)
		}
		members[i] = peers.NewJoined(f, age, nil)
	}

	elders := membership.ElderCandidates(xorname.Prefix{}, members, nil, elderCount)
	ks, err := bls.GenerateKeySet(len(elders))
	if err != nil {
		return nil, err
	}

	sap, err := sections.GenesisSAP(ks, elders, members, elderCount)
	if err != nil {
		return nil, err
	}
	shares := sections.GenesisKeyShares(ks, sap.Value)

	res := make(map[string]Genesis, len(founders))
	for _, f := range founders {
		g := Genesis{SAP: sap}
		if s, ok := shares[f.Name]; ok {
			share := s
			g.Share = &share
		}
		res[f.Name.Hex()] = g
	}
	return res, nil
}

// WriteGenesis writes g in dir.
func WriteGenesis(dir string, g Genesis) error {
	b, err := common.Marshal(g)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	return ioutil.WriteFile(filepath.Join(dir, GenesisFile), b, 0600)
}

// ReadGenesis reads the genesis written in dir. It returns os.ErrNotExist
// wrapped in a PathError when there is none.
func ReadGenesis(dir string) (Genesis, error) {
	var g Genesis
	b, err := ioutil.ReadFile(filepath.Join(dir, GenesisFile))
	if err != nil {
		return g, err
	}
	if err := common.Unmarshal(b, &g); err != nil {
		return g, common.NewKindError(common.ConfigError, err)
	}
	if !g.SAP.Verify() {
		return g, common.NewKindError(common.ConfigError,
			fmt.Errorf("genesis section in %s is not signed by its own key", dir))
	}
	return g, nil
}

// WriteGenesisKey writes the hex encoded genesis key in path.
func WriteGenesisKey(path string, pk bls.PublicKey) error {
	return ioutil.WriteFile(path, []byte(hex.EncodeToString(pk.Bytes())), 0644)
}

// ReadGenesisKey reads a key written by WriteGenesisKey.
func ReadGenesisKey(path string) (bls.PublicKey, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return bls.PublicKey{}, err
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return bls.PublicKey{}, common.NewKindError(common.ConfigError, err)
	}
	pk, err := bls.PublicKeyFromBytes(raw)
	if err != nil {
		return bls.PublicKey{}, common.NewKindError(common.ConfigError, err)
	}
	return pk, nil
}
