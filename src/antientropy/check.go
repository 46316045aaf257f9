// Package antientropy decides whether a message was addressed with an
// up-to-date view of the receiver's section, and tracks the retries of
// messages bounced back to us.
package antientropy

import (
	"errors"
	"fmt"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// ErrNoSection is returned by nodes that do not know their section yet.
var ErrNoSection = errors.New("antientropy: no section knowledge")

// Dst is where a sender believes a message goes: a name, and the key the
// section of that name holds.
type Dst struct {
	Name       xorname.Name
	SectionKey bls.PublicKey
}

// String ...
func (d Dst) String() string {
	return fmt.Sprintf("%s@%s", d.Name, d.SectionKey)
}

// Action is the outcome of a check.
type Action uint8

const (
	// Process the message.
	Process Action = iota
	// Retry tells the sender our section moved on from a key it knew.
	Retry
	// Update tells the sender our current section from genesis.
	Update
	// Redirect tells the sender the name belongs to another section.
	Redirect
)

var actions = []string{"Process", "Retry", "Update", "Redirect"}

func (a Action) String() string {
	if int(a) < len(actions) {
		return actions[a]
	}
	return "Unknown"
}

// Decision is the action to take for a message and, unless the message is
// processed, the SAP and proof chain to reply with.
type Decision struct {
	Action Action
	SAP    sections.SectionSignedSAP
	Proof  *sections.SectionsDAG
}

// Check evaluates dst against the receiver's knowledge.
func Check(k *sections.NetworkKnowledge, dst Dst) (Decision, error) {
	if !k.HasSection() {
		return Decision{}, ErrNoSection
	}
	own := k.SignedSAP()
	current := own.SectionKey()

	if !own.Value.Prefix.Matches(dst.Name) {
		closest, err := k.Closest(dst.Name, map[xorname.Prefix]bool{own.Value.Prefix: true})
		if err != nil {
			// we know no better section: the sender can only learn ours
			closest = own
		}
		proof, err := k.ProofChainTo(closest.SectionKey())
		if err != nil {
			return Decision{}, err
		}
		return Decision{Action: Redirect, SAP: closest, Proof: proof}, nil
	}

	if dst.SectionKey == current {
		return Decision{Action: Process}, nil
	}

	dag := k.DAG()
	if dag.HasKey(dst.SectionKey) && dag.IsAncestor(dst.SectionKey, current) {
		proof, err := dag.PartialDAG(dst.SectionKey, current)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Action: Retry, SAP: own, Proof: proof}, nil
	}

	// unknown key, or a key of another branch: send everything from genesis
	proof, err := k.ProofChainTo(current)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Action: Update, SAP: own, Proof: proof}, nil
}

// Apply updates the knowledge with the SAP of an AE message. Chains that do
// not root in our DAG are rejected with sections.ErrUntrustedProofChain, and
// callers drop the message.
func Apply(k *sections.NetworkKnowledge, sap sections.SectionSignedSAP, proof *sections.SectionsDAG) (bool, error) {
	if proof == nil {
		return false, common.NewKindError(common.ProtocolViolation, errors.New("missing proof chain"))
	}
	return k.Update(sap, proof)
}
