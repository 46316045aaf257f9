package node

import (
	"fmt"

	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// EventKind ...
type EventKind uint8

const (
	// EventJoined is emitted when this node is admitted to a section, after
	// joining or relocating.
	EventJoined EventKind = iota
	// EventJoinRejected is emitted when the section refuses this node.
	EventJoinRejected
	// EventMemberJoined, EventMemberLeft and EventMemberRelocated follow the
	// membership decisions of our section.
	EventMemberJoined
	EventMemberLeft
	EventMemberRelocated
	// EventSectionUpdated is emitted when our section's SAP changes.
	EventSectionUpdated
	// EventElderPromoted and EventElderDemoted are about this node.
	EventElderPromoted
	EventElderDemoted
	// EventSplit is emitted when our section splits.
	EventSplit
	// EventRelocating is emitted when this node starts joining another
	// section under a new name.
	EventRelocating
	// EventDkgFailed is emitted when a DKG session this node took part in
	// timed out.
	EventDkgFailed
)

var eventKinds = []string{
	"Joined",
	"JoinRejected",
	"MemberJoined",
	"MemberLeft",
	"MemberRelocated",
	"SectionUpdated",
	"ElderPromoted",
	"ElderDemoted",
	"Split",
	"Relocating",
	"DkgFailed",
}

func (k EventKind) String() string {
	if int(k) < len(eventKinds) {
		return eventKinds[k]
	}
	return "Unknown"
}

// Event is a notable change in the node or its section.
type Event struct {
	Kind       EventKind
	Name       xorname.Name
	Prefix     xorname.Prefix
	SectionKey bls.PublicKey
	Age        uint8
	Reason     string
}

func (e Event) String() string {
	return fmt.Sprintf("%s(%s, prefix %s)", e.Kind, e.Name, e.Prefix)
}
