// Package node implements the reactive component of a sectiond node.
//
// A Node owns a Core, the section state machine, and drives it from a single
// command loop. The loop takes one command at a time: a message received by
// the transport, a tick of the control timer, or a closure queued by a public
// method. After each command, the node sends the messages the Core queued,
// publishes its events, and starts solving a resource challenge if the Core
// received one. Core itself never blocks.
//
// Joining
//
// A node that is not a member of a section enters the Joining state. It sends
// a JoinRequest to the elders of the section its name belongs to, or to the
// contacts it was started with when it knows no section yet. Elders answer
// with a resource challenge, which the node solves in the background, then
// propose the node as a new member. Once a supermajority of elders voted, the
// decision is sent to the node along with the SAP and a proof chain from the
// genesis key, and the node enters the Running state.
//
// Membership
//
// Elders vote on membership changes with the membership package: joins,
// leaves and relocations. Every decision is broadcast to the members of the
// section. When members join, the eldest adult whose age matches the churn
// may be relocated to another section under a new name, in which case it
// enters the Relocating state and joins its destination section with a proof
// of its relocation.
//
// Handover
//
// When the members of a section call for other elders, or when the section
// has enough members to split, the current elders agree on a DKG session and
// the new elders generate a new section key. The current elders sign the new
// key with the current one, extending the sections DAG, and send the signed
// SAP to every member. See handover.go.
//
// Anti-Entropy
//
// Every message carries the section key its sender holds for the destination.
// A node receiving a message signed for an outdated key, or addressed to a
// name outside its prefix, bounces it back with its SAP and a proof chain, so
// that the sender updates its knowledge and resends.
//
// Client Data
//
// Elders store chunks and versioned maps for clients and answer their
// queries. See the data package.
package node
