// Package membership advances the member set of a section through
// threshold-signed decisions.
//
// Every change to a node's state (join, leave, relocation) is proposed by an
// elder. Elders sign at most one proposal per membership generation with
// their section key share and broadcast the share; the proposal that gathers
// a supermajority of shares becomes the Decision for that generation. Each
// node applies decisions in generation order, buffering those that arrive
// early.
//
// After every decision the caller inspects the new member set with
// ElderCandidates, SplitCandidates and RelocationCandidate to decide whether
// a DKG round must start or a node must move to another section.
package membership
