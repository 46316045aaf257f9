// Package dkg runs distributed key generations among the candidate elders of
// a section.
//
// A session is identified by a SessionID, authorised by a signature of the
// current section key over it. Each participant draws an ephemeral key pair,
// signs the public half with its node key and broadcasts it. Once every
// ephemeral key is known, participants run a Pedersen DKG over them (kyber's
// share/dkg/pedersen): a Parts vote carries a participant's encrypted deals,
// an Acks vote carries its responses to every other deal. The session
// completes when every deal was approved by every participant, which makes
// all honest participants derive the same key set.
//
// Votes are signed by their voter and relayed freely. Missing votes are
// recovered by anti-entropy requests and periodic gossip; a session that
// cannot complete before its timeout is salvaged only when its key matches
// the key the section ended up using.
package dkg
