// Package peers defines the peers of a section and the membership states they
// go through.
//
// A peer is identified by its name, the SHA3-256 of its signing key, and can
// be reached at a network address. Two peers are equal iff their names are
// equal; the address is only a hint and may change.
//
// A NodeState couples a peer with its age and its membership state: Joined,
// Left, or Relocated. States only change through threshold-signed decisions
// of the section elders, see the membership package.
//
// Upon starting up, a node that is not the genesis node expects to find a
// peers.json file in its data directory. It lists the bootstrap contacts the
// node sends its first JoinRequest to.
package peers
