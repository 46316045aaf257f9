// Package data holds the data items stored by sections, immutable chunks and
// structured maps, and the rules that authorise their mutation.
//
// A map has a single owner, per-user permission sets and versioned entries.
// Every change to permissions or ownership bumps the map version, and every
// entry mutation bumps the version of that entry. Mutations of a map are
// serialised by a per-name lock in the Handler.
package data
