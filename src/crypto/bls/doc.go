// Package bls wraps the threshold BLS signature scheme used by section
// elders.
//
// Keys live in G2 and signatures in G1 of the BN256 pairing. Values are kept
// as fixed size byte arrays so that they are comparable, usable as map keys
// and encodable by the canonical codec; points are only decoded when a
// cryptographic operation needs them.
package bls
