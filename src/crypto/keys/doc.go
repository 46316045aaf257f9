// Package keys implements the public key cryptography of nodes and clients.
//
// A node owns an Ed25519 signing key and an X25519 encryption key. The node's
// name in the XOR space is the SHA3-256 of its Ed25519 public key, so a name
// cannot be chosen, only searched for.
//
// Clients may use Ed25519 or secp256k1 keys. We accept secp256k1 because it is
// also used by Bitcoin and Ethereum, which means that existing wallet keys can
// own data.
package keys
