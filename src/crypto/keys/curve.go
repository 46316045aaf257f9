package keys

import (
	"github.com/btcsuite/btcd/btcec"
)

/*
Client keys may be secp256k1 keys, the curve used by Bitcoin and Ethereum, so
that existing wallets can own data. Node keys are always Ed25519.
*/

//Curve returns btcsuite's golang implementation of secp256k1.
func Curve() *btcec.KoblitzCurve {
	return btcec.S256()
}
