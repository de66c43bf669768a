package util

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// BigToFF returns the finite field representation of the big.Int provided,
// using Euclidean modulus over the BN254 scalar field.
func BigToFF(iv *big.Int) *big.Int {
	modulus := fr.Modulus()
	z := big.NewInt(0)
	if c := iv.Cmp(modulus); c == 0 {
		return z
	} else if c != 1 && iv.Cmp(z) != -1 {
		return iv
	}
	return z.Mod(iv, modulus)
}
