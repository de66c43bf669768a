// Package fields validates that untrusted byte strings and integers match
// the shapes the proving circuit expects: scalar field elements in range,
// sibling arrays of exactly the tree depth, leaf indices within capacity and
// authority levels within bounds. Everything here is pure and total; the
// functions return errors, they never panic. All checks run before any value
// reaches the proving engine or a Merkle tree.
package fields

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/vocdoni/district-pipeline/types"
)

var (
	ErrNotInField          = fmt.Errorf("value is not a valid scalar field element")
	ErrWrongSiblingCount   = fmt.Errorf("sibling count does not match tree depth")
	ErrLeafIndexOutOfRange = fmt.Errorf("leaf index out of range")
	ErrBadAuthorityLevel   = fmt.Errorf("authority level out of range")
	ErrBadDepth            = fmt.Errorf("unsupported tree depth")
)

// Modulus returns the scalar field order of the BN254 curve, the field the
// proving circuit operates on.
func Modulus() *big.Int {
	return fr.Modulus()
}

// CheckElement reports whether the big-endian integer value of b lies in
// [0, r). The modulus itself is rejected. An empty slice encodes zero and is
// valid; slices longer than 32 bytes are rejected outright.
func CheckElement(b []byte) error {
	if len(b) > types.FieldElementLen {
		return fmt.Errorf("%w: %d bytes", ErrNotInField, len(b))
	}
	v := new(big.Int).SetBytes(b)
	return CheckBigInt(v)
}

// CheckBigInt reports whether v lies in [0, r).
func CheckBigInt(v *big.Int) error {
	if v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return fmt.Errorf("%w: %s", ErrNotInField, v.String())
	}
	return nil
}

// CheckSiblings verifies that the sibling array has exactly depth entries
// and that every entry is a valid field element. No silent truncation or
// padding.
func CheckSiblings(siblings []types.HexBytes, depth int) error {
	if len(siblings) != depth {
		return fmt.Errorf("%w: got %d, want %d", ErrWrongSiblingCount, len(siblings), depth)
	}
	for i, s := range siblings {
		if err := CheckElement(s); err != nil {
			return fmt.Errorf("sibling %d: %w", i, err)
		}
	}
	return nil
}

// CheckPathIndices verifies that the path index array has exactly depth
// entries and that every entry is a direction bit.
func CheckPathIndices(indices []uint8, depth int) error {
	if len(indices) != depth {
		return fmt.Errorf("%w: got %d path indices, want %d", ErrWrongSiblingCount, len(indices), depth)
	}
	for i, b := range indices {
		if b > 1 {
			return fmt.Errorf("path index %d: %d is not a bit", i, b)
		}
	}
	return nil
}

// CheckLeafIndex verifies 0 <= index < 2^depth. The last valid position,
// 2^depth - 1, is accepted; 2^depth is not.
func CheckLeafIndex(index uint64, depth int) error {
	if depth < 0 || depth > 63 {
		return fmt.Errorf("%w: %d", ErrBadDepth, depth)
	}
	if index >= uint64(1)<<uint(depth) {
		return fmt.Errorf("%w: %d >= 2^%d", ErrLeafIndexOutOfRange, index, depth)
	}
	return nil
}

// CheckAuthorityLevel verifies the inclusive bounds [1, 5].
func CheckAuthorityLevel(level int) error {
	if level < types.MinAuthorityLevel || level > types.MaxAuthorityLevel {
		return fmt.Errorf("%w: %d", ErrBadAuthorityLevel, level)
	}
	return nil
}

// CheckDepth verifies that the circuit supports the given tree depth.
func CheckDepth(depth int) error {
	if !types.ValidTreeDepth(depth) {
		return fmt.Errorf("%w: %d", ErrBadDepth, depth)
	}
	return nil
}
