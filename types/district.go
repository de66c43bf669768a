package types

import (
	"crypto/sha256"
	"math/big"

	"github.com/vocdoni/district-pipeline/util"
)

// InclusionProof is the Merkle inclusion path of a membership leaf in a
// district tree. It is returned to the caller at registration time (and by
// the proofs endpoint) so the client can later build a membership proof; it
// is never persisted as a distinct entity.
type InclusionProof struct {
	Root        HexBytes   `json:"root"`
	Leaf        HexBytes   `json:"leaf"`
	LeafIndex   uint64     `json:"leafIndex"`
	Siblings    []HexBytes `json:"siblings"`
	PathIndices []uint8    `json:"pathIndices"`
}

// DistrictField maps a district identifier to the scalar field element the
// circuit binds leaves and public inputs to.
func DistrictField(districtID string) *big.Int {
	h := sha256.Sum256([]byte(districtID))
	return util.BigToFF(new(big.Int).SetBytes(h[:]))
}
