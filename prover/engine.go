// Package prover wraps the Groth16 proving system behind a narrow engine
// interface. The gateway validates every value against the circuit's field
// and shape constraints before it reaches an engine, keeps one engine per
// supported tree depth, and serializes proof generation (memory heavy) while
// letting verifications run in parallel.
package prover

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/vocdoni/district-pipeline/types"
)

// CircuitInputs is the full witness of one membership proof. Only MerkleRoot
// and ActionDomain are known to the service beforehand; the rest stays
// private to the subject and is discarded after proving.
type CircuitInputs struct {
	// public
	MerkleRoot   *big.Int
	ActionDomain *big.Int
	// private
	UserSecret       *big.Int
	RegistrationSalt *big.Int
	DistrictField    *big.Int
	AuthorityLevel   int
	LeafIndex        uint64
	Siblings         []*big.Int
	PathIndices      []uint8
}

// ProofBundle is the output of a proving run: the opaque proof blob plus the
// public inputs extracted from the circuit's public signals. The nullifier is
// computed inside the circuit; it appears here for the first time.
type ProofBundle struct {
	Proof        json.RawMessage     `json:"proof"`
	PublicInputs *types.PublicInputs `json:"publicInputs"`
}

// Engine generates and verifies membership proofs for a single tree depth.
// Implementations must treat inputs as already validated.
type Engine interface {
	// Depth returns the tree depth this engine's circuit is compiled for.
	Depth() int
	// Prove runs the circuit over the witness and returns the proof bundle.
	Prove(ctx context.Context, inputs *CircuitInputs) (*ProofBundle, error)
	// Verify checks a proof against the claimed public inputs. A false
	// return with nil error means the proof is well formed but invalid.
	Verify(ctx context.Context, proof json.RawMessage, pub *types.PublicInputs) (bool, error)
}

// pubSignals flattens the public inputs into the circuit's canonical public
// signal order: nullifier, merkle root, authority level, action domain,
// district field. Verification reconstructs this array from the claimed
// values, so any mismatch with the proof's embedded signals fails the check.
func pubSignals(pub *types.PublicInputs) []string {
	return []string{
		pub.Nullifier.BigInt().String(),
		pub.MerkleRoot.BigInt().String(),
		big.NewInt(int64(pub.AuthorityLevel)).String(),
		pub.ActionDomain.BigInt().String(),
		pub.DistrictField.BigInt().String(),
	}
}

// parsePubSignals is the inverse of pubSignals, used after proving to read
// the circuit's outputs back.
func parsePubSignals(signals []string) (*types.PublicInputs, error) {
	if len(signals) != 5 {
		return nil, errBadSignalCount(len(signals))
	}
	vals := make([]*big.Int, len(signals))
	for i, s := range signals {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, errBadSignal(i, s)
		}
		vals[i] = v
	}
	return &types.PublicInputs{
		Nullifier:      types.HexBytesFromBigInt(vals[0]),
		MerkleRoot:     types.HexBytesFromBigInt(vals[1]),
		AuthorityLevel: int(vals[2].Int64()),
		ActionDomain:   types.HexBytesFromBigInt(vals[3]),
		DistrictField:  types.HexBytesFromBigInt(vals[4]),
	}, nil
}
