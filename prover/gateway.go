package prover

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/vocdoni/district-pipeline/crypto/fields"
	"github.com/vocdoni/district-pipeline/log"
	"github.com/vocdoni/district-pipeline/types"
)

// EngineFactory builds an engine for a tree depth. The gateway calls it at
// most once per depth.
type EngineFactory func(depth int) (Engine, error)

// CircomFactory returns a factory that loads circom artifacts from
// artifactsDir.
func CircomFactory(artifactsDir string) EngineFactory {
	return func(depth int) (Engine, error) {
		return NewCircomEngine(artifactsDir, depth)
	}
}

type engineSlot struct {
	once   sync.Once
	engine Engine
	err    error
}

// Gateway fronts the proving engines. It validates every input against the
// field and shape constraints before handing it to an engine, initializes
// engines lazily (artifact loading is expensive) and allows one proving run
// at a time while verifications proceed concurrently.
type Gateway struct {
	factory EngineFactory
	slots   map[int]*engineSlot
	proveMu sync.Mutex
}

// NewGateway creates a gateway with one slot per supported tree depth.
func NewGateway(factory EngineFactory) *Gateway {
	slots := make(map[int]*engineSlot, len(types.TreeDepths))
	for _, d := range types.TreeDepths {
		slots[d] = &engineSlot{}
	}
	return &Gateway{factory: factory, slots: slots}
}

func (g *Gateway) engine(depth int) (Engine, error) {
	slot, ok := g.slots[depth]
	if !ok {
		return nil, fmt.Errorf("%w: %d", fields.ErrBadDepth, depth)
	}
	slot.once.Do(func() {
		slot.engine, slot.err = g.factory(depth)
		if slot.err != nil {
			log.Errorf("cannot initialize proving engine for depth %d: %v", depth, slot.err)
		}
	})
	return slot.engine, slot.err
}

// checkPublicInputs validates the claimed public inputs of a proof.
func checkPublicInputs(pub *types.PublicInputs) error {
	if pub == nil {
		return fmt.Errorf("missing public inputs")
	}
	if err := fields.CheckElement(pub.MerkleRoot); err != nil {
		return fmt.Errorf("merkle root: %w", err)
	}
	if err := fields.CheckElement(pub.Nullifier); err != nil {
		return fmt.Errorf("nullifier: %w", err)
	}
	if err := fields.CheckElement(pub.ActionDomain); err != nil {
		return fmt.Errorf("action domain: %w", err)
	}
	if err := fields.CheckElement(pub.DistrictField); err != nil {
		return fmt.Errorf("district field: %w", err)
	}
	return fields.CheckAuthorityLevel(pub.AuthorityLevel)
}

func checkWitnessField(name string, v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%s: missing value", name)
	}
	if err := fields.CheckBigInt(v); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// checkCircuitInputs validates a full witness before proving.
func checkCircuitInputs(inputs *CircuitInputs, depth int) error {
	if inputs == nil {
		return fmt.Errorf("missing circuit inputs")
	}
	for _, f := range []struct {
		name string
		v    *big.Int
	}{
		{"merkle root", inputs.MerkleRoot},
		{"action domain", inputs.ActionDomain},
		{"user secret", inputs.UserSecret},
		{"registration salt", inputs.RegistrationSalt},
		{"district field", inputs.DistrictField},
	} {
		if err := checkWitnessField(f.name, f.v); err != nil {
			return err
		}
	}
	if err := fields.CheckAuthorityLevel(inputs.AuthorityLevel); err != nil {
		return err
	}
	if err := fields.CheckLeafIndex(inputs.LeafIndex, depth); err != nil {
		return err
	}
	if len(inputs.Siblings) != depth {
		return fmt.Errorf("%w: got %d, want %d", fields.ErrWrongSiblingCount, len(inputs.Siblings), depth)
	}
	for i, s := range inputs.Siblings {
		if err := fields.CheckBigInt(s); err != nil {
			return fmt.Errorf("sibling %d: %w", i, err)
		}
	}
	return fields.CheckPathIndices(inputs.PathIndices, depth)
}

// Prove validates the witness and generates a proof. Proving runs are
// serialized across all depths.
func (g *Gateway) Prove(ctx context.Context, depth int, inputs *CircuitInputs) (*ProofBundle, error) {
	if err := fields.CheckDepth(depth); err != nil {
		return nil, err
	}
	if err := checkCircuitInputs(inputs, depth); err != nil {
		return nil, err
	}
	eng, err := g.engine(depth)
	if err != nil {
		return nil, err
	}
	g.proveMu.Lock()
	defer g.proveMu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return eng.Prove(ctx, inputs)
}

// Verify validates the claimed public inputs and checks the proof. Multiple
// verifications may run concurrently.
func (g *Gateway) Verify(ctx context.Context, depth int, proof json.RawMessage, pub *types.PublicInputs) (bool, error) {
	if err := fields.CheckDepth(depth); err != nil {
		return false, err
	}
	if len(proof) == 0 {
		return false, fmt.Errorf("missing proof")
	}
	if err := checkPublicInputs(pub); err != nil {
		return false, err
	}
	eng, err := g.engine(depth)
	if err != nil {
		return false, err
	}
	return eng.Verify(ctx, proof, pub)
}
