package prover

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iden3/go-rapidsnark/prover"
	snarktypes "github.com/iden3/go-rapidsnark/types"
	"github.com/iden3/go-rapidsnark/verifier"
	"github.com/iden3/go-rapidsnark/witness"
	"github.com/vocdoni/district-pipeline/log"
	"github.com/vocdoni/district-pipeline/types"
)

func errBadSignalCount(n int) error {
	return fmt.Errorf("unexpected public signal count %d, want 5", n)
}

func errBadSignal(i int, s string) error {
	return fmt.Errorf("public signal %d is not a decimal integer: %q", i, s)
}

// CircomEngine runs a circom-compiled membership circuit through rapidsnark.
// Artifacts are compiled per tree depth and loaded from disk at startup:
// district_membership_<depth>.wasm, district_membership_<depth>_pkey.zkey and
// district_membership_<depth>_vkey.json.
type CircomEngine struct {
	depth int
	wasm  []byte
	zkey  []byte
	vkey  []byte
}

// NewCircomEngine loads the circuit artifacts for the given depth from
// artifactsDir.
func NewCircomEngine(artifactsDir string, depth int) (*CircomEngine, error) {
	base := fmt.Sprintf("district_membership_%d", depth)
	wasm, err := os.ReadFile(filepath.Join(artifactsDir, base+".wasm"))
	if err != nil {
		return nil, fmt.Errorf("cannot load circuit wasm: %w", err)
	}
	zkey, err := os.ReadFile(filepath.Join(artifactsDir, base+"_pkey.zkey"))
	if err != nil {
		return nil, fmt.Errorf("cannot load proving key: %w", err)
	}
	vkey, err := os.ReadFile(filepath.Join(artifactsDir, base+"_vkey.json"))
	if err != nil {
		return nil, fmt.Errorf("cannot load verification key: %w", err)
	}
	log.Infow("loaded proving circuit", "depth", depth,
		"wasm", len(wasm), "zkey", len(zkey))
	return &CircomEngine{depth: depth, wasm: wasm, zkey: zkey, vkey: vkey}, nil
}

func (e *CircomEngine) Depth() int {
	return e.depth
}

// circuitInputsJSON renders the witness in the signal naming the circuit
// declares. Everything is stringified decimal, the circom convention.
func circuitInputsJSON(inputs *CircuitInputs) ([]byte, error) {
	siblings := make([]string, len(inputs.Siblings))
	for i, s := range inputs.Siblings {
		siblings[i] = s.String()
	}
	pathIndices := make([]string, len(inputs.PathIndices))
	for i, b := range inputs.PathIndices {
		pathIndices[i] = fmt.Sprintf("%d", b)
	}
	return json.Marshal(map[string]any{
		"merkleRoot":       inputs.MerkleRoot.String(),
		"actionDomain":     inputs.ActionDomain.String(),
		"userSecret":       inputs.UserSecret.String(),
		"registrationSalt": inputs.RegistrationSalt.String(),
		"districtField":    inputs.DistrictField.String(),
		"authorityLevel":   fmt.Sprintf("%d", inputs.AuthorityLevel),
		"leafIndex":        fmt.Sprintf("%d", inputs.LeafIndex),
		"siblings":         siblings,
		"pathIndices":      pathIndices,
	})
}

// Prove calculates the witness and generates a Groth16 proof. Proof
// generation does not observe ctx beyond the initial check; callers bound it
// with the gateway's serialization instead.
func (e *CircomEngine) Prove(ctx context.Context, inputs *CircuitInputs) (*ProofBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	rendered, err := circuitInputsJSON(inputs)
	if err != nil {
		return nil, err
	}
	parsed, err := witness.ParseInputs(rendered)
	if err != nil {
		return nil, fmt.Errorf("cannot parse circuit inputs: %w", err)
	}
	calc, err := witness.NewCircom2WitnessCalculator(e.wasm, true)
	if err != nil {
		return nil, fmt.Errorf("cannot instance witness calculator: %w", err)
	}
	w, err := calc.CalculateWTNSBin(parsed, true)
	if err != nil {
		return nil, fmt.Errorf("cannot calculate witness: %w", err)
	}
	proofJSON, pubJSON, err := prover.Groth16ProverRaw(e.zkey, w)
	if err != nil {
		return nil, fmt.Errorf("cannot generate proof: %w", err)
	}

	var signals []string
	if err := json.Unmarshal([]byte(pubJSON), &signals); err != nil {
		return nil, fmt.Errorf("cannot decode public signals: %w", err)
	}
	pub, err := parsePubSignals(signals)
	if err != nil {
		return nil, err
	}
	log.Debugw("proof generated", "depth", e.depth, "took", time.Since(start).String())
	return &ProofBundle{
		Proof:        json.RawMessage(proofJSON),
		PublicInputs: pub,
	}, nil
}

// Verify checks the proof against the claimed public inputs with the
// circuit's verification key. A verifier rejection is reported as a plain
// false, not an error.
func (e *CircomEngine) Verify(ctx context.Context, proof json.RawMessage, pub *types.PublicInputs) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var proofData snarktypes.ProofData
	if err := json.Unmarshal(proof, &proofData); err != nil {
		return false, fmt.Errorf("malformed proof: %w", err)
	}
	zkProof := snarktypes.ZKProof{
		Proof:      &proofData,
		PubSignals: pubSignals(pub),
	}
	if err := verifier.VerifyGroth16(zkProof, e.vkey); err != nil {
		log.Debugw("proof rejected", "depth", e.depth, "err", err)
		return false, nil
	}
	return true, nil
}
