package storage

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Artifact encoding/decoding. Encoding is deterministic so that identical
// artifacts always produce identical bytes and hash keys.
func encodeArtifact(a any) ([]byte, error) {
	encOpts := cbor.CoreDetEncOptions()
	em, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return em.Marshal(a)
}

func decodeArtifact(data []byte, out any) error {
	return cbor.Unmarshal(data, out)
}

// nullifierKey derives the storage key of a (nullifier, action domain) pair.
// The nullifier length is prefixed so that no two distinct pairs can collide
// by moving bytes across the boundary.
func nullifierKey(nullifier, actionDomain []byte) []byte {
	h := sha256.New()
	h.Write([]byte{byte(len(nullifier))})
	h.Write(nullifier)
	h.Write(actionDomain)
	return h.Sum(nil)
}
