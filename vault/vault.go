// Package vault seals witness material and action messages for the
// submission archive. Sealing is one-way from the service's point of view:
// payloads are encrypted with ECIES to an operator-held public key, and the
// matching private key never touches this process.
package vault

import (
	"crypto/rand"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
	"github.com/vocdoni/district-pipeline/types"
)

// Sealer encrypts payloads to the configured recipient key.
type Sealer struct {
	recipient *ecies.PublicKey
}

// NewSealer parses an uncompressed secp256k1 public key in hexadecimal form
// (with or without the 0x prefix) and returns a Sealer bound to it.
func NewSealer(recipientHex string) (*Sealer, error) {
	raw, err := types.HexStringToHexBytes(recipientHex)
	if err != nil {
		return nil, fmt.Errorf("cannot decode recipient key: %w", err)
	}
	pub, err := ethcrypto.UnmarshalPubkey(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot parse recipient key: %w", err)
	}
	return &Sealer{recipient: ecies.ImportECDSAPublic(pub)}, nil
}

// NewSealerFromKey returns a Sealer bound to an already parsed key. Used by
// tests and by callers that generate ephemeral recipients.
func NewSealerFromKey(pub *ecies.PublicKey) *Sealer {
	return &Sealer{recipient: pub}
}

// Seal encrypts plaintext to the recipient key. Each call uses a fresh
// ephemeral key, so sealing the same payload twice yields different
// ciphertexts. The ciphertext is authenticated; truncation or bit flips are
// detected at decryption time.
func (s *Sealer) Seal(plaintext []byte) (types.HexBytes, error) {
	ct, err := ecies.Encrypt(rand.Reader, s.recipient, plaintext, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot seal payload: %w", err)
	}
	return ct, nil
}
