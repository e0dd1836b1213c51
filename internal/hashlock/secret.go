// Package hashlock builds the secrets and hash-lock commitments that gate
// release of Fusion+ escrow fills.
package hashlock

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/klingon-exchange/klingon-fusion/pkg/helpers"
)

// SecretSize is the length of every secret in bytes.
const SecretSize = 32

// MaxSecrets bounds the secrets count a quote may ask for. The multiple-fill
// lock encodes count-1 in 16 bits.
const MaxSecrets = 1 << 16

var (
	ErrInvalidCount  = errors.New("invalid secrets count")
	ErrInvalidSecret = errors.New("secret must be 32 bytes hex encoded")
)

// Secret is a random value whose disclosure releases one escrow fill.
type Secret [SecretSize]byte

// Hex returns the 0x-prefixed hex form sent to the relayer.
func (s Secret) Hex() string {
	return helpers.BytesToHex(s[:])
}

// Hash returns keccak256 of the secret.
func (s Secret) Hash() common.Hash {
	return HashSecret(s)
}

// String never prints the secret itself.
func (s Secret) String() string {
	return "secret(" + s.Hash().Hex() + ")"
}

// ParseSecret decodes a 0x-prefixed 32-byte hex secret.
func ParseSecret(s string) (Secret, error) {
	b, err := helpers.HexToFixedBytes(s, SecretSize)
	if err != nil {
		return Secret{}, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	var out Secret
	copy(out[:], b)
	return out, nil
}

// HashSecret computes keccak256(secret).
func HashSecret(secret Secret) common.Hash {
	return crypto.Keccak256Hash(secret[:])
}

// VerifySecret checks that secret hashes to hash.
func VerifySecret(secret Secret, hash common.Hash) bool {
	return HashSecret(secret) == hash
}

// SecretSet is the ordered list of secrets for one swap attempt. Index i
// corresponds to fill index i reported by the relayer.
type SecretSet []Secret

// GenerateSecrets draws count secrets from crypto/rand.
func GenerateSecrets(count int) (SecretSet, error) {
	return generateSecrets(rand.Reader, count)
}

func generateSecrets(r io.Reader, count int) (SecretSet, error) {
	if count < 1 || count > MaxSecrets {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}
	set := make(SecretSet, count)
	for i := range set {
		if _, err := io.ReadFull(r, set[i][:]); err != nil {
			return nil, fmt.Errorf("failed to generate random secret: %w", err)
		}
	}
	return set, nil
}

// Hashes returns the secret hashes in secret order.
func (s SecretSet) Hashes() []common.Hash {
	out := make([]common.Hash, len(s))
	for i, secret := range s {
		out[i] = HashSecret(secret)
	}
	return out
}

// HexHashes returns the secret hashes as 0x-prefixed strings.
func (s SecretSet) HexHashes() []string {
	hashes := s.Hashes()
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.Hex()
	}
	return out
}

// At returns the secret for a fill index.
func (s SecretSet) At(idx int) (Secret, error) {
	if idx < 0 || idx >= len(s) {
		return Secret{}, fmt.Errorf("fill index %d out of range [0,%d)", idx, len(s))
	}
	return s[idx], nil
}
