package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealInfo = "klingon-fusion journal secret v1"

var ErrUnseal = errors.New("failed to unseal secret")

// sealer encrypts secrets at rest with XChaCha20-Poly1305 under a key derived
// from the signer. The swap id and index are bound as associated data so a
// sealed value cannot be moved to another row.
type sealer struct {
	key []byte
}

func newSealer(ikm []byte) (*sealer, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive seal key: %w", err)
	}
	return &sealer{key: key}, nil
}

func sealAD(swapID string, idx int) []byte {
	ad := make([]byte, 0, len(swapID)+8)
	ad = append(ad, swapID...)
	return binary.BigEndian.AppendUint64(ad, uint64(idx))
}

// seal returns nonce || ciphertext.
func (s *sealer) seal(swapID string, idx int, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, sealAD(swapID, idx)), nil
}

func (s *sealer) open(swapID string, idx int, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrUnseal
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, sealAD(swapID, idx))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnseal, err)
	}
	return plaintext, nil
}
