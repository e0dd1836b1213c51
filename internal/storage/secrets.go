package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/klingon-fusion/internal/hashlock"
)

var ErrSecretNotFound = errors.New("secret not found")

// LoadSecrets unseals the secrets of a swap in index order. Each unsealed
// value is checked against its stored hash.
func (s *Storage) LoadSecrets(swapID string) (hashlock.SecretSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT idx, secret_hash, sealed FROM secrets
		WHERE swap_id = ?
		ORDER BY idx ASC
	`, swapID)
	if err != nil {
		return nil, fmt.Errorf("failed to query secrets: %w", err)
	}
	defer rows.Close()

	var set hashlock.SecretSet
	for rows.Next() {
		var idx int
		var hashHex string
		var sealed []byte
		if err := rows.Scan(&idx, &hashHex, &sealed); err != nil {
			return nil, err
		}
		if idx != len(set) {
			return nil, fmt.Errorf("secret index gap at %d", len(set))
		}

		plain, err := s.sealer.open(swapID, idx, sealed)
		if err != nil {
			return nil, fmt.Errorf("secret %d: %w", idx, err)
		}
		var secret hashlock.Secret
		copy(secret[:], plain)
		clear(plain)

		if !hashlock.VerifySecret(secret, common.HexToHash(hashHex)) {
			return nil, fmt.Errorf("secret %d does not match its hash", idx)
		}
		set = append(set, secret)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(set) == 0 {
		return nil, ErrSecretNotFound
	}
	return set, nil
}

// MarkSecretShared records that the secret at idx was accepted by the relayer.
// Marking an already shared secret keeps the first timestamp.
func (s *Storage) MarkSecretShared(swapID string, idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE secrets SET shared_at = COALESCE(shared_at, ?)
		WHERE swap_id = ? AND idx = ?
	`, time.Now().Unix(), swapID, idx)
	if err != nil {
		return fmt.Errorf("failed to mark secret shared: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSecretNotFound
	}
	return nil
}

// SharedIndices returns the indices already accepted by the relayer.
func (s *Storage) SharedIndices(swapID string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT idx FROM secrets
		WHERE swap_id = ? AND shared_at IS NOT NULL
		ORDER BY idx ASC
	`, swapID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

// SecretSharedAt returns when the secret at idx was shared, or nil.
func (s *Storage) SecretSharedAt(swapID string, idx int) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var at sql.NullInt64
	err := s.db.QueryRow(`SELECT shared_at FROM secrets WHERE swap_id = ? AND idx = ?`, swapID, idx).Scan(&at)
	if err == sql.ErrNoRows {
		return nil, ErrSecretNotFound
	}
	if err != nil {
		return nil, err
	}
	if !at.Valid {
		return nil, nil
	}
	t := time.Unix(at.Int64, 0)
	return &t, nil
}
