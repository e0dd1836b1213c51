package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/klingon-exchange/klingon-fusion/internal/hashlock"
)

// Swap journal errors
var (
	ErrSwapNotFound = errors.New("swap not found")
	ErrSwapExists   = errors.New("swap already exists")
)

// SwapState is the local lifecycle of a journaled swap. It is independent of
// the relayer's order status, which is only recorded for auditing.
type SwapState string

const (
	SwapStateCreated   SwapState = "created"   // order built, not yet submitted
	SwapStateSubmitted SwapState = "submitted" // accepted by the relayer, secrets may be pending
	SwapStateCompleted SwapState = "completed" // terminal order status observed
	SwapStateFailed    SwapState = "failed"
	SwapStateAbandoned SwapState = "abandoned" // never submitted, found on restart
)

func isTerminalState(state SwapState) bool {
	switch state {
	case SwapStateCompleted, SwapStateFailed, SwapStateAbandoned:
		return true
	}
	return false
}

// SwapRecord is a journaled swap attempt.
type SwapRecord struct {
	ID        string `json:"id"`
	OrderHash string `json:"order_hash"`
	QuoteID   string `json:"quote_id"`
	Wallet    string `json:"wallet"`

	SrcChainID   uint64 `json:"src_chain_id"`
	DstChainID   uint64 `json:"dst_chain_id"`
	SrcToken     string `json:"src_token"`
	DstToken     string `json:"dst_token"`
	Amount       string `json:"amount"`
	Preset       string `json:"preset"`
	SecretsCount int    `json:"secrets_count"`

	State         SwapState `json:"state"`
	LastStatus    string    `json:"last_status,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// StatusEntry is one observed order status.
type StatusEntry struct {
	Status     string    `json:"status"`
	ObservedAt time.Time `json:"observed_at"`
}

const swapColumns = `
	id, order_hash, quote_id, wallet,
	src_chain_id, dst_chain_id, src_token, dst_token, amount, preset, secrets_count,
	state, last_status, failure_reason,
	created_at, updated_at, completed_at`

// CreateSwap journals a swap together with its sealed secrets in one
// transaction. The secret count must match SecretsCount.
func (s *Storage) CreateSwap(swap *SwapRecord, secrets hashlock.SecretSet) error {
	if len(secrets) != swap.SecretsCount {
		return fmt.Errorf("secret count %d does not match record %d", len(secrets), swap.SecretsCount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if swap.CreatedAt.IsZero() {
		swap.CreatedAt = now
	}
	swap.UpdatedAt = now
	if swap.State == "" {
		swap.State = SwapStateCreated
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO swaps (`+swapColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		swap.ID, nullString(swap.OrderHash), swap.QuoteID, swap.Wallet,
		swap.SrcChainID, swap.DstChainID, swap.SrcToken, swap.DstToken,
		swap.Amount, swap.Preset, swap.SecretsCount,
		string(swap.State), nullString(swap.LastStatus), nullString(swap.FailureReason),
		swap.CreatedAt.Unix(), swap.UpdatedAt.Unix(), timeToUnixOrNull(swap.CompletedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSwapExists
		}
		return fmt.Errorf("failed to create swap: %w", err)
	}

	for idx, secret := range secrets {
		sealed, err := s.sealer.seal(swap.ID, idx, secret[:])
		if err != nil {
			return fmt.Errorf("failed to seal secret %d: %w", idx, err)
		}
		_, err = tx.Exec(`
			INSERT INTO secrets (swap_id, idx, secret_hash, sealed)
			VALUES (?, ?, ?, ?)
		`, swap.ID, idx, secret.Hash().Hex(), sealed)
		if err != nil {
			return fmt.Errorf("failed to store secret %d: %w", idx, err)
		}
	}

	return tx.Commit()
}

// GetSwap retrieves a swap by ID.
func (s *Storage) GetSwap(id string) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+swapColumns+` FROM swaps WHERE id = ?`, id)
	return scanSwapRecord(row)
}

// GetSwapByOrderHash retrieves a swap by its relayer order hash.
func (s *Storage) GetSwapByOrderHash(orderHash string) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+swapColumns+` FROM swaps WHERE order_hash = ?`, orderHash)
	return scanSwapRecord(row)
}

// GetSwapsByState returns swaps in the given state, oldest first.
func (s *Storage) GetSwapsByState(state SwapState) ([]*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+swapColumns+` FROM swaps
		WHERE state = ?
		ORDER BY created_at ASC
	`, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSwapRecords(rows)
}

// GetResumableSwaps returns swaps whose order was submitted but whose
// polling never reached a terminal status.
func (s *Storage) GetResumableSwaps() ([]*SwapRecord, error) {
	return s.GetSwapsByState(SwapStateSubmitted)
}

// ListSwaps returns the most recent swaps, newest first. limit <= 0 means 50.
func (s *Storage) ListSwaps(limit int) ([]*SwapRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+swapColumns+` FROM swaps
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSwapRecords(rows)
}

// UpdateSwapState updates the local state of a swap. reason is stored for
// failed and abandoned swaps.
func (s *Storage) UpdateSwapState(id string, state SwapState, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	var completedAt interface{}
	if isTerminalState(state) {
		completedAt = now
	}

	result, err := s.db.Exec(`
		UPDATE swaps
		SET state = ?, failure_reason = COALESCE(?, failure_reason), updated_at = ?,
			completed_at = COALESCE(?, completed_at)
		WHERE id = ?
	`, string(state), nullString(reason), now, completedAt, id)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

// RecordStatus stores an observed relayer status. A history entry is added
// only when the status differs from the last one recorded. It reports
// whether the status changed.
func (s *Storage) RecordStatus(id, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var last sql.NullString
	err = tx.QueryRow(`SELECT last_status FROM swaps WHERE id = ?`, id).Scan(&last)
	if err == sql.ErrNoRows {
		return false, ErrSwapNotFound
	}
	if err != nil {
		return false, err
	}
	if last.Valid && last.String == status {
		return false, nil
	}

	now := time.Now().Unix()
	if _, err := tx.Exec(`UPDATE swaps SET last_status = ?, updated_at = ? WHERE id = ?`, status, now, id); err != nil {
		return false, err
	}
	if _, err := tx.Exec(`
		INSERT INTO status_history (swap_id, status, observed_at) VALUES (?, ?, ?)
	`, id, status, now); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// StatusHistory returns the observed statuses of a swap, oldest first.
func (s *Storage) StatusHistory(id string) ([]StatusEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT status, observed_at FROM status_history
		WHERE swap_id = ?
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []StatusEntry
	for rows.Next() {
		var e StatusEntry
		var at int64
		if err := rows.Scan(&e.Status, &at); err != nil {
			return nil, err
		}
		e.ObservedAt = time.Unix(at, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteSwap removes a swap with its secrets and history.
func (s *Storage) DeleteSwap(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`DELETE FROM swaps WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSwapRecord(row rowScanner) (*SwapRecord, error) {
	var swap SwapRecord
	var orderHash, lastStatus, failureReason sql.NullString
	var state string
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64

	err := row.Scan(
		&swap.ID, &orderHash, &swap.QuoteID, &swap.Wallet,
		&swap.SrcChainID, &swap.DstChainID, &swap.SrcToken, &swap.DstToken,
		&swap.Amount, &swap.Preset, &swap.SecretsCount,
		&state, &lastStatus, &failureReason,
		&createdAt, &updatedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSwapNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan swap: %w", err)
	}

	swap.OrderHash = orderHash.String
	swap.LastStatus = lastStatus.String
	swap.FailureReason = failureReason.String
	swap.State = SwapState(state)
	swap.CreatedAt = time.Unix(createdAt, 0)
	swap.UpdatedAt = time.Unix(updatedAt, 0)
	swap.CompletedAt = unixOrZero(completedAt)
	return &swap, nil
}

func scanSwapRecords(rows *sql.Rows) ([]*SwapRecord, error) {
	var swaps []*SwapRecord
	for rows.Next() {
		swap, err := scanSwapRecord(rows)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, swap)
	}
	return swaps, rows.Err()
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSwapNotFound
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
