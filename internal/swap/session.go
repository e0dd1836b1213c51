package swap

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/klingon-exchange/klingon-fusion/internal/fusion"
	"github.com/klingon-exchange/klingon-fusion/internal/hashlock"
	"github.com/klingon-exchange/klingon-fusion/internal/storage"
)

// Session is one swap attempt. It owns its secrets and the set of fill
// indices whose secret the relayer has accepted. Sessions share nothing.
type Session struct {
	ID        string
	Request   Request
	Preset    string
	OrderHash string
	QuoteID   string
	StartedAt time.Time

	secrets  hashlock.SecretSet
	hashLock hashlock.HashLock

	mu       sync.Mutex
	consumed map[int]bool
	status   fusion.OrderStatus
	details  *fusion.OrderStatusResponse
	polls    int
}

func newSession(id string, req Request, preset string, secrets hashlock.SecretSet, lock hashlock.HashLock) *Session {
	return &Session{
		ID:        id,
		Request:   req,
		Preset:    preset,
		StartedAt: time.Now(),
		secrets:   secrets,
		hashLock:  lock,
		consumed:  make(map[int]bool),
	}
}

// RestoreSession rebuilds a submitted session from its journal record.
func RestoreSession(rec *storage.SwapRecord, secrets hashlock.SecretSet, shared []int) (*Session, error) {
	if rec.OrderHash == "" {
		return nil, fmt.Errorf("%w: swap %s has no order hash", ErrMissingParameter, rec.ID)
	}
	if len(secrets) != rec.SecretsCount {
		return nil, fmt.Errorf("swap %s: journal holds %d secrets, expected %d", rec.ID, len(secrets), rec.SecretsCount)
	}
	lock, err := hashlock.New(secrets)
	if err != nil {
		return nil, err
	}
	if lock.PartsCount() != rec.SecretsCount {
		return nil, fmt.Errorf("swap %s: hash-lock encodes %d parts, expected %d", rec.ID, lock.PartsCount(), rec.SecretsCount)
	}
	amount, err := uint256.FromDecimal(rec.Amount)
	if err != nil {
		return nil, fmt.Errorf("swap %s: bad amount %q: %w", rec.ID, rec.Amount, err)
	}

	sess := newSession(rec.ID, Request{
		SrcChainID:    rec.SrcChainID,
		DstChainID:    rec.DstChainID,
		SrcToken:      common.HexToAddress(rec.SrcToken),
		DstToken:      common.HexToAddress(rec.DstToken),
		Amount:        amount,
		WalletAddress: common.HexToAddress(rec.Wallet),
	}, rec.Preset, secrets, lock)
	sess.OrderHash = rec.OrderHash
	sess.QuoteID = rec.QuoteID
	sess.StartedAt = rec.CreatedAt
	sess.status = fusion.OrderStatus(rec.LastStatus)
	for _, idx := range shared {
		sess.consumed[idx] = true
	}
	return sess, nil
}

// SecretsCount returns how many fills the order can have.
func (s *Session) SecretsCount() int {
	return len(s.secrets)
}

// HashLock returns the order's hash-lock.
func (s *Session) HashLock() hashlock.HashLock {
	return s.hashLock
}

// Status returns the last observed order status and upstream document.
func (s *Session) Status() (fusion.OrderStatus, *fusion.OrderStatusResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.details
}

// Consumed returns the fill indices already shared, ascending.
func (s *Session) Consumed() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.consumed))
	for idx := range s.consumed {
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}

// pending filters ready indices down to those in range and not yet consumed,
// dropping duplicates. Out-of-range indices are returned separately.
func (s *Session) pending(ready []int) (todo, invalid []int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int]bool, len(ready))
	for _, idx := range ready {
		if idx < 0 || idx >= len(s.secrets) {
			invalid = append(invalid, idx)
			continue
		}
		if s.consumed[idx] || seen[idx] {
			continue
		}
		seen[idx] = true
		todo = append(todo, idx)
	}
	return todo, invalid
}

// consume marks idx shared and reports whether it was new.
func (s *Session) consume(idx int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumed[idx] {
		return false
	}
	s.consumed[idx] = true
	return true
}

// observe records a status and reports whether it changed.
func (s *Session) observe(resp *fusion.OrderStatusResponse) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.status != resp.Status
	s.status = resp.Status
	s.details = resp
	return changed
}

func (s *Session) tick() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	return s.polls
}

func (s *Session) result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Result{
		SwapID:        s.ID,
		OrderHash:     s.OrderHash,
		QuoteID:       s.QuoteID,
		Status:        s.status,
		Details:       s.details,
		SecretsCount:  len(s.secrets),
		SecretsShared: len(s.consumed),
		Polls:         s.polls,
	}
}

// Result is the outcome of a swap attempt.
type Result struct {
	SwapID        string                      `json:"swapId"`
	OrderHash     string                      `json:"orderHash"`
	QuoteID       string                      `json:"quoteId,omitempty"`
	Status        fusion.OrderStatus          `json:"status"`
	Details       *fusion.OrderStatusResponse `json:"details,omitempty"`
	SecretsCount  int                         `json:"secretsCount"`
	SecretsShared int                         `json:"secretsShared"`
	Polls         int                         `json:"polls"`
	// Timeout is set when the poll budget ran out before a final status.
	Timeout bool `json:"timeout,omitempty"`
}
