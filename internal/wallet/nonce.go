package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// nonceManager hands out nonces for one address. Callers hold lock() for
// the whole build-sign-send sequence so concurrent swaps never race on a nonce.
type nonceManager struct {
	mu      sync.Mutex
	backend Backend
	address common.Address
	next    uint64
	known   bool
}

func newNonceManager(backend Backend, address common.Address) *nonceManager {
	return &nonceManager{backend: backend, address: address}
}

func (n *nonceManager) lock()   { n.mu.Lock() }
func (n *nonceManager) unlock() { n.mu.Unlock() }

// take returns the next nonce. Caller must hold the lock.
func (n *nonceManager) take(ctx context.Context) (uint64, error) {
	pending, err := n.backend.PendingNonceAt(ctx, n.address)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending nonce: %w", err)
	}
	// transactions sent outside this process move the network nonce ahead
	if !n.known || pending > n.next {
		n.next = pending
		n.known = true
	}
	nonce := n.next
	n.next++
	return nonce, nil
}

// reset forgets the cached nonce after a failed send. Caller must hold the lock.
func (n *nonceManager) reset() {
	n.known = false
	n.next = 0
}
