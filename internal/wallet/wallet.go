// Package wallet holds the EVM signing credential used by swaps: order
// signing, balance and allowance checks, and serialized approvals.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/klingon-exchange/klingon-fusion/pkg/logging"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrApprovalFailed        = errors.New("approval transaction failed")
)

// Backend is the subset of ethclient.Client the wallet needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EVMWallet signs with one private key on one chain. It is safe for
// concurrent use; on-chain transactions are serialized.
type EVMWallet struct {
	backend Backend
	closer  func()
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int

	nonces      *nonceManager
	approvalsMu sync.Mutex
	approvals   map[approvalKey]*sync.Mutex
	receiptPoll time.Duration
	log         *logging.Logger
}

// Dial connects to an RPC endpoint and returns a wallet for its chain.
func Dial(ctx context.Context, rpcURL string, key *ecdsa.PrivateKey) (*EVMWallet, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	w, err := New(ctx, client, key)
	if err != nil {
		client.Close()
		return nil, err
	}
	w.closer = client.Close
	return w, nil
}

// New wraps an existing backend.
func New(ctx context.Context, backend Backend, key *ecdsa.PrivateKey) (*EVMWallet, error) {
	if key == nil {
		return nil, errors.New("private key is required")
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey)

	return &EVMWallet{
		backend:     backend,
		key:         key,
		address:     address,
		chainID:     chainID,
		nonces:      newNonceManager(backend, address),
		approvals:   make(map[approvalKey]*sync.Mutex),
		receiptPoll: 2 * time.Second,
		log:         logging.GetDefault().Component("wallet"),
	}, nil
}

// Address returns the signer address.
func (w *EVMWallet) Address() common.Address {
	return w.address
}

// ChainID returns the chain the RPC endpoint serves.
func (w *EVMWallet) ChainID() uint64 {
	return w.chainID.Uint64()
}

// Close releases the RPC connection when the wallet dialed it.
func (w *EVMWallet) Close() {
	if w.closer != nil {
		w.closer()
	}
}

// SignTypedData signs EIP-712 typed data and returns a 65-byte signature
// with v in {27, 28}.
func (w *EVMWallet) SignTypedData(data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	sig, err := crypto.Sign(hash, w.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign typed data: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
