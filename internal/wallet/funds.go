package wallet

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/klingon-exchange/klingon-fusion/internal/config"
)

// AllowanceBufferPercent is the allowance required relative to the swap
// amount, leaving headroom for fees taken by the router.
const AllowanceBufferPercent = 120

// RequiredAllowance returns amount * AllowanceBufferPercent / 100.
func RequiredAllowance(amount *big.Int) *big.Int {
	r := new(big.Int).Mul(amount, big.NewInt(AllowanceBufferPercent))
	return r.Div(r, big.NewInt(100))
}

// FundsCheck describes a pre-swap balance and allowance check.
type FundsCheck struct {
	Token   common.Address
	Spender common.Address
	Amount  *big.Int
	// Approve sends approve(spender, max) when the allowance falls short.
	Approve         bool
	ApprovalTimeout time.Duration
}

// FundsReport is the outcome of CheckFunds.
type FundsReport struct {
	Native     bool
	Balance    *big.Int
	Allowance  *big.Int
	Required   *big.Int
	ApprovalTx *common.Hash
}

type approvalKey struct {
	token   common.Address
	spender common.Address
}

// approvalLock returns the mutex serializing approvals of token to spender.
func (w *EVMWallet) approvalLock(token, spender common.Address) *sync.Mutex {
	w.approvalsMu.Lock()
	defer w.approvalsMu.Unlock()

	key := approvalKey{token: token, spender: spender}
	mu, ok := w.approvals[key]
	if !ok {
		mu = &sync.Mutex{}
		w.approvals[key] = mu
	}
	return mu
}

// CheckFunds verifies the wallet holds amount of token and, for ERC20s, that
// spender's allowance covers the buffered amount. Concurrent callers needing
// an approval for the same token wait for a single approval to be mined.
func (w *EVMWallet) CheckFunds(ctx context.Context, c FundsCheck) (*FundsReport, error) {
	report := &FundsReport{Native: config.IsNativeToken(c.Token)}

	balance, err := w.Balance(ctx, c.Token)
	if err != nil {
		return nil, err
	}
	report.Balance = balance
	if balance.Cmp(c.Amount) < 0 {
		return report, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance, c.Amount)
	}

	if report.Native {
		return report, nil
	}

	report.Required = RequiredAllowance(c.Amount)
	allowance, err := w.Allowance(ctx, c.Token, c.Spender)
	if err != nil {
		return nil, err
	}
	report.Allowance = allowance
	if allowance.Cmp(report.Required) >= 0 {
		return report, nil
	}
	if !c.Approve {
		return report, fmt.Errorf("%w: %s allows %s, need %s",
			ErrInsufficientAllowance, c.Spender.Hex(), allowance, report.Required)
	}

	mu := w.approvalLock(c.Token, c.Spender)
	mu.Lock()
	defer mu.Unlock()

	// another swap may have approved while we waited
	allowance, err = w.Allowance(ctx, c.Token, c.Spender)
	if err != nil {
		return nil, err
	}
	report.Allowance = allowance
	if allowance.Cmp(report.Required) >= 0 {
		return report, nil
	}

	txHash, err := w.Approve(ctx, c.Token, c.Spender, math.MaxBig256)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrApprovalFailed, err)
	}
	report.ApprovalTx = &txHash

	waitCtx := ctx
	if c.ApprovalTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.ApprovalTimeout)
		defer cancel()
	}
	if _, err := w.WaitMined(waitCtx, txHash); err != nil {
		return report, fmt.Errorf("%w: waiting for %s: %v", ErrApprovalFailed, txHash.Hex(), err)
	}

	report.Allowance = new(big.Int).Set(math.MaxBig256)
	return report, nil
}
