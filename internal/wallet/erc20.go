package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/klingon-exchange/klingon-fusion/internal/config"
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// DefaultApproveGasLimit is used when gas estimation fails.
const DefaultApproveGasLimit = uint64(100000)

// Balance returns the wallet balance of token, native or ERC20.
func (w *EVMWallet) Balance(ctx context.Context, token common.Address) (*big.Int, error) {
	if config.IsNativeToken(token) {
		bal, err := w.backend.BalanceAt(ctx, w.address, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get native balance: %w", err)
		}
		return bal, nil
	}
	return w.callUint256(ctx, token, "balanceOf", w.address)
}

// Allowance returns how much spender may pull from the wallet.
func (w *EVMWallet) Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	if config.IsNativeToken(token) {
		return new(big.Int).Set(math.MaxBig256), nil
	}
	return w.callUint256(ctx, token, "allowance", w.address, spender)
}

func (w *EVMWallet) callUint256(ctx context.Context, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	out, err := w.backend.CallContract(ctx, ethereum.CallMsg{From: w.address, To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	values, err := erc20ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected %s result", method)
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, values[0])
	}
	return v, nil
}

// Approve sends approve(spender, amount) and returns the transaction hash.
// Transactions from this wallet are serialized through the nonce lock.
func (w *EVMWallet) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack approve: %w", err)
	}

	w.nonces.lock()
	defer w.nonces.unlock()

	nonce, err := w.nonces.take(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		w.nonces.reset()
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{From: w.address, To: &token, Data: data})
	if err != nil {
		w.log.Debug("Gas estimation failed, using default", "error", err)
		gasLimit = DefaultApproveGasLimit
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &token,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		w.nonces.reset()
		return common.Hash{}, fmt.Errorf("failed to sign approve: %w", err)
	}

	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		w.nonces.reset()
		return common.Hash{}, fmt.Errorf("failed to send approve: %w", err)
	}

	w.log.Info("Approval sent", "token", token.Hex(), "spender", spender.Hex(), "tx", signed.Hash().Hex(), "nonce", nonce)
	return signed.Hash(), nil
}

// WaitMined polls for a receipt until the transaction is mined or ctx ends.
func (w *EVMWallet) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(w.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := w.backend.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: %s reverted", ErrApprovalFailed, txHash.Hex())
			}
			return receipt, nil
		case !errors.Is(err, ethereum.NotFound):
			w.log.Debug("Receipt query failed", "tx", txHash.Hex(), "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
