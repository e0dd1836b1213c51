package swap

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/klingon-exchange/klingon-fusion/internal/config"
)

// Request is the route and amount of one swap. It is immutable once a quote
// has been requested for it.
type Request struct {
	SrcChainID uint64
	DstChainID uint64
	SrcToken   common.Address
	DstToken   common.Address
	// Amount in the smallest unit of SrcToken.
	Amount *uint256.Int
	// WalletAddress is the maker. Zero means the signer.
	WalletAddress common.Address
}

// RequestFromRoute builds a request from the configured default route.
func RequestFromRoute(r config.RouteConfig) (Request, error) {
	if err := r.Validate(); err != nil {
		return Request{}, err
	}
	amount, err := config.ParseAmount(r.Amount)
	if err != nil {
		return Request{}, err
	}
	return Request{
		SrcChainID: r.SrcChainID,
		DstChainID: r.DstChainID,
		SrcToken:   common.HexToAddress(r.SrcToken),
		DstToken:   common.HexToAddress(r.DstToken),
		Amount:     amount,
	}, nil
}

// Validate checks the request without any network access.
func (r Request) Validate() error {
	if r.SrcChainID == 0 || r.DstChainID == 0 {
		return fmt.Errorf("%w: srcChainId and dstChainId are required", ErrMissingParameter)
	}
	if r.SrcToken == (common.Address{}) || r.DstToken == (common.Address{}) {
		return fmt.Errorf("%w: srcTokenAddress and dstTokenAddress are required", ErrMissingParameter)
	}
	if r.Amount == nil {
		return fmt.Errorf("%w: amount is required", ErrMissingParameter)
	}
	if r.Amount.IsZero() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if r.SrcChainID == r.DstChainID {
		return fmt.Errorf("%w: source and destination chain are both %d", ErrInvalidRequest, r.SrcChainID)
	}
	if !config.IsChainSupported(r.SrcChainID) {
		return fmt.Errorf("%w: source chain %d is not supported", ErrInvalidRequest, r.SrcChainID)
	}
	if !config.IsChainSupported(r.DstChainID) {
		return fmt.Errorf("%w: destination chain %d is not supported", ErrInvalidRequest, r.DstChainID)
	}
	return nil
}

// Invert returns the reverse route with the same amount and wallet.
func (r Request) Invert() Request {
	return Request{
		SrcChainID:    r.DstChainID,
		DstChainID:    r.SrcChainID,
		SrcToken:      r.DstToken,
		DstToken:      r.SrcToken,
		Amount:        r.Amount,
		WalletAddress: r.WalletAddress,
	}
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s -> %s %s, amount %s",
		config.ChainName(r.SrcChainID), r.SrcToken.Hex(),
		config.ChainName(r.DstChainID), r.DstToken.Hex(), r.Amount.Dec())
}
