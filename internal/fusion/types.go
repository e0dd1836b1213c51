// Package fusion is a client for the 1inch Fusion+ cross-chain relayer API.
package fusion

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// OrderStatus is the relayer-side lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusExecuted  OrderStatus = "executed"
	StatusExpired   OrderStatus = "expired"
	StatusCancelled OrderStatus = "cancelled"
	StatusRefunding OrderStatus = "refunding"
	StatusRefunded  OrderStatus = "refunded"
)

// IsTerminal reports whether no further transitions can follow.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusExecuted, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

func (s OrderStatus) String() string { return string(s) }

// PresetFast is the default speed tier.
const PresetFast = "fast"

// QuoteParams selects the route and amount to price.
type QuoteParams struct {
	SrcChainID      uint64
	DstChainID      uint64
	SrcTokenAddress string
	DstTokenAddress string
	// Amount in the smallest unit of the source token, base 10.
	Amount         string
	WalletAddress  string
	EnableEstimate bool
}

// Preset is one speed tier of a quote.
type Preset struct {
	AuctionDuration    int64  `json:"auctionDuration"`
	StartAuctionIn     int64  `json:"startAuctionIn"`
	InitialRateBump    int64  `json:"initialRateBump"`
	AuctionStartAmount string `json:"auctionStartAmount"`
	StartAmount        string `json:"startAmount"`
	AuctionEndAmount   string `json:"auctionEndAmount"`
	CostInDstToken     string `json:"costInDstToken"`
	AllowPartialFills  bool   `json:"allowPartialFills"`
	AllowMultipleFills bool   `json:"allowMultipleFills"`
	SecretsCount       int    `json:"secretsCount"`
}

// Quote is a priced route. It expires quickly and is never persisted.
type Quote struct {
	QuoteID           string             `json:"quoteId"`
	SrcChainID        uint64             `json:"srcChainId,omitempty"`
	DstChainID        uint64             `json:"dstChainId,omitempty"`
	SrcTokenAmount    string             `json:"srcTokenAmount"`
	DstTokenAmount    string             `json:"dstTokenAmount"`
	Presets           map[string]*Preset `json:"presets"`
	RecommendedPreset string             `json:"recommendedPreset"`
	SrcEscrowFactory  string             `json:"srcEscrowFactory,omitempty"`
	DstEscrowFactory  string             `json:"dstEscrowFactory,omitempty"`
	SrcSafetyDeposit  string             `json:"srcSafetyDeposit,omitempty"`
	DstSafetyDeposit  string             `json:"dstSafetyDeposit,omitempty"`
	TimeLocks         json.RawMessage    `json:"timeLocks,omitempty"`
	Prices            json.RawMessage    `json:"prices,omitempty"`
	Volume            json.RawMessage    `json:"volume,omitempty"`
}

// Preset returns the named tier, or an error when the quote lacks it.
func (q *Quote) Preset(name string) (*Preset, error) {
	p, ok := q.Presets[name]
	if !ok || p == nil {
		return nil, fmt.Errorf("quote %s has no %q preset", q.QuoteID, name)
	}
	return p, nil
}

// BuildOrderRequest asks the quoter to turn a quote into a signable order.
type BuildOrderRequest struct {
	Quote         *Quote   `json:"quote"`
	Preset        string   `json:"preset"`
	WalletAddress string   `json:"walletAddress"`
	Source        string   `json:"source"`
	HashLock      string   `json:"hashLock"`
	SecretHashes  []string `json:"secretsHashList"`
}

// PreparedOrder is a built, unsigned order.
type PreparedOrder struct {
	OrderHash string             `json:"orderHash"`
	QuoteID   string             `json:"quoteId"`
	Order     json.RawMessage    `json:"order"`
	Extension string             `json:"extension"`
	TypedData apitypes.TypedData `json:"typedData"`
}

// SubmitOrderRequest announces a signed order to resolvers.
type SubmitOrderRequest struct {
	SrcChainID   uint64          `json:"srcChainId"`
	Order        json.RawMessage `json:"order"`
	Signature    string          `json:"signature"`
	Extension    string          `json:"extension"`
	QuoteID      string          `json:"quoteId"`
	SecretHashes []string        `json:"secretHashes,omitempty"`
}

// ReadyFill is an escrow pair waiting for the secret at Idx.
type ReadyFill struct {
	Idx                   int    `json:"idx"`
	SrcEscrowDeployTxHash string `json:"srcEscrowDeployTxHash"`
	DstEscrowDeployTxHash string `json:"dstEscrowDeployTxHash"`
}

// ReadyToAcceptSecretFills lists fills whose escrows are deployed and finalized.
type ReadyToAcceptSecretFills struct {
	Fills []ReadyFill `json:"fills"`
}

// Indices returns the fill indices in relayer order.
func (r *ReadyToAcceptSecretFills) Indices() []int {
	if r == nil {
		return nil
	}
	out := make([]int, len(r.Fills))
	for i, f := range r.Fills {
		out[i] = f.Idx
	}
	return out
}

// SubmitSecretRequest reveals one secret for an order.
type SubmitSecretRequest struct {
	Secret    string `json:"secret"`
	OrderHash string `json:"orderHash"`
}

// OrderFill is one fill as reported by the status endpoint.
type OrderFill struct {
	Status                string          `json:"status"`
	TxHash                string          `json:"txHash"`
	FilledMakerAmount     string          `json:"filledMakerAmount"`
	FilledAuctionTakerAmt string          `json:"filledAuctionTakerAmount"`
	Escrows               json.RawMessage `json:"escrowEvents,omitempty"`
}

// OrderStatusResponse is the relayer view of an order. The raw upstream
// document is kept so callers can pass it on untouched.
type OrderStatusResponse struct {
	OrderHash        string          `json:"orderHash"`
	Status           OrderStatus     `json:"status"`
	Validation       string          `json:"validation"`
	SrcChainID       uint64          `json:"srcChainId"`
	DstChainID       uint64          `json:"dstChainId"`
	Fills            []OrderFill     `json:"fills"`
	CreatedAt        int64           `json:"createdAt"`
	AuctionStartDate int64           `json:"auctionStartDate"`
	AuctionDuration  int64           `json:"auctionDuration"`
	InitialRateBump  int64           `json:"initialRateBump"`
	Cancelable       bool            `json:"cancelable"`
	CancelTx         json.RawMessage `json:"cancelTx,omitempty"`
	Order            json.RawMessage `json:"order,omitempty"`

	raw json.RawMessage
}

// UnmarshalJSON decodes the known fields and keeps the original bytes.
func (r *OrderStatusResponse) UnmarshalJSON(data []byte) error {
	type plain OrderStatusResponse
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = OrderStatusResponse(p)
	r.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the upstream document when there is one.
func (r OrderStatusResponse) MarshalJSON() ([]byte, error) {
	if len(r.raw) > 0 {
		return r.raw, nil
	}
	type plain OrderStatusResponse
	return json.Marshal(plain(r))
}
