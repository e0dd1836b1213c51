package config

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeTokenAddress is the pseudo-address Fusion+ uses for a chain's gas token.
const NativeTokenAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// AggregationRouterV6 is the limit order protocol / router contract that
// pulls maker funds on every Fusion+ source chain except zkSync.
var AggregationRouterV6 = common.HexToAddress("0x111111125421ca6dc452d289314280a0f8842a65")

// Network describes a chain Fusion+ can route through.
type Network struct {
	ChainID uint64
	Name    string
	Symbol  string
	// Spender is the contract that needs ERC20 allowance from the maker.
	Spender common.Address
}

// networkRegistry maps chainID -> network
var networkRegistry = map[uint64]*Network{
	1:     {ChainID: 1, Name: "Ethereum", Symbol: "ETH", Spender: AggregationRouterV6},
	10:    {ChainID: 10, Name: "Optimism", Symbol: "ETH", Spender: AggregationRouterV6},
	56:    {ChainID: 56, Name: "BNB Chain", Symbol: "BNB", Spender: AggregationRouterV6},
	100:   {ChainID: 100, Name: "Gnosis", Symbol: "xDAI", Spender: AggregationRouterV6},
	137:   {ChainID: 137, Name: "Polygon", Symbol: "POL", Spender: AggregationRouterV6},
	146:   {ChainID: 146, Name: "Sonic", Symbol: "S", Spender: AggregationRouterV6},
	130:   {ChainID: 130, Name: "Unichain", Symbol: "ETH", Spender: AggregationRouterV6},
	324:   {ChainID: 324, Name: "zkSync Era", Symbol: "ETH", Spender: common.HexToAddress("0x6fd4383cb451173d5f9304f041c7bcbf27d561ff")},
	8453:  {ChainID: 8453, Name: "Base", Symbol: "ETH", Spender: AggregationRouterV6},
	42161: {ChainID: 42161, Name: "Arbitrum", Symbol: "ETH", Spender: AggregationRouterV6},
	43114: {ChainID: 43114, Name: "Avalanche", Symbol: "AVAX", Spender: AggregationRouterV6},
	59144: {ChainID: 59144, Name: "Linea", Symbol: "ETH", Spender: AggregationRouterV6},
}

// GetNetwork returns the network for a chain ID.
func GetNetwork(chainID uint64) (*Network, bool) {
	n, ok := networkRegistry[chainID]
	return n, ok
}

// IsChainSupported returns true if Fusion+ routes through the chain.
func IsChainSupported(chainID uint64) bool {
	_, ok := networkRegistry[chainID]
	return ok
}

// SupportedChainIDs returns every registered chain ID in ascending order.
func SupportedChainIDs() []uint64 {
	ids := make([]uint64, 0, len(networkRegistry))
	for id := range networkRegistry {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ChainName returns a display name, falling back to the numeric ID.
func ChainName(chainID uint64) string {
	if n, ok := networkRegistry[chainID]; ok {
		return n.Name
	}
	return "chain-" + strconv.FormatUint(chainID, 10)
}

// Token is a known ERC20 used for display and defaults.
type Token struct {
	ChainID  uint64
	Address  common.Address
	Symbol   string
	Decimals uint8
}

type tokenKey struct {
	chainID uint64
	address common.Address
}

var tokenRegistry = map[tokenKey]Token{}

func init() {
	for _, t := range []Token{
		{1, common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), "WETH", 18},
		{1, common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), "USDC", 6},
		{10, common.HexToAddress("0x4200000000000000000000000000000000000006"), "WETH", 18},
		{10, common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"), "USDC", 6},
		{137, common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"), "WETH", 18},
		{137, common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"), "USDC", 6},
		{8453, common.HexToAddress("0x4200000000000000000000000000000000000006"), "WETH", 18},
		{8453, common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), "USDC", 6},
		{42161, common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"), "WETH", 18},
		{42161, common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"), "USDC", 6},
	} {
		RegisterToken(t)
	}
}

// RegisterToken adds or replaces a token in the registry.
func RegisterToken(t Token) {
	tokenRegistry[tokenKey{t.ChainID, t.Address}] = t
}

// LookupToken finds a token by chain and address. The native pseudo-address
// resolves to the chain's gas token with 18 decimals.
func LookupToken(chainID uint64, address common.Address) (Token, bool) {
	if IsNativeToken(address) {
		symbol := "ETH"
		if n, ok := networkRegistry[chainID]; ok {
			symbol = n.Symbol
		}
		return Token{ChainID: chainID, Address: address, Symbol: symbol, Decimals: 18}, true
	}
	t, ok := tokenRegistry[tokenKey{chainID, address}]
	return t, ok
}

// IsNativeToken reports whether address is the native pseudo-address.
func IsNativeToken(address common.Address) bool {
	return strings.EqualFold(address.Hex(), NativeTokenAddress)
}
