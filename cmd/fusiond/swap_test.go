package main

import (
	"errors"
	"testing"

	"github.com/klingon-exchange/klingon-fusion/internal/config"
	"github.com/klingon-exchange/klingon-fusion/internal/swap"
)

func resetSwapFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		swapRoute = config.RouteConfig{}
		swapWallet = ""
		swapInvert = false
	})
}

func TestSwapRequestDefaults(t *testing.T) {
	resetSwapFlags(t)
	cfg := config.DefaultConfig()

	req, err := swapRequest(cfg)
	if err != nil {
		t.Fatalf("swapRequest() error = %v", err)
	}
	if req.SrcChainID != 42161 || req.DstChainID != 10 {
		t.Errorf("route = %d -> %d, want 42161 -> 10", req.SrcChainID, req.DstChainID)
	}
	if req.Amount.Dec() != cfg.Route.Amount {
		t.Errorf("amount = %s, want %s", req.Amount.Dec(), cfg.Route.Amount)
	}
}

func TestSwapRequestOverridesAndInvert(t *testing.T) {
	resetSwapFlags(t)
	cfg := config.DefaultConfig()

	swapRoute.DstChainID = 8453
	swapRoute.DstToken = "0x4200000000000000000000000000000000000006"
	swapRoute.Amount = "42"
	swapInvert = true

	req, err := swapRequest(cfg)
	if err != nil {
		t.Fatalf("swapRequest() error = %v", err)
	}
	if req.SrcChainID != 8453 || req.DstChainID != 42161 {
		t.Errorf("route = %d -> %d, want 8453 -> 42161", req.SrcChainID, req.DstChainID)
	}
	if req.Amount.Dec() != "42" {
		t.Errorf("amount = %s, want 42", req.Amount.Dec())
	}
}

func TestSwapRequestRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func()
	}{
		{"zero amount", func() { swapRoute.Amount = "0" }},
		{"unsupported chain", func() { swapRoute.DstChainID = 999 }},
		{"bad wallet", func() { swapWallet = "alice" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetSwapFlags(t)
			tt.mutate()
			_, err := swapRequest(config.DefaultConfig())
			if !errors.Is(err, config.ErrInvalidConfig) {
				t.Errorf("swapRequest() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestEventLine(t *testing.T) {
	tests := []struct {
		event swap.SwapEvent
		want  string
	}{
		{swap.SwapEvent{EventType: swap.EventSecretShared, Data: map[string]interface{}{"idx": 2}}, "Secret 2 shared"},
		{swap.SwapEvent{EventType: swap.EventStatusChanged, Data: map[string]interface{}{"status": "executed"}}, "Order executed"},
		{swap.SwapEvent{EventType: swap.EventOrderSubmitted}, "Order submitted, waiting for resolvers..."},
		{swap.SwapEvent{EventType: "custom"}, "custom"},
	}
	for _, tt := range tests {
		if got := eventLine(tt.event); got != tt.want {
			t.Errorf("eventLine(%s) = %q, want %q", tt.event.EventType, got, tt.want)
		}
	}
}
