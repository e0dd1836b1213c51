package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/klingon-fusion/internal/config"
	"github.com/klingon-exchange/klingon-fusion/internal/fusion"
	"github.com/klingon-exchange/klingon-fusion/internal/storage"
	"github.com/klingon-exchange/klingon-fusion/internal/swap"
	"github.com/klingon-exchange/klingon-fusion/internal/wallet"
)

const maxBodyBytes = 64 << 10

// ExecuteSwapRequest is the executeSwap body. Every field is optional;
// absent routing fields come from the configured route.
type ExecuteSwapRequest struct {
	WalletAddress   string      `json:"walletAddress,omitempty"`
	SrcChainID      uint64      `json:"srcChainId,omitempty"`
	DstChainID      uint64      `json:"dstChainId,omitempty"`
	SrcTokenAddress string      `json:"srcTokenAddress,omitempty"`
	DstTokenAddress string      `json:"dstTokenAddress,omitempty"`
	Amount          json.Number `json:"amount,omitempty"`
	Invert          bool        `json:"invert,omitempty"`
}

// ExecuteSwapResponse is returned on 200 and 202.
type ExecuteSwapResponse struct {
	Success       bool        `json:"success"`
	SwapID        string      `json:"swapId"`
	OrderHash     string      `json:"orderHash"`
	Status        string      `json:"status"`
	Details       interface{} `json:"details"`
	SecretsCount  int         `json:"secretsCount"`
	SecretsShared int         `json:"secretsShared"`
	Timeout       bool        `json:"timeout,omitempty"`
	Background    bool        `json:"background,omitempty"`
}

// StatusResponse is the checkSwapStatus success body.
type StatusResponse struct {
	Success    bool        `json:"success"`
	Status     string      `json:"status"`
	Details    interface{} `json:"details"`
	ReadyFills []int       `json:"readyFills"`
}

// ErrorResponse is the failure body for every /api endpoint.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

func (s *Server) handleExecuteSwap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var body ExecuteSwapRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	req, err := s.buildRequest(&body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	s.log.Info("Swap requested", "route", req.String(), "remote", r.RemoteAddr)

	res, sess, err := s.swapper.InitiateSwapSession(r.Context(), req, s.maxPolls)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, swapResponse(res))

	case errors.Is(err, swap.ErrPollTimeout), errors.Is(err, context.Canceled):
		background := false
		if sess != nil && s.worker != nil {
			background = s.worker.Adopt(sess)
		}
		if r.Context().Err() != nil {
			// client is gone
			return
		}
		resp := swapResponse(res)
		resp.Timeout = true
		resp.Background = background
		writeJSON(w, http.StatusAccepted, resp)

	default:
		s.log.Warn("Swap failed", "route", req.String(), "error", err)
		status, msg := classifySwapError(err)
		writeError(w, status, msg, errorDetails(err))
	}
}

// buildRequest overlays the body onto the configured route.
func (s *Server) buildRequest(body *ExecuteSwapRequest) (swap.Request, error) {
	route := s.route
	if body.SrcChainID != 0 {
		route.SrcChainID = body.SrcChainID
	}
	if body.DstChainID != 0 {
		route.DstChainID = body.DstChainID
	}
	if body.SrcTokenAddress != "" {
		route.SrcToken = body.SrcTokenAddress
	}
	if body.DstTokenAddress != "" {
		route.DstToken = body.DstTokenAddress
	}
	if body.Amount != "" {
		route.Amount = body.Amount.String()
	}

	for _, f := range []struct{ name, addr string }{
		{"srcTokenAddress", route.SrcToken},
		{"dstTokenAddress", route.DstToken},
	} {
		if f.addr == "" {
			return swap.Request{}, fmt.Errorf("%w: %s", swap.ErrMissingParameter, f.name)
		}
		if !common.IsHexAddress(f.addr) {
			return swap.Request{}, fmt.Errorf("%w: %s %q is not an address", swap.ErrInvalidRequest, f.name, f.addr)
		}
	}
	if route.Amount == "" {
		return swap.Request{}, fmt.Errorf("%w: amount", swap.ErrMissingParameter)
	}
	amount, err := config.ParseAmount(route.Amount)
	if err != nil {
		return swap.Request{}, fmt.Errorf("%w: amount %q", swap.ErrInvalidRequest, route.Amount)
	}

	req := swap.Request{
		SrcChainID: route.SrcChainID,
		DstChainID: route.DstChainID,
		SrcToken:   common.HexToAddress(route.SrcToken),
		DstToken:   common.HexToAddress(route.DstToken),
		Amount:     amount,
	}
	if body.WalletAddress != "" {
		if !common.IsHexAddress(body.WalletAddress) {
			return swap.Request{}, fmt.Errorf("%w: walletAddress %q is not an address", swap.ErrInvalidRequest, body.WalletAddress)
		}
		req.WalletAddress = common.HexToAddress(body.WalletAddress)
	}
	if body.Invert {
		req = req.Invert()
	}
	return req, nil
}

func (s *Server) handleCheckSwapStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	orderHash := strings.TrimSpace(r.URL.Query().Get("orderHash"))
	if orderHash == "" {
		writeError(w, http.StatusBadRequest, "Missing orderHash parameter", nil)
		return
	}

	report, err := swap.CheckStatus(r.Context(), s.status, orderHash)
	if err != nil {
		s.log.Warn("Status check failed", "order_hash", orderHash, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to check swap status", errorDetails(err))
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Success:    true,
		Status:     string(report.Status),
		Details:    report.Details,
		ReadyFills: report.ReadyFills,
	})
}

func (s *Server) handleListSwaps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "Swap journal is disabled", nil)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit parameter", nil)
			return
		}
		limit = n
	}

	swaps, err := s.journal.ListSwaps(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list swaps", err.Error())
		return
	}
	if swaps == nil {
		swaps = []*storage.SwapRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"swaps":   swaps,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"ws_clients": s.wsHub.ClientCount(),
	})
}

func swapResponse(res *swap.Result) ExecuteSwapResponse {
	resp := ExecuteSwapResponse{Success: true}
	if res == nil {
		return resp
	}
	resp.SwapID = res.SwapID
	resp.OrderHash = res.OrderHash
	resp.Status = string(res.Status)
	resp.SecretsCount = res.SecretsCount
	resp.SecretsShared = res.SecretsShared
	if res.Details != nil {
		resp.Details = res.Details
	}
	return resp
}

// classifySwapError maps orchestrator failures onto a status code and the
// message clients already key on.
func classifySwapError(err error) (int, string) {
	switch {
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return http.StatusBadRequest, "Insufficient token balance"
	case errors.Is(err, wallet.ErrInsufficientAllowance):
		return http.StatusBadRequest, "Insufficient allowance for 1inch router"
	case errors.Is(err, swap.ErrInsufficientLiquidity):
		return http.StatusBadRequest, "Insufficient liquidity for swap"
	case errors.Is(err, swap.ErrWalletMismatch):
		return http.StatusBadRequest, "walletAddress does not match the configured signer"
	case errors.Is(err, swap.ErrMissingParameter),
		errors.Is(err, swap.ErrInvalidRequest),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, config.ErrMissingConfig):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, wallet.ErrApprovalFailed):
		return http.StatusInternalServerError, "Failed to approve 1inch router"
	case errors.Is(err, swap.ErrQuote):
		return http.StatusInternalServerError, "Failed to get quote"
	case errors.Is(err, swap.ErrOrderCreation):
		return http.StatusInternalServerError, "Failed to create order"
	case errors.Is(err, swap.ErrJournal):
		return http.StatusInternalServerError, "Failed to journal swap"
	case errors.Is(err, swap.ErrOrderSubmission):
		return http.StatusInternalServerError, "Failed to submit order"
	default:
		return http.StatusInternalServerError, "Swap failed"
	}
}

// errorDetails prefers the relayer's own response body.
func errorDetails(err error) interface{} {
	if apiErr, ok := fusion.AsAPIError(err); ok {
		return apiErr.Details()
	}
	return err.Error()
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "Method not allowed"})
}

func writeError(w http.ResponseWriter, status int, msg string, details interface{}) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: msg, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
