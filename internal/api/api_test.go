package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/klingon-fusion/internal/config"
	"github.com/klingon-exchange/klingon-fusion/internal/fusion"
	"github.com/klingon-exchange/klingon-fusion/internal/hashlock"
	"github.com/klingon-exchange/klingon-fusion/internal/storage"
	"github.com/klingon-exchange/klingon-fusion/internal/swap"
	"github.com/klingon-exchange/klingon-fusion/internal/wallet"
)

const testOrderHash = "0x5b1a2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f9"

type fakeSwapper struct {
	mu       sync.Mutex
	calls    int
	last     swap.Request
	maxPolls int
	res      *swap.Result
	sess     *swap.Session
	err      error
	handlers []swap.EventHandler
}

func (f *fakeSwapper) InitiateSwapSession(ctx context.Context, req swap.Request, maxPolls int) (*swap.Result, *swap.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	f.maxPolls = maxPolls
	return f.res, f.sess, f.err
}

func (f *fakeSwapper) OnEvent(h swap.EventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

func (f *fakeSwapper) emit(e swap.SwapEvent) {
	f.mu.Lock()
	handlers := append([]swap.EventHandler(nil), f.handlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(e)
	}
}

type fakeStatus struct {
	calls  int
	status fusion.OrderStatus
	fills  []int
	err    error
}

func (f *fakeStatus) GetOrderStatus(ctx context.Context, orderHash string) (*fusion.OrderStatusResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &fusion.OrderStatusResponse{OrderHash: orderHash, Status: f.status}, nil
}

func (f *fakeStatus) GetReadyToAcceptSecretFills(ctx context.Context, orderHash string) (*fusion.ReadyToAcceptSecretFills, error) {
	f.calls++
	out := &fusion.ReadyToAcceptSecretFills{}
	for _, idx := range f.fills {
		out.Fills = append(out.Fills, fusion.ReadyFill{Idx: idx})
	}
	return out, nil
}

type fakeWorker struct {
	adopted []*swap.Session
}

func (f *fakeWorker) Adopt(sess *swap.Session) bool {
	f.adopted = append(f.adopted, sess)
	return true
}

type fakeLister struct {
	swaps []*storage.SwapRecord
	limit int
}

func (f *fakeLister) ListSwaps(limit int) ([]*storage.SwapRecord, error) {
	f.limit = limit
	return f.swaps, nil
}

func testRoute() config.RouteConfig {
	return config.DefaultConfig().Route
}

func newTestServer(t *testing.T, sw *fakeSwapper, st *fakeStatus, cfg func(c *Config)) *Server {
	t.Helper()
	c := &Config{Swapper: sw, Status: st, Route: testRoute(), MaxPolls: 30}
	if cfg != nil {
		cfg(c)
	}
	s, err := NewServer(c)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func restoredSession(t *testing.T) *swap.Session {
	t.Helper()
	secrets, err := hashlock.GenerateSecrets(2)
	require.NoError(t, err)
	sess, err := swap.RestoreSession(&storage.SwapRecord{
		ID:           "swap-1",
		OrderHash:    testOrderHash,
		SrcChainID:   42161,
		DstChainID:   10,
		Amount:       "1000",
		SecretsCount: 2,
	}, secrets, nil)
	require.NoError(t, err)
	return sess
}

func TestNewServerRequiresCollaborators(t *testing.T) {
	_, err := NewServer(&Config{})
	assert.Error(t, err)
}

func TestMethodNotAllowed(t *testing.T) {
	sw := &fakeSwapper{}
	st := &fakeStatus{}
	s := newTestServer(t, sw, st, nil)

	tests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/api/executeSwap"},
		{http.MethodPut, "/api/executeSwap"},
		{http.MethodPost, "/api/checkSwapStatus?orderHash=" + testOrderHash},
		{http.MethodDelete, "/api/swaps"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec, out := do(t, s, tt.method, tt.target, "")
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, "Method not allowed", out["message"])
		})
	}
	assert.Zero(t, sw.calls, "no swap may start on a wrong method")
	assert.Zero(t, st.calls, "no upstream call on a wrong method")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &fakeSwapper{}, &fakeStatus{}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/executeSwap", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestExecuteSwapSuccess(t *testing.T) {
	sw := &fakeSwapper{res: &swap.Result{
		SwapID:        "swap-1",
		OrderHash:     testOrderHash,
		Status:        fusion.StatusExecuted,
		Details:       &fusion.OrderStatusResponse{OrderHash: testOrderHash, Status: fusion.StatusExecuted},
		SecretsCount:  3,
		SecretsShared: 3,
	}}
	s := newTestServer(t, sw, &fakeStatus{}, nil)

	rec, out := do(t, s, http.MethodPost, "/api/executeSwap", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, out["success"])
	assert.Equal(t, testOrderHash, out["orderHash"])
	assert.Equal(t, "executed", out["status"])
	assert.NotNil(t, out["details"])
	assert.Nil(t, out["timeout"])

	// empty body falls back to the configured route
	assert.Equal(t, uint64(42161), sw.last.SrcChainID)
	assert.Equal(t, uint64(10), sw.last.DstChainID)
	assert.Equal(t, "1000000000000000", sw.last.Amount.Dec())
	assert.Equal(t, 30, sw.maxPolls)
}

func TestExecuteSwapBodyOverrides(t *testing.T) {
	sw := &fakeSwapper{res: &swap.Result{OrderHash: testOrderHash, Status: fusion.StatusExecuted}}
	s := newTestServer(t, sw, &fakeStatus{}, nil)

	body := `{
		"walletAddress": "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		"srcChainId": 10,
		"dstChainId": 8453,
		"srcTokenAddress": "0x4200000000000000000000000000000000000006",
		"dstTokenAddress": "0x4200000000000000000000000000000000000006",
		"amount": "5000",
		"invert": true
	}`
	rec, _ := do(t, s, http.MethodPost, "/api/executeSwap", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, uint64(8453), sw.last.SrcChainID, "invert swaps the chains")
	assert.Equal(t, uint64(10), sw.last.DstChainID)
	assert.Equal(t, "5000", sw.last.Amount.Dec())
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", sw.last.WalletAddress.Hex())
}

func TestExecuteSwapNumericAmount(t *testing.T) {
	sw := &fakeSwapper{res: &swap.Result{Status: fusion.StatusExecuted}}
	s := newTestServer(t, sw, &fakeStatus{}, nil)

	rec, _ := do(t, s, http.MethodPost, "/api/executeSwap", `{"amount": 123456}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "123456", sw.last.Amount.Dec())
}

func TestExecuteSwapBadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"amount":`},
		{"bad token", `{"srcTokenAddress":"weth"}`},
		{"zero amount", `{"amount":"0"}`},
		{"fractional amount", `{"amount":1.5}`},
		{"bad wallet", `{"walletAddress":"0x123"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sw := &fakeSwapper{}
			s := newTestServer(t, sw, &fakeStatus{}, nil)
			rec, out := do(t, s, http.MethodPost, "/api/executeSwap", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, out["success"])
			assert.NotEmpty(t, out["error"])
			assert.Zero(t, sw.calls, "request must be rejected before the orchestrator runs")
		})
	}
}

func TestExecuteSwapErrorMapping(t *testing.T) {
	apiErr := &fusion.APIError{StatusCode: 400, Body: []byte(`{"description":"invalid signature"}`)}

	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantError  string
		wantDetail bool
	}{
		{"balance", wallet.ErrInsufficientBalance, 400, "Insufficient token balance", false},
		{"allowance", wallet.ErrInsufficientAllowance, 400, "Insufficient allowance for 1inch router", false},
		{"liquidity", errors.Join(swap.ErrInsufficientLiquidity, apiErr), 400, "Insufficient liquidity for swap", true},
		{"wallet mismatch", swap.ErrWalletMismatch, 400, "walletAddress does not match the configured signer", false},
		{"unsupported chain", swap.ErrInvalidRequest, 400, swap.ErrInvalidRequest.Error(), false},
		{"quote", swap.ErrQuote, 500, "Failed to get quote", false},
		{"order creation", swap.ErrOrderCreation, 500, "Failed to create order", false},
		{"submission", errors.Join(swap.ErrOrderSubmission, apiErr), 500, "Failed to submit order", true},
		{"journal", swap.ErrJournal, 500, "Failed to journal swap", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sw := &fakeSwapper{err: tt.err}
			s := newTestServer(t, sw, &fakeStatus{}, nil)
			rec, out := do(t, s, http.MethodPost, "/api/executeSwap", "")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, false, out["success"])
			assert.Equal(t, tt.wantError, out["error"])
			if tt.wantDetail {
				details, ok := out["details"].(map[string]interface{})
				require.True(t, ok, "details = %v", out["details"])
				assert.Equal(t, "invalid signature", details["description"])
			}
		})
	}
}

func TestExecuteSwapTimeoutAdopted(t *testing.T) {
	sess := restoredSession(t)
	sw := &fakeSwapper{
		res:  &swap.Result{SwapID: "swap-1", OrderHash: testOrderHash, Status: fusion.StatusPending, Timeout: true},
		sess: sess,
		err:  swap.ErrPollTimeout,
	}
	w := &fakeWorker{}
	s := newTestServer(t, sw, &fakeStatus{}, func(c *Config) { c.Worker = w })

	rec, out := do(t, s, http.MethodPost, "/api/executeSwap", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, out["timeout"])
	assert.Equal(t, true, out["background"])
	assert.Equal(t, testOrderHash, out["orderHash"])
	require.Len(t, w.adopted, 1)
	assert.Same(t, sess, w.adopted[0])
}

func TestExecuteSwapTimeoutWithoutWorker(t *testing.T) {
	sw := &fakeSwapper{
		res:  &swap.Result{OrderHash: testOrderHash, Status: fusion.StatusPending},
		sess: restoredSession(t),
		err:  swap.ErrPollTimeout,
	}
	s := newTestServer(t, sw, &fakeStatus{}, nil)

	rec, out := do(t, s, http.MethodPost, "/api/executeSwap", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, out["timeout"])
	assert.Nil(t, out["background"])
}

func TestCheckSwapStatus(t *testing.T) {
	t.Run("missing hash", func(t *testing.T) {
		st := &fakeStatus{}
		s := newTestServer(t, &fakeSwapper{}, st, nil)
		rec, out := do(t, s, http.MethodGet, "/api/checkSwapStatus", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Missing orderHash parameter", out["error"])
		assert.Equal(t, false, out["success"])
		assert.Zero(t, st.calls)
	})

	t.Run("pending with fills", func(t *testing.T) {
		st := &fakeStatus{status: fusion.StatusPending, fills: []int{0, 1}}
		s := newTestServer(t, &fakeSwapper{}, st, nil)
		rec, out := do(t, s, http.MethodGet, "/api/checkSwapStatus?orderHash="+testOrderHash, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, out["success"])
		assert.Equal(t, "pending", out["status"])
		assert.Equal(t, []interface{}{float64(0), float64(1)}, out["readyFills"])
		assert.NotNil(t, out["details"])
	})

	t.Run("executed has empty fills", func(t *testing.T) {
		st := &fakeStatus{status: fusion.StatusExecuted, fills: []int{0}}
		s := newTestServer(t, &fakeSwapper{}, st, nil)
		rec, out := do(t, s, http.MethodGet, "/api/checkSwapStatus?orderHash="+testOrderHash, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []interface{}{}, out["readyFills"])
	})

	t.Run("upstream failure", func(t *testing.T) {
		st := &fakeStatus{err: &fusion.APIError{StatusCode: 404, Body: []byte(`{"message":"order not found"}`)}}
		s := newTestServer(t, &fakeSwapper{}, st, nil)
		rec, out := do(t, s, http.MethodGet, "/api/checkSwapStatus?orderHash="+testOrderHash, "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Failed to check swap status", out["error"])
		details, ok := out["details"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "order not found", details["message"])
	})
}

func TestListSwaps(t *testing.T) {
	t.Run("journal disabled", func(t *testing.T) {
		s := newTestServer(t, &fakeSwapper{}, &fakeStatus{}, nil)
		rec, _ := do(t, s, http.MethodGet, "/api/swaps", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("listing", func(t *testing.T) {
		l := &fakeLister{swaps: []*storage.SwapRecord{{ID: "a", OrderHash: testOrderHash, State: storage.SwapStateSubmitted}}}
		s := newTestServer(t, &fakeSwapper{}, &fakeStatus{}, func(c *Config) { c.Journal = l })
		rec, out := do(t, s, http.MethodGet, "/api/swaps?limit=5", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 5, l.limit)
		swaps, ok := out["swaps"].([]interface{})
		require.True(t, ok)
		require.Len(t, swaps, 1)
		assert.Equal(t, "submitted", swaps[0].(map[string]interface{})["state"])
	})

	t.Run("bad limit", func(t *testing.T) {
		l := &fakeLister{}
		s := newTestServer(t, &fakeSwapper{}, &fakeStatus{}, func(c *Config) { c.Journal = l })
		rec, _ := do(t, s, http.MethodGet, "/api/swaps?limit=x", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, &fakeSwapper{}, &fakeStatus{}, nil)

	rec, out := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrec := httptest.NewRecorder()
	s.Handler().ServeHTTP(mrec, req)
	assert.Equal(t, http.StatusOK, mrec.Code)
	assert.True(t, bytes.Contains(mrec.Body.Bytes(), []byte("go_goroutines")))
}

func TestWebSocketReceivesSwapEvents(t *testing.T) {
	sw := &fakeSwapper{}
	s := newTestServer(t, sw, &fakeStatus{}, nil)
	go s.wsHub.Run()
	t.Cleanup(s.wsHub.Close)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSSubscription{Action: "subscribe", Events: []string{swap.EventSecretShared}}))
	require.Eventually(t, func() bool { return s.wsHub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	// give the read pump time to apply the subscription
	time.Sleep(50 * time.Millisecond)

	sw.emit(swap.SwapEvent{SwapID: "swap-1", OrderHash: testOrderHash, EventType: swap.EventStatusChanged, Timestamp: time.Now()})
	sw.emit(swap.SwapEvent{SwapID: "swap-1", OrderHash: testOrderHash, EventType: swap.EventSecretShared, Data: map[string]int{"idx": 2}, Timestamp: time.Now()})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got WSEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, swap.EventSecretShared, got.Type, "unsubscribed events are filtered")

	data, ok := got.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, testOrderHash, data["order_hash"])
}
