package swap

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/klingon-exchange/klingon-fusion/internal/fusion"
	"github.com/klingon-exchange/klingon-fusion/internal/hashlock"
	"github.com/klingon-exchange/klingon-fusion/internal/wallet"
)

const testOrderHash = "0x5b1a2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f9"

var (
	testWallet = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	testSrc    = common.HexToAddress("0x82af49447d8a07e3bd95bd0d56f35241523fbab1")
	testDst    = common.HexToAddress("0x4200000000000000000000000000000000000006")
)

// fakeRelayer scripts relayer answers per poll iteration. statuses[i] is
// returned for the i-th status call; the last entry repeats.
type fakeRelayer struct {
	mu sync.Mutex

	secretsCount int
	quoteErr     error
	quoteErrs    []error // consumed one per GetQuote call before quoteErr
	noPreset     bool
	buildErr     error
	submitErr    error
	statusErr    func(call int) error

	statuses []fusion.OrderStatus
	// fills returns ready indices for the n-th fills call (1-based).
	fills func(call int) []int
	// secretErr decides the answer for a secret submission.
	secretErr func(idx, attempt int) error

	quoteCalls  int
	fillCalls   int
	statusCalls int
	build       *fusion.BuildOrderRequest
	submitted   *fusion.SubmitOrderRequest
	secrets     map[int][]string // idx -> submitted secret values
	attempts    map[int]int
	afterFinal  int
}

func newFakeRelayer(secretsCount int, statuses ...fusion.OrderStatus) *fakeRelayer {
	if len(statuses) == 0 {
		statuses = []fusion.OrderStatus{fusion.StatusPending}
	}
	return &fakeRelayer{
		secretsCount: secretsCount,
		statuses:     statuses,
		secrets:      make(map[int][]string),
		attempts:     make(map[int]int),
	}
}

func (f *fakeRelayer) GetQuote(_ context.Context, p fusion.QuoteParams) (*fusion.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	if len(f.quoteErrs) > 0 {
		err := f.quoteErrs[0]
		f.quoteErrs = f.quoteErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	q := &fusion.Quote{
		QuoteID:        "quote-1",
		SrcTokenAmount: p.Amount,
		DstTokenAmount: "990000000000000",
		Presets:        map[string]*fusion.Preset{},
	}
	if !f.noPreset {
		q.Presets[fusion.PresetFast] = &fusion.Preset{SecretsCount: f.secretsCount}
	}
	return q, nil
}

func (f *fakeRelayer) BuildOrder(_ context.Context, req *fusion.BuildOrderRequest) (*fusion.PreparedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.build = req
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return &fusion.PreparedOrder{
		OrderHash: testOrderHash,
		Order:     []byte(`{"maker":"` + req.WalletAddress + `"}`),
		Extension: "0x",
	}, nil
}

func (f *fakeRelayer) SubmitOrder(_ context.Context, req *fusion.SubmitOrderRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = req
	return f.submitErr
}

func (f *fakeRelayer) GetReadyToAcceptSecretFills(_ context.Context, _ string) (*fusion.ReadyToAcceptSecretFills, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noteAfterFinal()
	f.fillCalls++
	out := &fusion.ReadyToAcceptSecretFills{}
	if f.fills != nil {
		for _, idx := range f.fills(f.fillCalls) {
			out.Fills = append(out.Fills, fusion.ReadyFill{Idx: idx})
		}
	}
	return out, nil
}

func (f *fakeRelayer) SubmitSecret(_ context.Context, _ string, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noteAfterFinal()

	idx := -1
	if f.build != nil {
		for i, h := range f.build.SecretHashes {
			if hashOfHex(secret) == h {
				idx = i
			}
		}
	}
	f.attempts[idx]++
	f.secrets[idx] = append(f.secrets[idx], secret)
	if f.secretErr != nil {
		return f.secretErr(idx, f.attempts[idx])
	}
	return nil
}

func (f *fakeRelayer) GetOrderStatus(_ context.Context, orderHash string) (*fusion.OrderStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noteAfterFinal()
	f.statusCalls++
	if f.statusErr != nil {
		if err := f.statusErr(f.statusCalls); err != nil {
			return nil, err
		}
	}
	i := f.statusCalls - 1
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	return &fusion.OrderStatusResponse{OrderHash: orderHash, Status: f.statuses[i]}, nil
}

// noteAfterFinal counts calls made after a terminal status was served.
func (f *fakeRelayer) noteAfterFinal() {
	if f.statusCalls == 0 {
		return
	}
	i := f.statusCalls - 1
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	if f.statuses[i].IsTerminal() {
		f.afterFinal++
	}
}

func (f *fakeRelayer) counts() (quotes, fills, statuses int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quoteCalls, f.fillCalls, f.statusCalls
}

type fakeSigner struct {
	address common.Address
	chainID uint64
	err     error
}

func (s *fakeSigner) Address() common.Address { return s.address }
func (s *fakeSigner) ChainID() uint64         { return s.chainID }
func (s *fakeSigner) SignTypedData(apitypes.TypedData) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	sig := make([]byte, 65)
	sig[64] = 27
	return sig, nil
}

type fakeFunds struct {
	err    error
	checks []wallet.FundsCheck
}

func (f *fakeFunds) CheckFunds(_ context.Context, c wallet.FundsCheck) (*wallet.FundsReport, error) {
	f.checks = append(f.checks, c)
	if f.err != nil {
		return nil, f.err
	}
	return &wallet.FundsReport{}, nil
}

func conflictErr() error {
	return &fusion.APIError{Endpoint: fusion.EndpointSubmitSecret, StatusCode: http.StatusConflict}
}

func serverErr() error {
	return &fusion.APIError{Endpoint: fusion.EndpointSubmitSecret, StatusCode: http.StatusInternalServerError}
}

var errBoom = errors.New("boom")

// eventRecorder collects events delivered on handler goroutines.
type eventRecorder struct {
	mu     sync.Mutex
	events []SwapEvent
}

func (r *eventRecorder) handle(e SwapEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType
	}
	return out
}

func (r *eventRecorder) waitFor(eventType string, n int) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.count(eventType) >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func hashOfHex(s string) string {
	secret, err := hashlock.ParseSecret(s)
	if err != nil {
		return ""
	}
	return secret.Hash().Hex()
}
