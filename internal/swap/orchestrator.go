// Package swap runs Fusion+ swaps end to end: quote, secrets, hash-lock,
// order creation and submission, then the polling loop that reveals one
// secret per ready fill until the order reaches a final status.
package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"

	"github.com/klingon-exchange/klingon-fusion/internal/config"
	"github.com/klingon-exchange/klingon-fusion/internal/fusion"
	"github.com/klingon-exchange/klingon-fusion/internal/hashlock"
	"github.com/klingon-exchange/klingon-fusion/internal/metrics"
	"github.com/klingon-exchange/klingon-fusion/internal/storage"
	"github.com/klingon-exchange/klingon-fusion/internal/wallet"
	"github.com/klingon-exchange/klingon-fusion/pkg/logging"
)

// Relayer is the Fusion+ API surface a swap needs.
type Relayer interface {
	StatusReader
	GetQuote(ctx context.Context, p fusion.QuoteParams) (*fusion.Quote, error)
	BuildOrder(ctx context.Context, req *fusion.BuildOrderRequest) (*fusion.PreparedOrder, error)
	SubmitOrder(ctx context.Context, req *fusion.SubmitOrderRequest) error
	SubmitSecret(ctx context.Context, orderHash, secret string) error
}

// StatusReader is the read-only part of the relayer.
type StatusReader interface {
	GetReadyToAcceptSecretFills(ctx context.Context, orderHash string) (*fusion.ReadyToAcceptSecretFills, error)
	GetOrderStatus(ctx context.Context, orderHash string) (*fusion.OrderStatusResponse, error)
}

// Signer signs orders for one address.
type Signer interface {
	Address() common.Address
	ChainID() uint64
	SignTypedData(data apitypes.TypedData) ([]byte, error)
}

// FundsChecker verifies balance and allowance before a swap.
type FundsChecker interface {
	CheckFunds(ctx context.Context, c wallet.FundsCheck) (*wallet.FundsReport, error)
}

// Journal persists sessions so they can be resumed after a restart.
type Journal interface {
	CreateSwap(swap *storage.SwapRecord, secrets hashlock.SecretSet) error
	UpdateSwapState(id string, state storage.SwapState, reason string) error
	RecordStatus(id, status string) (bool, error)
	MarkSecretShared(id string, idx int) error
	GetResumableSwaps() ([]*storage.SwapRecord, error)
	GetSwapsByState(state storage.SwapState) ([]*storage.SwapRecord, error)
	GetSwapByOrderHash(orderHash string) (*storage.SwapRecord, error)
	LoadSecrets(id string) (hashlock.SecretSet, error)
	SharedIndices(id string) ([]int, error)
}

// Policy holds the tunables of a swap.
type Policy struct {
	Preset string
	Source string

	PollInterval time.Duration
	// MaxPolls bounds the loop; 0 polls until a final status.
	MaxPolls          int
	SubmitConcurrency int

	Preflight       bool
	Approve         bool
	ApprovalTimeout time.Duration
}

// PolicyFromConfig maps the swap section of the config file.
func PolicyFromConfig(c config.SwapConfig) Policy {
	return Policy{
		Preset:            c.Preset,
		Source:            c.Source,
		PollInterval:      c.PollInterval,
		MaxPolls:          c.MaxPolls,
		SubmitConcurrency: c.SubmitConcurrency,
		Preflight:         c.Preflight,
		Approve:           c.Approve,
		ApprovalTimeout:   c.ApprovalTimeout,
	}
}

// Config wires an Orchestrator. Funds and Journal are optional.
type Config struct {
	Relayer Relayer
	Signer  Signer
	Funds   FundsChecker
	Journal Journal
	Policy  Policy
}

// Orchestrator runs swaps for one signer.
type Orchestrator struct {
	relayer Relayer
	signer  Signer
	funds   FundsChecker
	journal Journal
	policy  Policy

	mu          sync.RWMutex
	subscribers []*subscriber

	log *logging.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg *Config) (*Orchestrator, error) {
	if cfg.Relayer == nil || cfg.Signer == nil {
		return nil, errors.New("relayer and signer are required")
	}
	p := cfg.Policy
	if p.Preset == "" {
		p.Preset = fusion.PresetFast
	}
	if p.PollInterval <= 0 {
		p.PollInterval = time.Second
	}
	if p.SubmitConcurrency < 1 {
		p.SubmitConcurrency = 1
	}
	if p.MaxPolls < 0 {
		p.MaxPolls = 0
	}
	return &Orchestrator{
		relayer: cfg.Relayer,
		signer:  cfg.Signer,
		funds:   cfg.Funds,
		journal: cfg.Journal,
		policy:  p,
		log:     logging.GetDefault().Component("swap"),
	}, nil
}

// Policy returns the effective policy.
func (o *Orchestrator) Policy() Policy {
	return o.policy
}

// Journal returns the journal, or nil when journaling is disabled.
func (o *Orchestrator) Journal() Journal {
	return o.journal
}

// InitiateSwap runs one swap with the configured poll budget. On
// ErrPollTimeout the returned Result carries the last status; use
// InitiateSwapSession to get the session for a Worker.
func (o *Orchestrator) InitiateSwap(ctx context.Context, req Request) (*Result, error) {
	res, _, err := o.initiate(ctx, req, o.policy.MaxPolls)
	return res, err
}

// InitiateSwapSession is InitiateSwap that also returns the session, so a
// caller can keep polling it after a timeout.
func (o *Orchestrator) InitiateSwapSession(ctx context.Context, req Request, maxPolls int) (*Result, *Session, error) {
	return o.initiate(ctx, req, maxPolls)
}

func (o *Orchestrator) initiate(ctx context.Context, req Request, maxPolls int) (*Result, *Session, error) {
	if req.WalletAddress == (common.Address{}) {
		req.WalletAddress = o.signer.Address()
	} else if req.WalletAddress != o.signer.Address() {
		return nil, nil, fmt.Errorf("%w: request %s, signer %s", ErrWalletMismatch, req.WalletAddress.Hex(), o.signer.Address().Hex())
	}
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	log := o.log.With("route", req.String())

	if o.policy.Preflight {
		if err := o.preflight(ctx, req); err != nil {
			log.Warn("Pre-flight check failed", "error", err)
			metrics.SwapsFinished.WithLabelValues("preflight").Inc()
			return nil, nil, err
		}
		log.Debug("Pre-flight checks passed")
	}

	// 1. quote
	quote, preset, err := o.quote(ctx, req)
	if err != nil {
		metrics.SwapsFinished.WithLabelValues("quote").Inc()
		return nil, nil, err
	}

	// 2. secrets
	secrets, err := hashlock.GenerateSecrets(preset.SecretsCount)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrOrderCreation, err)
	}

	// 3. hash-lock
	lock, err := hashlock.New(secrets)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrOrderCreation, err)
	}
	if lock.PartsCount() != len(secrets) {
		return nil, nil, fmt.Errorf("%w: hash-lock encodes %d parts for %d secrets", ErrOrderCreation, lock.PartsCount(), len(secrets))
	}

	sess := newSession(uuid.NewString(), req, o.policy.Preset, secrets, lock)
	o.emitEvent(sess, EventSwapQuoted, map[string]interface{}{
		"quote_id":      quote.QuoteID,
		"preset":        o.policy.Preset,
		"src_amount":    quote.SrcTokenAmount,
		"dst_amount":    quote.DstTokenAmount,
		"secrets_count": len(secrets),
		"variant":       lock.Variant().String(),
	})
	log = log.With("swap_id", sess.ID)
	log.Info("Quote received",
		"quote_id", quote.QuoteID,
		"dst_amount", quote.DstTokenAmount,
		"secrets", len(secrets),
		"variant", lock.Variant().String())

	// 4. build and sign
	order, signature, err := o.createOrder(ctx, sess, quote)
	if err != nil {
		metrics.SwapsFinished.WithLabelValues("order_creation").Inc()
		return nil, nil, err
	}
	sess.OrderHash = order.OrderHash
	sess.QuoteID = order.QuoteID
	log = log.With("order_hash", sess.OrderHash)
	log.Info("Order created")

	if err := o.journalCreate(sess); err != nil {
		return nil, nil, err
	}

	// 5. submit
	submit := &fusion.SubmitOrderRequest{
		SrcChainID:   req.SrcChainID,
		Order:        order.Order,
		Signature:    hexutil.Encode(signature),
		Extension:    order.Extension,
		QuoteID:      order.QuoteID,
		SecretHashes: secrets.HexHashes(),
	}
	if err := o.relayer.SubmitOrder(ctx, submit); err != nil {
		err = fmt.Errorf("%w: %w", ErrOrderSubmission, err)
		o.journalState(sess, storage.SwapStateFailed, err.Error())
		o.emitEvent(sess, EventSwapFailed, map[string]interface{}{"error": err.Error()})
		metrics.SwapsFinished.WithLabelValues("order_submission").Inc()
		return nil, nil, err
	}
	o.journalState(sess, storage.SwapStateSubmitted, "")
	metrics.SwapsStarted.Inc()
	o.emitEvent(sess, EventOrderSubmitted, map[string]interface{}{
		"quote_id":      sess.QuoteID,
		"secrets_count": len(secrets),
	})
	log.Info("Order submitted")

	// 6. poll
	res, err := o.poll(ctx, sess, maxPolls)
	return res, sess, err
}

func (o *Orchestrator) preflight(ctx context.Context, req Request) error {
	if o.funds != nil && o.signer.ChainID() == req.SrcChainID {
		network, _ := config.GetNetwork(req.SrcChainID)
		report, err := o.funds.CheckFunds(ctx, wallet.FundsCheck{
			Token:           req.SrcToken,
			Spender:         network.Spender,
			Amount:          req.Amount.ToBig(),
			Approve:         o.policy.Approve,
			ApprovalTimeout: o.policy.ApprovalTimeout,
		})
		if err != nil {
			return err
		}
		if report.ApprovalTx != nil {
			o.log.Info("Spender approved", "tx", report.ApprovalTx.Hex(), "spender", network.Spender.Hex())
		}
	} else if o.funds != nil {
		o.log.Debug("Skipping balance checks, signer is on another chain",
			"signer_chain", o.signer.ChainID(), "src_chain", req.SrcChainID)
	}

	if _, err := o.relayer.GetQuote(ctx, quoteParams(req)); err != nil {
		return fmt.Errorf("%w: %w", ErrInsufficientLiquidity, err)
	}
	return nil
}

func quoteParams(req Request) fusion.QuoteParams {
	return fusion.QuoteParams{
		SrcChainID:      req.SrcChainID,
		DstChainID:      req.DstChainID,
		SrcTokenAddress: req.SrcToken.Hex(),
		DstTokenAddress: req.DstToken.Hex(),
		Amount:          req.Amount.Dec(),
		WalletAddress:   req.WalletAddress.Hex(),
		EnableEstimate:  true,
	}
}

func (o *Orchestrator) quote(ctx context.Context, req Request) (*fusion.Quote, *fusion.Preset, error) {
	quote, err := o.relayer.GetQuote(ctx, quoteParams(req))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrQuote, err)
	}
	preset, err := quote.Preset(o.policy.Preset)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrQuote, err)
	}
	if preset.SecretsCount < 1 || preset.SecretsCount > hashlock.MaxSecrets {
		return nil, nil, fmt.Errorf("%w: preset %s has secretsCount %d", ErrQuote, o.policy.Preset, preset.SecretsCount)
	}
	if quote.SrcChainID == 0 {
		quote.SrcChainID = req.SrcChainID
	}
	if quote.DstChainID == 0 {
		quote.DstChainID = req.DstChainID
	}
	return quote, preset, nil
}

func (o *Orchestrator) createOrder(ctx context.Context, sess *Session, quote *fusion.Quote) (*fusion.PreparedOrder, []byte, error) {
	order, err := o.relayer.BuildOrder(ctx, &fusion.BuildOrderRequest{
		Quote:         quote,
		Preset:        sess.Preset,
		WalletAddress: sess.Request.WalletAddress.Hex(),
		Source:        o.policy.Source,
		HashLock:      sess.hashLock.Hex(),
		SecretHashes:  sess.secrets.HexHashes(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrOrderCreation, err)
	}
	if order.QuoteID == "" {
		order.QuoteID = quote.QuoteID
	}
	signature, err := o.signer.SignTypedData(order.TypedData)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrOrderCreation, err)
	}
	return order, signature, nil
}

func (o *Orchestrator) journalCreate(sess *Session) error {
	if o.journal == nil {
		return nil
	}
	req := sess.Request
	err := o.journal.CreateSwap(&storage.SwapRecord{
		ID:           sess.ID,
		OrderHash:    sess.OrderHash,
		QuoteID:      sess.QuoteID,
		Wallet:       req.WalletAddress.Hex(),
		SrcChainID:   req.SrcChainID,
		DstChainID:   req.DstChainID,
		SrcToken:     req.SrcToken.Hex(),
		DstToken:     req.DstToken.Hex(),
		Amount:       req.Amount.Dec(),
		Preset:       sess.Preset,
		SecretsCount: sess.SecretsCount(),
		CreatedAt:    sess.StartedAt,
	}, sess.secrets)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrJournal, err)
	}
	return nil
}

func (o *Orchestrator) journalState(sess *Session, state storage.SwapState, reason string) {
	if o.journal == nil {
		return
	}
	if err := o.journal.UpdateSwapState(sess.ID, state, reason); err != nil {
		o.log.Warn("Failed to update journal", "swap_id", sess.ID, "state", state, "error", err)
	}
}
