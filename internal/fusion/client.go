package fusion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"

	"github.com/klingon-exchange/klingon-fusion/internal/metrics"
	"github.com/klingon-exchange/klingon-fusion/pkg/logging"
)

// DefaultBaseURL is the public Fusion+ API behind the 1inch developer portal.
const DefaultBaseURL = "https://api.1inch.dev/fusion-plus"

// Endpoint names, used for logs and metrics labels.
const (
	EndpointQuote        = "quote"
	EndpointBuild        = "build"
	EndpointSubmit       = "submit"
	EndpointReadyFills   = "ready_fills"
	EndpointSubmitSecret = "submit_secret"
	EndpointStatus       = "status"
)

const (
	pathQuote        = "/quoter/v1.0/quote/receive"
	pathBuild        = "/quoter/v1.0/quote/build"
	pathSubmit       = "/relayer/v1.0/submit"
	pathSubmitSecret = "/relayer/v1.0/submit/secret"
	pathReadyFills   = "/orders/v1.0/order/ready-to-accept-secret-fills/"
	pathStatus       = "/orders/v1.0/order/status/"

	maxResponseBody = 4 << 20
)

// Config configures the relayer client.
type Config struct {
	BaseURL           string
	AuthKey           string
	RequestsPerSecond int
	// MaxRetries bounds retries of a 429 response; each wait doubles RetryBackoff.
	MaxRetries      int
	RetryBackoff    time.Duration
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

// DefaultConfig mirrors the free developer portal tier: one request per second
// and a generous back-off when throttled anyway.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           DefaultBaseURL,
		RequestsPerSecond: 1,
		MaxRetries:        5,
		RetryBackoff:      10 * time.Second,
		Timeout:           30 * time.Second,
		BreakerFailures:   5,
		BreakerCooldown:   30 * time.Second,
	}
}

// Client talks to the quoter, relayer and orders services.
type Client struct {
	baseURL    string
	authKey    string
	httpClient *http.Client
	limiter    ratelimit.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	backoff    time.Duration
	log        *logging.Logger
}

// NewClient creates a relayer client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("relayer base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid relayer base URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := ratelimit.NewUnlimited()
	if cfg.RequestsPerSecond > 0 {
		limiter = ratelimit.New(cfg.RequestsPerSecond)
	}

	log := logging.GetDefault().Component("relayer")

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "fusion-relayer",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen {
				metrics.BreakerOpen.Set(1)
			} else {
				metrics.BreakerOpen.Set(0)
			}
		},
	})

	return &Client{
		baseURL:    baseURL,
		authKey:    cfg.AuthKey,
		httpClient: httpClient,
		limiter:    limiter,
		breaker:    breaker,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		log:        log,
	}, nil
}

// GetQuote prices a route.
func (c *Client) GetQuote(ctx context.Context, p QuoteParams) (*Quote, error) {
	q := url.Values{}
	q.Set("srcChain", strconv.FormatUint(p.SrcChainID, 10))
	q.Set("dstChain", strconv.FormatUint(p.DstChainID, 10))
	q.Set("srcTokenAddress", p.SrcTokenAddress)
	q.Set("dstTokenAddress", p.DstTokenAddress)
	q.Set("amount", p.Amount)
	q.Set("walletAddress", p.WalletAddress)
	q.Set("enableEstimate", strconv.FormatBool(p.EnableEstimate))

	var quote Quote
	if err := c.do(ctx, EndpointQuote, http.MethodGet, pathQuote, q, nil, &quote); err != nil {
		return nil, err
	}
	if quote.SrcChainID == 0 {
		quote.SrcChainID = p.SrcChainID
	}
	if quote.DstChainID == 0 {
		quote.DstChainID = p.DstChainID
	}
	return &quote, nil
}

// BuildOrder turns a quote and hash-lock into an order ready to sign.
func (c *Client) BuildOrder(ctx context.Context, req *BuildOrderRequest) (*PreparedOrder, error) {
	var order PreparedOrder
	if err := c.do(ctx, EndpointBuild, http.MethodPost, pathBuild, nil, req, &order); err != nil {
		return nil, err
	}
	if order.OrderHash == "" {
		return nil, fmt.Errorf("relayer %s: response has no order hash", EndpointBuild)
	}
	if len(order.Order) == 0 || string(order.Order) == "null" {
		// the order struct travels as the EIP-712 message
		if order.TypedData.Message == nil {
			return nil, fmt.Errorf("relayer %s: response has neither order nor typed data", EndpointBuild)
		}
		msg, err := json.Marshal(order.TypedData.Message)
		if err != nil {
			return nil, fmt.Errorf("relayer %s: encode order: %w", EndpointBuild, err)
		}
		order.Order = msg
	}
	if order.QuoteID == "" && req.Quote != nil {
		order.QuoteID = req.Quote.QuoteID
	}
	return &order, nil
}

// SubmitOrder announces a signed order.
func (c *Client) SubmitOrder(ctx context.Context, req *SubmitOrderRequest) error {
	return c.do(ctx, EndpointSubmit, http.MethodPost, pathSubmit, nil, req, nil)
}

// GetReadyToAcceptSecretFills lists fills waiting for a secret.
func (c *Client) GetReadyToAcceptSecretFills(ctx context.Context, orderHash string) (*ReadyToAcceptSecretFills, error) {
	var fills ReadyToAcceptSecretFills
	path := pathReadyFills + url.PathEscape(orderHash)
	if err := c.do(ctx, EndpointReadyFills, http.MethodGet, path, nil, nil, &fills); err != nil {
		return nil, err
	}
	return &fills, nil
}

// SubmitSecret reveals the secret for one fill.
func (c *Client) SubmitSecret(ctx context.Context, orderHash, secret string) error {
	req := &SubmitSecretRequest{Secret: secret, OrderHash: orderHash}
	return c.do(ctx, EndpointSubmitSecret, http.MethodPost, pathSubmitSecret, nil, req, nil)
}

// GetOrderStatus fetches the current relayer view of an order.
func (c *Client) GetOrderStatus(ctx context.Context, orderHash string) (*OrderStatusResponse, error) {
	var status OrderStatusResponse
	path := pathStatus + url.PathEscape(orderHash)
	if err := c.do(ctx, EndpointStatus, http.MethodGet, path, nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// do sends one logical request, retrying 429 responses with exponential back-off.
func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values, body, result interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode %s request: %w", endpoint, err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		c.limiter.Take()

		status, respBody, err := c.roundTrip(ctx, endpoint, method, u, payload)
		if err != nil {
			return err
		}

		if status == http.StatusTooManyRequests && attempt < c.maxRetries {
			wait := c.backoff << attempt
			c.log.Warn("Rate limited, backing off", "endpoint", endpoint, "attempt", attempt+1, "wait", wait)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}

		if status < 200 || status >= 300 {
			return &APIError{Endpoint: endpoint, StatusCode: status, Body: respBody}
		}

		if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
			}
		}
		return nil
	}
}

// roundTrip performs a single HTTP exchange inside the circuit breaker. Only
// transport errors and 5xx responses count as breaker failures.
func (c *Client) roundTrip(ctx context.Context, endpoint, method, u string, payload []byte) (int, []byte, error) {
	var (
		status   int
		respBody []byte
	)
	start := time.Now()

	_, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.authKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.authKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		respBody, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return nil, err
		}
		if status >= 500 {
			return nil, fmt.Errorf("status %d", status)
		}
		return nil, nil
	})

	metrics.ObserveRelayerRequest(endpoint, status, time.Since(start))

	switch {
	case err == nil:
		return status, respBody, nil
	case status >= 500:
		return status, respBody, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return 0, nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, endpoint, err)
	default:
		c.log.Debug("Request failed", "endpoint", endpoint, "error", err)
		return 0, nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, endpoint, err)
	}
}
