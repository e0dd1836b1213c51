package swap

import (
	"context"
	"fmt"
	"strings"

	"github.com/klingon-exchange/klingon-fusion/internal/fusion"
)

// StatusReport is a read-only view of an order.
type StatusReport struct {
	OrderHash  string                      `json:"orderHash"`
	Status     fusion.OrderStatus          `json:"status"`
	Details    *fusion.OrderStatusResponse `json:"details"`
	ReadyFills []int                       `json:"readyFills"`
}

// CheckStatus queries the relayer for an order's status and the fills ready
// for a secret. It never submits secrets.
func CheckStatus(ctx context.Context, relayer StatusReader, orderHash string) (*StatusReport, error) {
	orderHash = strings.TrimSpace(orderHash)
	if orderHash == "" {
		return nil, fmt.Errorf("%w: orderHash", ErrMissingParameter)
	}

	resp, err := relayer.GetOrderStatus(ctx, orderHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStatusQuery, err)
	}

	report := &StatusReport{
		OrderHash:  orderHash,
		Status:     resp.Status,
		Details:    resp,
		ReadyFills: []int{},
	}
	if resp.Status.IsTerminal() {
		return report, nil
	}

	ready, err := relayer.GetReadyToAcceptSecretFills(ctx, orderHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStatusQuery, err)
	}
	if idx := ready.Indices(); len(idx) > 0 {
		report.ReadyFills = idx
	}
	return report, nil
}
