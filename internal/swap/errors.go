package swap

import "errors"

// Stage errors. Each is wrapped with the underlying cause, so callers match
// with errors.Is and extract relayer details with fusion.AsAPIError.
var (
	ErrMissingParameter      = errors.New("missing parameter")
	ErrInvalidRequest        = errors.New("invalid swap request")
	ErrWalletMismatch        = errors.New("wallet address does not match signer")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity for swap")
	ErrQuote                 = errors.New("failed to get quote")
	ErrOrderCreation         = errors.New("failed to create order")
	ErrJournal               = errors.New("failed to journal swap")
	ErrOrderSubmission       = errors.New("failed to submit order")
	ErrSecretSubmission      = errors.New("failed to submit secret")
	ErrStatusQuery           = errors.New("failed to query order status")
	ErrPollTimeout           = errors.New("order did not reach a final status in time")
)
