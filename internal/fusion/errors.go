package fusion

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnavailable covers transport failures and an open circuit breaker.
	ErrUnavailable = errors.New("relayer unavailable")
)

// APIError is a non-2xx relayer response.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       []byte
}

// upstream error document
type apiErrorBody struct {
	StatusCode  int    `json:"statusCode"`
	Error       string `json:"error"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func (e *APIError) Error() string {
	msg := e.Description()
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("relayer %s: status %d: %s", e.Endpoint, e.StatusCode, msg)
}

// Description extracts the human readable message from the body.
func (e *APIError) Description() string {
	var b apiErrorBody
	if err := json.Unmarshal(e.Body, &b); err != nil {
		return strings.TrimSpace(string(e.Body))
	}
	switch {
	case b.Description != "":
		return b.Description
	case b.Message != "":
		return b.Message
	default:
		return b.Error
	}
}

// Details returns the body as decoded JSON when possible, else as a string.
func (e *APIError) Details() interface{} {
	if len(e.Body) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(e.Body, &v); err != nil {
		return string(e.Body)
	}
	return v
}

// AsAPIError unwraps err to an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsSecretAlreadyAccepted reports whether a secret submission failed only
// because the relayer already holds that secret.
func IsSecretAlreadyAccepted(err error) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	if apiErr.StatusCode == http.StatusConflict {
		return true
	}
	return apiErr.StatusCode == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(apiErr.Description()), "already")
}
