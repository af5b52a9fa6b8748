package contracts

import (
	"errors"
	"fmt"

	"github.com/wonny/optchain/pkg/ratelimit"
)

// Error taxonomy shared by all runners
var (
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrDiscoveryFailed    = errors.New("discovery failed")
	ErrSubscriptionFailed = errors.New("subscription failed")
	ErrTimeout            = errors.New("timeout")
	ErrWrite              = errors.New("write error")
	ErrSchemaViolation    = errors.New("schema violation")
	ErrQAFail             = errors.New("qa failed")
	ErrNoBook             = errors.New("no book on exchange")
	ErrExhausted          = ratelimit.ErrExhausted
)

// IsRetriable reports whether err is a transient gateway condition
func IsRetriable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) || errors.Is(err, ErrTimeout)
}

// SchemaViolation describes one rejected field on one row
type SchemaViolation struct {
	ContractID int64   `json:"contract_id"`
	Field      string  `json:"field"`
	Value      float64 `json:"value"`
	Reason     string  `json:"reason"`
}

func (v SchemaViolation) Error() string {
	return fmt.Sprintf("contract %d: %s=%v %s", v.ContractID, v.Field, v.Value, v.Reason)
}

// Unwrap lets errors.Is(v, ErrSchemaViolation) match
func (v SchemaViolation) Unwrap() error {
	return ErrSchemaViolation
}

// RowError is a per-symbol or per-contract failure recorded in run results
type RowError struct {
	Symbol     string `json:"symbol,omitempty"`
	ContractID int64  `json:"contract_id,omitempty"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

func (e RowError) Error() string {
	if e.ContractID != 0 {
		return fmt.Sprintf("%s %d: %s: %s", e.Symbol, e.ContractID, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Symbol, e.Kind, e.Message)
}

// NewRowError classifies err into a RowError
func NewRowError(symbol string, contractID int64, err error) RowError {
	return RowError{
		Symbol:     symbol,
		ContractID: contractID,
		Kind:       ErrorKind(err),
		Message:    err.Error(),
	}
}

// ErrorKind maps an error to its taxonomy name
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrGatewayUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, ErrDiscoveryFailed):
		return "discovery_failed"
	case errors.Is(err, ErrSubscriptionFailed):
		return ErrorTypeSubscriptionFailed
	case errors.Is(err, ErrNoBook):
		return ErrorTypeNoBook
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrWrite):
		return "write_error"
	case errors.Is(err, ErrSchemaViolation):
		return "schema_violation"
	case errors.Is(err, ErrExhausted):
		return "rate_limited"
	default:
		return ErrorTypeFetchError
	}
}
