package ports

import (
	"errors"
	"fmt"
	"strings"
)

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Execution Errors
	ErrInvalidOrderRequest = errors.New("invalid order request")
	ErrOrderNotFound       = errors.New("order not found")
	ErrPositionNotFound    = errors.New("position not found")
	ErrIllegalCancel       = errors.New("order cannot be canceled in its current state")
	ErrIllegalTransition   = errors.New("illegal order status transition")
	ErrDuplicateOrder      = errors.New("order already exists")
	ErrEngineClosed        = errors.New("execution engine is closed")
	ErrRiskLimitBreached   = errors.New("order breaches a risk limit")

	// ErrLedgerConsistency signals a serialization bug in the position ledger.
	// It is raised as a panic payload and never returned to callers.
	ErrLedgerConsistency = errors.New("ledger consistency violated")

	// Market Data Errors
	ErrPriceUnavailable     = errors.New("reference price unavailable")
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)

// FieldError names one offending field of an order request.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every field-level problem found in an order request.
// It unwraps to ErrInvalidOrderRequest.
type ValidationError struct {
	Fields []FieldError
}

// Add records a problem with a field.
func (e *ValidationError) Add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// HasErrors reports whether any field failed validation.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// FieldNames returns the offending field names in the order they were found.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return names
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return fmt.Sprintf("%s: %s", ErrInvalidOrderRequest, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidOrderRequest
}

// LedgerConsistencyError describes a broken ledger invariant for one symbol.
type LedgerConsistencyError struct {
	Symbol string
	Reason string
}

func (e *LedgerConsistencyError) Error() string {
	return fmt.Sprintf("%s for %s: %s", ErrLedgerConsistency, e.Symbol, e.Reason)
}

func (e *LedgerConsistencyError) Unwrap() error {
	return ErrLedgerConsistency
}
