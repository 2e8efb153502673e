package ports

import (
	"errors"
	"fmt"
	"strings"
)

// Standard application-level errors.
// Adapters and engine components wrap underlying errors with these standard
// errors so callers can branch with errors.Is.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Ledger / Engine Errors
	ErrInsufficientFunds  = errors.New("insufficient free balance in ledger")
	ErrRiskBlocked        = errors.New("trade blocked by risk controller")
	ErrInvariantViolation = errors.New("ledger invariant violated")
	ErrInvalidTransition  = errors.New("invalid position status transition")
	ErrDuplicatePosition  = errors.New("position id already exists")
	ErrPositionNotFound   = errors.New("position not found")
	ErrPriceUnavailable   = errors.New("current price unavailable")
	ErrCloseInProgress    = errors.New("position close already in progress")

	// Exchange Specific Errors
	ErrExchangeUnavailable       = errors.New("exchange API is unavailable")
	ErrConnectionFailed          = errors.New("failed to connect to the exchange")
	ErrRateLimited               = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed      = errors.New("exchange authentication failed (check API keys)")
	ErrExchangeRejected          = errors.New("order rejected by the exchange")
	ErrInsufficientExchangeFunds = errors.New("insufficient balance on the exchange")
	ErrInvalidQuantity           = errors.New("quantity violates exchange filters")
	ErrOrderNotFound             = errors.New("order not found on the exchange")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)

// RiskBlockedError carries the structured reasons a trade was refused so the
// caller can hold rather than retry an identical request.
type RiskBlockedError struct {
	Reasons []string
}

func (e *RiskBlockedError) Error() string {
	return "risk blocked: " + strings.Join(e.Reasons, "; ")
}

// Unwrap lets errors.Is match ErrRiskBlocked.
func (e *RiskBlockedError) Unwrap() error {
	return ErrRiskBlocked
}

// ExchangeError carries the venue's error code and message alongside the
// standard sentinel it maps to.
type ExchangeError struct {
	Code     int
	Message  string
	Sentinel error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is match the mapped sentinel.
func (e *ExchangeError) Unwrap() error {
	if e.Sentinel != nil {
		return e.Sentinel
	}
	return ErrUnknown
}
