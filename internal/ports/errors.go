package ports

import (
	"errors"
	"fmt"
)

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Terminal session errors
	ErrNotConnected         = errors.New("not connected to the terminal")
	ErrSessionLost          = errors.New("terminal session lost")
	ErrAuthenticationFailed = errors.New("terminal login failed")
	ErrAutoTradingDisabled  = errors.New("AutoTrading disabled. Enable 'Algo Trading' in the terminal")
	ErrTransport            = errors.New("terminal transport failure")

	// ErrNoResult is returned by TradeGateway.SubmitOrder when the terminal produced no result.
	// The cause is available from TradeGateway.LastError.
	ErrNoResult = errors.New("terminal returned no result")

	// Order flow errors
	ErrSymbolNotFound   = errors.New("symbol not found")
	ErrNotTradable      = errors.New("symbol not tradable")
	ErrInvalidSide      = errors.New("invalid order side")
	ErrPriceUnavailable = errors.New("no price available")
	ErrPositionNotFound = errors.New("position not found")
	ErrOrderRejected    = errors.New("order rejected")
	ErrCloseFailed      = errors.New("close failed")

	// Journal errors
	ErrNotFound = errors.New("resource not found")
)

// RejectionError is a terminal refusal carrying the terminal code and the mapped reason.
// It matches ErrOrderRejected with errors.Is.
type RejectionError struct {
	Code   int
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order failed: code %d: %s", e.Code, e.Reason)
}

// Is lets errors.Is(err, ErrOrderRejected) match any rejection.
func (e *RejectionError) Is(target error) bool {
	return target == ErrOrderRejected
}

// CloseFailedError means every close attempt hit a retryable rejection.
// It matches ErrCloseFailed with errors.Is.
type CloseFailedError struct {
	Ticket     int64
	Attempts   int
	LastCode   int
	LastReason string
}

func (e *CloseFailedError) Error() string {
	return fmt.Sprintf("close of position %d failed after %d attempts (last: code %d: %s)",
		e.Ticket, e.Attempts, e.LastCode, e.LastReason)
}

// Is lets errors.Is(err, ErrCloseFailed) match any exhausted close.
func (e *CloseFailedError) Is(target error) bool {
	return target == ErrCloseFailed
}

// TerminalError is the terminal's last-error pair.
type TerminalError struct {
	Code    int
	Message string
}

func (e TerminalError) String() string {
	return fmt.Sprintf("Code: %d - %s", e.Code, e.Message)
}

// NoResultError carries the last-error pair captured together with a missing result.
// It matches ErrNoResult with errors.Is.
type NoResultError struct {
	Last TerminalError
}

func (e *NoResultError) Error() string {
	return fmt.Sprintf("%s (%s)", ErrNoResult, e.Last)
}

// Is lets errors.Is(err, ErrNoResult) match.
func (e *NoResultError) Is(target error) bool {
	return target == ErrNoResult
}

// kinds is ordered: the first match wins, so specific kinds come before generic ones.
var kinds = []struct {
	err  error
	name string
}{
	{ErrCloseFailed, "CloseFailed"},
	{ErrOrderRejected, "OrderRejected"},
	{ErrNotConnected, "NotConnected"},
	{ErrSymbolNotFound, "SymbolNotFound"},
	{ErrNotTradable, "NotTradable"},
	{ErrInvalidSide, "InvalidSide"},
	{ErrPriceUnavailable, "PriceUnavailable"},
	{ErrPositionNotFound, "PositionNotFound"},
	{ErrAutoTradingDisabled, "AutoTradingDisabled"},
	{ErrAuthenticationFailed, "AuthenticationFailed"},
	{ErrInvalidRequest, "InvalidRequest"},
	{ErrNotFound, "NotFound"},
	{ErrTimeout, "Timeout"},
	{ErrContextCanceled, "Canceled"},
	{ErrSessionLost, "TransportError"},
	{ErrNoResult, "TransportError"},
	{ErrTransport, "TransportError"},
}

// KindOf names the failure kind of err so callers across a transport can branch on it.
// Unclassified errors are reported as "Internal".
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// CodeOf returns the terminal code carried by err, or 0.
func CodeOf(err error) int {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Code
	}
	var cf *CloseFailedError
	if errors.As(err, &cf) {
		return cf.LastCode
	}
	return 0
}
