package domain

import "time"

// Operation names the core flow that produced an attempt.
type Operation string

const (
	OperationPlace Operation = "place"
	OperationClose Operation = "close"
)

// Attempt records one submission to the terminal and its outcome, for audit.
type Attempt struct {
	ID           int64        // Unique identifier (usually from DB)
	OperationID  string       // Shared by all attempts of one PlaceOrder/ClosePosition call
	Operation    Operation    // place or close
	Number       int          // 1-based attempt number within the operation
	Request      OrderRequest // Exactly what was sent
	Result       *OrderResult // Nil when the terminal returned no result
	ErrorCode    int          // Terminal last-error code when Result is nil
	ErrorMessage string       // Terminal last-error message, or the transport error
	CreatedAt    time.Time
}

// Succeeded reports whether the terminal accepted the attempt.
func (a Attempt) Succeeded() bool {
	return a.Result != nil && a.Result.Retcode == RetcodeDone
}

// Retcode returns the code that decided the attempt: the result retcode or the last-error code.
func (a Attempt) Retcode() int {
	if a.Result != nil {
		return a.Result.Retcode
	}
	return a.ErrorCode
}
