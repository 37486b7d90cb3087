package ports

import (
	"context"

	"tradeBridge/internal/domain"
)

// AttemptRecorder receives every submission the core makes, for audit.
type AttemptRecorder interface {
	// RecordAttempt stores an attempt and returns its assigned ID.
	RecordAttempt(ctx context.Context, attempt *domain.Attempt) (int64, error)
}

// AttemptJournal stores and retrieves audited submissions.
type AttemptJournal interface {
	AttemptRecorder
	// FindByOperation retrieves all attempts of one operation, in attempt order.
	FindByOperation(ctx context.Context, operationID string) ([]*domain.Attempt, error)
	// FindRecent retrieves the most recent attempts, newest first, up to a limit.
	FindRecent(ctx context.Context, limit int) ([]*domain.Attempt, error)
}
