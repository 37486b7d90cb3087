package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tradeBridge/internal/domain"
	"tradeBridge/internal/ports"
)

// State is a step of the order state machine shared by placement and closing.
type State string

const (
	StateResolving           State = "Resolving"
	StateSubmitted           State = "Submitted"
	StateRequoteRetry        State = "RequoteRetry"
	StateInvalidRequestRetry State = "InvalidRequestRetry"
	StateDone                State = "Done"
	StateRejected            State = "Rejected"
)

// Config holds the retry policy constants.
type Config struct {
	Deviation          int           // Deviation of a first placement attempt, in points
	RequoteDeviation   int           // Deviation used for the single requote resubmission
	CloseMaxAttempts   int           // Attempts for a position close
	CloseDeviationStep int           // Added to Deviation for every further close attempt
	CloseRetryDelay    time.Duration // Pause before a close retry
}

// DefaultConfig returns the terminal-proven retry policy.
func DefaultConfig() Config {
	return Config{
		Deviation:          20,
		RequoteDeviation:   50,
		CloseMaxAttempts:   3,
		CloseDeviationStep: 10,
		CloseRetryDelay:    500 * time.Millisecond,
	}
}

// Report is everything one operation did: the final result, each submission and the
// state transitions, so callers can audit the flow.
type Report struct {
	OperationID string
	Operation   domain.Operation
	Result      *domain.OrderResult
	Attempts    []domain.Attempt
	States      []State
}

func (r *Report) enter(s State) {
	r.States = append(r.States, s)
}

// Count returns how many times the report passed through s.
func (r *Report) Count(s State) int {
	n := 0
	for _, st := range r.States {
		if st == s {
			n++
		}
	}
	return n
}

// Executor submits orders and closes positions through a TradeGateway.
// It holds no mutable state; every call is independent and safe for concurrent use.
type Executor struct {
	gateway  ports.TradeGateway
	recorder ports.AttemptRecorder
	logger   ports.Logger
	cfg      Config
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	newID    func() string
}

// Option customizes an Executor.
type Option func(*Executor)

// WithRecorder sends every attempt to r in addition to the returned Report.
func WithRecorder(r ports.AttemptRecorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithConfig overrides the retry policy. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(e *Executor) {
		def := DefaultConfig()
		if cfg.Deviation <= 0 {
			cfg.Deviation = def.Deviation
		}
		if cfg.RequoteDeviation <= 0 {
			cfg.RequoteDeviation = def.RequoteDeviation
		}
		if cfg.CloseMaxAttempts <= 0 {
			cfg.CloseMaxAttempts = def.CloseMaxAttempts
		}
		if cfg.CloseDeviationStep < 0 {
			cfg.CloseDeviationStep = def.CloseDeviationStep
		}
		if cfg.CloseRetryDelay < 0 {
			cfg.CloseRetryDelay = def.CloseRetryDelay
		}
		e.cfg = cfg
	}
}

// WithSleeper replaces the retry wait, mostly for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// NewExecutor creates an executor bound to one gateway session.
func NewExecutor(gateway ports.TradeGateway, logger ports.Logger, opts ...Option) (*Executor, error) {
	if gateway == nil || logger == nil {
		return nil, fmt.Errorf("%w: executor requires a gateway and a logger", ports.ErrConfigurationError)
	}
	e := &Executor{
		gateway: gateway,
		logger:  logger,
		cfg:     DefaultConfig(),
		sleep:   sleepContext,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the retry policy in effect.
func (e *Executor) Config() Config {
	return e.cfg
}

func (e *Executor) newReport(op domain.Operation) *Report {
	return &Report{OperationID: e.newID(), Operation: op}
}

// submit sends req once and records the attempt. It returns the terminal result, or the
// last-error pair when the terminal produced no result (taken from a *ports.NoResultError
// when the gateway attached one, otherwise from LastError). Any other gateway error is returned
// as-is for the caller to propagate.
func (e *Executor) submit(ctx context.Context, report *Report, req domain.OrderRequest) (*domain.OrderResult, *ports.TerminalError, error) {
	report.enter(StateSubmitted)
	attempt := domain.Attempt{
		OperationID: report.OperationID,
		Operation:   report.Operation,
		Number:      len(report.Attempts) + 1,
		Request:     req,
		CreatedAt:   e.now().UTC(),
	}

	result, err := e.gateway.SubmitOrder(ctx, req)
	var lastErr *ports.TerminalError
	switch {
	case err == nil && result == nil:
		err = fmt.Errorf("%w: gateway returned neither result nor error", ports.ErrTransport)
		attempt.ErrorMessage = err.Error()
	case errors.Is(err, ports.ErrNoResult):
		var nr *ports.NoResultError
		if errors.As(err, &nr) {
			lastErr = &nr.Last
		} else {
			le := e.gateway.LastError(ctx)
			lastErr = &le
		}
		attempt.ErrorCode = lastErr.Code
		attempt.ErrorMessage = lastErr.Message
		err = nil
	case err != nil:
		attempt.ErrorMessage = err.Error()
	default:
		attempt.Result = result
	}

	e.record(ctx, &attempt)
	report.Attempts = append(report.Attempts, attempt)

	fields := map[string]interface{}{
		"operationID": report.OperationID,
		"operation":   string(report.Operation),
		"attempt":     attempt.Number,
		"symbol":      req.Symbol,
		"side":        string(req.Side),
		"volume":      req.Volume,
		"price":       req.Price,
		"deviation":   req.DeviationPoints,
		"filling":     req.FillingMode.String(),
		"retcode":     attempt.Retcode(),
	}
	if req.IsClose() {
		fields["ticket"] = req.PositionTicket
	}
	if err != nil {
		e.logger.Error(ctx, err, "Order submission failed", fields)
	} else {
		e.logger.Info(ctx, "Order submitted", fields)
	}
	return result, lastErr, err
}

func (e *Executor) record(ctx context.Context, attempt *domain.Attempt) {
	if e.recorder == nil {
		return
	}
	id, err := e.recorder.RecordAttempt(ctx, attempt)
	if err != nil {
		e.logger.Warn(ctx, "Failed to journal order attempt", map[string]interface{}{
			"operationID": attempt.OperationID,
			"attempt":     attempt.Number,
			"error":       err.Error(),
		})
		return
	}
	attempt.ID = id
}

// gatewayError wraps a non-taxonomy gateway failure as a transport error.
func gatewayError(op string, err error) error {
	for _, known := range []error{
		ports.ErrNotConnected, ports.ErrSymbolNotFound, ports.ErrPriceUnavailable,
		ports.ErrPositionNotFound, ports.ErrTransport, ports.ErrSessionLost,
		ports.ErrContextCanceled, ports.ErrTimeout,
	} {
		if errors.Is(err, known) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w: %w", op, ports.ErrContextCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, ports.ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ports.ErrTransport, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ports.ErrContextCanceled, ctx.Err())
	case <-timer.C:
		return nil
	}
}
