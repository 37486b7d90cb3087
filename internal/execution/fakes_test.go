package execution

import (
	"context"
	"time"

	"tradeBridge/internal/domain"
	"tradeBridge/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

// submitOutcome scripts one SubmitOrder response.
type submitOutcome struct {
	result  *domain.OrderResult
	err     error
	lastErr ports.TerminalError // Served by LastError when err is ErrNoResult
}

func done(price, volume float64) submitOutcome {
	return submitOutcome{result: &domain.OrderResult{Retcode: domain.RetcodeDone, OrderID: 1001, DealID: 2001, Price: price, Volume: volume}}
}

func retcode(code int) submitOutcome {
	return submitOutcome{result: &domain.OrderResult{Retcode: code}}
}

func noResult(code int, msg string) submitOutcome {
	return submitOutcome{err: ports.ErrNoResult, lastErr: ports.TerminalError{Code: code, Message: msg}}
}

// mockGateway scripts the terminal. Submissions are answered from outcomes in order;
// ticks are served from ticks in order, repeating the last one.
type mockGateway struct {
	spec        *domain.SymbolSpec
	specErr     error
	ticks       []domain.Tick
	tickErr     error
	position    *domain.Position
	positionErr error

	outcomes  []submitOutcome
	submitted []domain.OrderRequest
	tickCalls int
	lastErr   ports.TerminalError
	dropStops bool // Done results leave the stops unset
}

func (m *mockGateway) GetSymbolSpec(ctx context.Context, symbol string) (*domain.SymbolSpec, error) {
	if m.specErr != nil {
		return nil, m.specErr
	}
	spec := *m.spec
	return &spec, nil
}

func (m *mockGateway) GetTick(ctx context.Context, symbol string) (*domain.Tick, error) {
	if m.tickErr != nil {
		return nil, m.tickErr
	}
	i := m.tickCalls
	if i >= len(m.ticks) {
		i = len(m.ticks) - 1
	}
	m.tickCalls++
	tick := m.ticks[i]
	return &tick, nil
}

func (m *mockGateway) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	m.submitted = append(m.submitted, req)
	if len(m.outcomes) == 0 {
		return nil, ports.ErrTransport
	}
	out := m.outcomes[0]
	m.outcomes = m.outcomes[1:]
	if out.err != nil {
		m.lastErr = out.lastErr
		return nil, out.err
	}
	res := *out.result
	if res.Retcode == domain.RetcodeDone && !req.IsClose() && !m.dropStops {
		res.StopLoss, res.TakeProfit = req.StopLoss, req.TakeProfit
	}
	return &res, nil
}

func (m *mockGateway) LastError(ctx context.Context) ports.TerminalError {
	return m.lastErr
}

func (m *mockGateway) GetPosition(ctx context.Context, ticket int64) (*domain.Position, error) {
	if m.positionErr != nil {
		return nil, m.positionErr
	}
	if m.position == nil || m.position.Ticket != ticket {
		return nil, ports.ErrPositionNotFound
	}
	pos := *m.position
	return &pos, nil
}

func (m *mockGateway) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if m.position == nil {
		return nil, nil
	}
	return []domain.Position{*m.position}, nil
}

// mockRecorder collects journaled attempts.
type mockRecorder struct {
	attempts []domain.Attempt
	err      error
}

func (m *mockRecorder) RecordAttempt(ctx context.Context, attempt *domain.Attempt) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.attempts = append(m.attempts, *attempt)
	return int64(len(m.attempts)), nil
}

// sleepRecorder replaces the retry wait.
type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func eurusdSpec() *domain.SymbolSpec {
	return &domain.SymbolSpec{
		Name:            "EURUSD",
		Point:           0.0001,
		Digits:          4,
		MinVolume:       0.01,
		MaxVolume:       10,
		VolumeStep:      0.01,
		MinStopDistance: 100,
		FillingModeBits: 1,
		Tradable:        true,
		TradeMode:       4,
	}
}

func eurusdTick() domain.Tick {
	return domain.Tick{Symbol: "EURUSD", Bid: 1.2000, Ask: 1.2002, Time: time.Unix(1700000000, 0)}
}
