package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jpillora/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeBridge/internal/domain"
	"tradeBridge/internal/execution"
	"tradeBridge/internal/ports"
)

// Mock implementations
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

type mockGateway struct {
	connected    bool
	connectErr   error
	connectErrs  []error // Consumed one per Connect before connectErr applies
	connectCalls int
	account      *domain.AccountInfo
	spec         *domain.SymbolSpec
	tick         *domain.Tick
	positions    []domain.Position
	results      []*domain.OrderResult
	submitted    []domain.OrderRequest
}

func (m *mockGateway) Name() string    { return "mock" }
func (m *mockGateway) Connected() bool { return m.connected }

func (m *mockGateway) Connect(ctx context.Context, creds domain.Credentials) (*domain.AccountInfo, error) {
	m.connectCalls++
	if len(m.connectErrs) > 0 {
		err := m.connectErrs[0]
		m.connectErrs = m.connectErrs[1:]
		return nil, err
	}
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	m.connected = true
	return m.account, nil
}

func (m *mockGateway) Disconnect(ctx context.Context) error {
	m.connected = false
	return nil
}

func (m *mockGateway) ListSymbols(ctx context.Context) ([]string, error) {
	return []string{"EURUSD", "GBPUSD"}, nil
}

func (m *mockGateway) GetSymbolSpec(ctx context.Context, symbol string) (*domain.SymbolSpec, error) {
	if m.spec == nil || m.spec.Name != symbol {
		return nil, fmt.Errorf("%w: %s", ports.ErrSymbolNotFound, symbol)
	}
	spec := *m.spec
	return &spec, nil
}

func (m *mockGateway) GetTick(ctx context.Context, symbol string) (*domain.Tick, error) {
	if m.tick == nil {
		return nil, ports.ErrPriceUnavailable
	}
	tick := *m.tick
	return &tick, nil
}

func (m *mockGateway) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	m.submitted = append(m.submitted, req)
	if len(m.results) == 0 {
		return nil, errors.New("no scripted result")
	}
	r := m.results[0]
	m.results = m.results[1:]
	return r, nil
}

func (m *mockGateway) LastError(ctx context.Context) ports.TerminalError { return ports.TerminalError{} }

func (m *mockGateway) GetPosition(ctx context.Context, ticket int64) (*domain.Position, error) {
	for i := range m.positions {
		if m.positions[i].Ticket == ticket {
			p := m.positions[i]
			return &p, nil
		}
	}
	return nil, ports.ErrPositionNotFound
}

func (m *mockGateway) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return m.positions, nil
}

type mockJournal struct {
	byOperation map[string][]*domain.Attempt
	recent      []*domain.Attempt
	lastLimit   int
}

func (m *mockJournal) RecordAttempt(ctx context.Context, a *domain.Attempt) (int64, error) {
	m.recent = append(m.recent, a)
	return int64(len(m.recent)), nil
}

func (m *mockJournal) FindByOperation(ctx context.Context, operationID string) ([]*domain.Attempt, error) {
	attempts, ok := m.byOperation[operationID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return attempts, nil
}

func (m *mockJournal) FindRecent(ctx context.Context, limit int) ([]*domain.Attempt, error) {
	m.lastLimit = limit
	return m.recent, nil
}

func newTestGateway() *mockGateway {
	return &mockGateway{
		account: &domain.AccountInfo{Login: 42, Server: "Demo", Currency: "USD", Balance: 1000, TradeAllowed: true},
		spec: &domain.SymbolSpec{
			Name: "EURUSD", Point: 0.00001, Digits: 5, MinVolume: 0.01, MaxVolume: 100, VolumeStep: 0.01,
			MinStopDistance: 10, FillingModeBits: 1, Tradable: true, TradeMode: 4,
		},
		tick: &domain.Tick{Symbol: "EURUSD", Bid: 1.08500, Ask: 1.08512},
	}
}

func newTestService(t *testing.T, gw *mockGateway, journal ports.AttemptJournal) (*BridgeService, *mockLogger) {
	t.Helper()
	logger := &mockLogger{}
	opts := []execution.Option{}
	if journal != nil {
		opts = append(opts, execution.WithRecorder(journal))
	}
	exec, err := execution.NewExecutor(gw, logger, opts...)
	require.NoError(t, err)
	svc, err := NewBridgeService(gw, exec, journal, logger)
	require.NoError(t, err)
	return svc, logger
}

func TestNewBridgeService_RequiresDependencies(t *testing.T) {
	_, err := NewBridgeService(nil, nil, nil, &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestConnect(t *testing.T) {
	gw := newTestGateway()
	svc, _ := newTestService(t, gw, nil)
	ctx := context.Background()

	_, err := svc.Connect(ctx, domain.Credentials{Server: "Demo"})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
	assert.False(t, gw.connected)

	account, err := svc.Connect(ctx, domain.Credentials{Server: "Demo", Login: 42, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), account.Login)

	h := svc.Health(ctx)
	assert.True(t, h.Connected)
	require.NotNil(t, h.Account)
	assert.Equal(t, 1000.0, h.Account.Balance)

	require.NoError(t, svc.Disconnect(ctx))
	h = svc.Health(ctx)
	assert.False(t, h.Connected)
	assert.Nil(t, h.Account)
	assert.Equal(t, "running", h.Status)
	assert.Equal(t, "mock", h.Backend)
}

func TestConnect_BackendFailure(t *testing.T) {
	gw := newTestGateway()
	gw.connectErr = ports.ErrAutoTradingDisabled
	svc, _ := newTestService(t, gw, nil)

	_, err := svc.Connect(context.Background(), domain.Credentials{Server: "Demo", Login: 42, Password: "pw"})
	assert.ErrorIs(t, err, ports.ErrAutoTradingDisabled)
	assert.Nil(t, svc.Health(context.Background()).Account)
}

func TestHealth_HidesAccountWhileDisconnected(t *testing.T) {
	gw := newTestGateway()
	svc, _ := newTestService(t, gw, nil)
	_, err := svc.Connect(context.Background(), domain.Credentials{Server: "Demo", Login: 42, Password: "pw"})
	require.NoError(t, err)

	gw.connected = false
	assert.Nil(t, svc.Health(context.Background()).Account)

	// Reporting health leaves the service state alone.
	gw.connected = true
	h := svc.Health(context.Background())
	require.NotNil(t, h.Account)
	assert.Equal(t, int64(42), h.Account.Login)
}

func TestPrice(t *testing.T) {
	gw := newTestGateway()
	svc, _ := newTestService(t, gw, nil)

	q, err := svc.Price(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 1.08500, q.Bid)
	assert.Equal(t, 1.08512, q.Ask)
	assert.Equal(t, 12.0, q.Spread)

	_, err = svc.Price(context.Background(), "XXX")
	assert.ErrorIs(t, err, ports.ErrSymbolNotFound)

	_, err = svc.Price(context.Background(), "")
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestSymbolsAndInfo(t *testing.T) {
	gw := newTestGateway()
	svc, _ := newTestService(t, gw, nil)

	symbols, err := svc.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, symbols)

	spec, err := svc.SymbolInfo(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 5, spec.Digits)
}

func TestPlaceOrder(t *testing.T) {
	gw := newTestGateway()
	gw.results = []*domain.OrderResult{{Retcode: domain.RetcodeDone, OrderID: 7, Volume: 0.1, Price: 1.08512}}
	journal := &mockJournal{}
	svc, logger := newTestService(t, gw, journal)

	report, err := svc.PlaceOrder(context.Background(), OrderCommand{
		Symbol: " EURUSD ", Side: "buy", Volume: 0.1, SLDistance: 0.001, TPDistance: 0.002, Comment: "api", Magic: 3,
	})
	require.NoError(t, err)
	assert.True(t, report.Result.Accepted)
	assert.Equal(t, int64(7), report.Result.OrderID)
	assert.Contains(t, logger.infoMsgs, "Placing order")

	require.Len(t, gw.submitted, 1)
	req := gw.submitted[0]
	assert.Equal(t, "EURUSD", req.Symbol)
	assert.Equal(t, domain.Buy, req.Side)
	assert.Equal(t, int64(3), req.Magic)
	assert.InDelta(t, 1.08412, req.StopLoss, 1e-9)
	assert.Len(t, journal.recent, 1)
}

func TestPlaceOrder_RejectsBadCommands(t *testing.T) {
	tests := []struct {
		name string
		cmd  OrderCommand
		want error
	}{
		{"bad side", OrderCommand{Symbol: "EURUSD", Side: "hold", Volume: 0.1}, ports.ErrInvalidSide},
		{"no symbol", OrderCommand{Side: "buy", Volume: 0.1}, ports.ErrInvalidRequest},
		{"negative stop", OrderCommand{Symbol: "EURUSD", Side: "sell", Volume: 1, SLDistance: -1}, ports.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newTestGateway()
			svc, _ := newTestService(t, gw, nil)
			_, err := svc.PlaceOrder(context.Background(), tt.cmd)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, gw.submitted)
		})
	}
}

func TestPlaceOrder_VolumeBelowMinimumTradesMinimum(t *testing.T) {
	for _, volume := range []float64{0, -1, 0.001} {
		gw := newTestGateway()
		gw.results = []*domain.OrderResult{{Retcode: domain.RetcodeDone, OrderID: 8, Volume: 0.01, Price: 1.08512}}
		svc, _ := newTestService(t, gw, nil)

		_, err := svc.PlaceOrder(context.Background(), OrderCommand{Symbol: "EURUSD", Side: "buy", Volume: volume})
		require.NoError(t, err, "volume %v", volume)
		require.Len(t, gw.submitted, 1)
		assert.InDelta(t, 0.01, gw.submitted[0].Volume, 1e-9, "volume %v", volume)
	}
}

func TestPlaceOrder_Rejection(t *testing.T) {
	gw := newTestGateway()
	gw.results = []*domain.OrderResult{{Retcode: domain.RetcodeNoMoney}}
	svc, _ := newTestService(t, gw, nil)

	_, err := svc.PlaceOrder(context.Background(), OrderCommand{Symbol: "EURUSD", Side: "sell", Volume: 0.1})
	assert.ErrorIs(t, err, ports.ErrOrderRejected)
	assert.Equal(t, domain.RetcodeNoMoney, ports.CodeOf(err))
}

func TestClosePosition(t *testing.T) {
	gw := newTestGateway()
	gw.positions = []domain.Position{{Ticket: 11, Symbol: "EURUSD", Side: domain.Sell, Volume: 0.3, Profit: -4.5}}
	gw.results = []*domain.OrderResult{{Retcode: domain.RetcodeDone, OrderID: 12, Volume: 0.1, Price: 1.08512}}
	svc, _ := newTestService(t, gw, nil)

	_, err := svc.ClosePosition(context.Background(), CloseCommand{})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	report, err := svc.ClosePosition(context.Background(), CloseCommand{Ticket: 11, Volume: 0.1})
	require.NoError(t, err)
	assert.Equal(t, -4.5, report.Result.Profit)
	require.Len(t, gw.submitted, 1)
	assert.Equal(t, domain.Buy, gw.submitted[0].Side)
	assert.InDelta(t, 0.1, gw.submitted[0].Volume, 1e-9)

	_, err = svc.ClosePosition(context.Background(), CloseCommand{Ticket: 99})
	assert.ErrorIs(t, err, ports.ErrPositionNotFound)
}

func TestAttempts(t *testing.T) {
	gw := newTestGateway()
	svc, _ := newTestService(t, gw, nil)
	_, err := svc.Attempts(context.Background(), "", 10)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	journal := &mockJournal{byOperation: map[string][]*domain.Attempt{"op-1": {{OperationID: "op-1", Number: 1}}}}
	svc, _ = newTestService(t, gw, journal)
	attempts, err := svc.Attempts(context.Background(), "op-1", 0)
	require.NoError(t, err)
	require.Len(t, attempts, 1)

	_, err = svc.Attempts(context.Background(), "", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, journal.lastLimit)
	assert.True(t, svc.Health(context.Background()).Journal)
}

func TestConnectWithRetry(t *testing.T) {
	fast := func() *backoff.Backoff { return &backoff.Backoff{Min: time.Millisecond, Max: time.Millisecond} }
	creds := domain.Credentials{Server: "Demo", Login: 42, Password: "pw"}

	t.Run("transient failures are retried", func(t *testing.T) {
		gw := newTestGateway()
		gw.connectErrs = []error{ports.ErrTransport, fmt.Errorf("dial: %w", ports.ErrTimeout)}
		svc, logger := newTestService(t, gw, nil)

		account, err := svc.ConnectWithRetry(context.Background(), creds, 5, fast())
		require.NoError(t, err)
		assert.Equal(t, int64(42), account.Login)
		assert.Equal(t, 3, gw.connectCalls)
		assert.Len(t, logger.warnMsgs, 2)
	})

	t.Run("auth failure is final", func(t *testing.T) {
		gw := newTestGateway()
		gw.connectErrs = []error{ports.ErrAuthenticationFailed}
		svc, _ := newTestService(t, gw, nil)

		_, err := svc.ConnectWithRetry(context.Background(), creds, 5, fast())
		assert.ErrorIs(t, err, ports.ErrAuthenticationFailed)
		assert.Equal(t, 1, gw.connectCalls)
	})

	t.Run("gives up after the attempt budget", func(t *testing.T) {
		gw := newTestGateway()
		gw.connectErrs = []error{ports.ErrTransport, ports.ErrTransport, ports.ErrTransport}
		svc, _ := newTestService(t, gw, nil)

		_, err := svc.ConnectWithRetry(context.Background(), creds, 2, fast())
		assert.ErrorIs(t, err, ports.ErrTransport)
		assert.Equal(t, 2, gw.connectCalls)
	})

	t.Run("canceled while waiting", func(t *testing.T) {
		gw := newTestGateway()
		gw.connectErrs = []error{ports.ErrTransport, ports.ErrTransport}
		svc, _ := newTestService(t, gw, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := svc.ConnectWithRetry(ctx, creds, 3, &backoff.Backoff{Min: time.Hour, Max: time.Hour})
		assert.ErrorIs(t, err, ports.ErrContextCanceled)
	})
}
