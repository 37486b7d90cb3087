package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeBridge/internal/domain"
	"tradeBridge/internal/ports"
)

func newTestExecutor(t *testing.T, gw *mockGateway, opts ...Option) (*Executor, *mockLogger) {
	t.Helper()
	logger := &mockLogger{}
	exec, err := NewExecutor(gw, logger, opts...)
	require.NoError(t, err)
	return exec, logger
}

func buyParams() PlacementParams {
	return PlacementParams{Symbol: "EURUSD", Side: domain.Buy, Volume: 0.015, SLDistance: 0.0005, TPDistance: 0.0005, Comment: "test"}
}

func TestNewExecutor_RequiresDependencies(t *testing.T) {
	_, err := NewExecutor(nil, &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = NewExecutor(&mockGateway{}, nil)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestWithConfig_FillsDefaults(t *testing.T) {
	exec, _ := newTestExecutor(t, &mockGateway{}, WithConfig(Config{RequoteDeviation: 80}))
	cfg := exec.Config()
	assert.Equal(t, 20, cfg.Deviation)
	assert.Equal(t, 80, cfg.RequoteDeviation)
	assert.Equal(t, 3, cfg.CloseMaxAttempts)
}

func TestPlaceOrder_DoneOnFirstAttempt(t *testing.T) {
	gw := &mockGateway{spec: eurusdSpec(), ticks: []domain.Tick{eurusdTick()}, outcomes: []submitOutcome{done(1.2002, 0.02)}}
	rec := &mockRecorder{}
	exec, _ := newTestExecutor(t, gw, WithRecorder(rec))

	report, err := exec.PlaceOrder(context.Background(), buyParams())
	require.NoError(t, err)
	require.NotNil(t, report.Result)

	assert.True(t, report.Result.Accepted)
	assert.Equal(t, int64(1001), report.Result.OrderID)
	assert.InDelta(t, 1.1902, report.Result.StopLoss, 1e-9)
	assert.InDelta(t, 1.2102, report.Result.TakeProfit, 1e-9)
	assert.Equal(t, "test", report.Result.Comment)
	assert.Equal(t, []State{StateResolving, StateSubmitted, StateDone}, report.States)

	require.Len(t, gw.submitted, 1)
	assert.Equal(t, 20, gw.submitted[0].DeviationPoints)
	assert.InDelta(t, 0.02, gw.submitted[0].Volume, 1e-9)

	require.Len(t, rec.attempts, 1)
	assert.Equal(t, report.OperationID, rec.attempts[0].OperationID)
	assert.Equal(t, domain.OperationPlace, rec.attempts[0].Operation)
	assert.Equal(t, int64(1), report.Attempts[0].ID)
}

func TestPlaceOrder_RequoteRetriedOnceWithWiderDeviation(t *testing.T) {
	gw := &mockGateway{
		spec:  eurusdSpec(),
		ticks: []domain.Tick{eurusdTick()},
		outcomes: []submitOutcome{
			noResult(domain.RetcodeRequote, "Requote"),
			done(1.2003, 0.02),
		},
	}
	exec, logger := newTestExecutor(t, gw)

	report, err := exec.PlaceOrder(context.Background(), buyParams())
	require.NoError(t, err)

	assert.True(t, report.Result.Accepted)
	assert.InDelta(t, 1.2003, report.Result.Price, 1e-9)
	require.Len(t, gw.submitted, 2)
	assert.Equal(t, 20, gw.submitted[0].DeviationPoints)
	assert.Equal(t, 50, gw.submitted[1].DeviationPoints)
	assert.Equal(t, gw.submitted[0].Price, gw.submitted[1].Price)
	assert.Equal(t, 1, report.Count(StateRequoteRetry))
	assert.Equal(t, StateDone, report.States[len(report.States)-1])
	assert.Equal(t, domain.RetcodeRequote, report.Attempts[0].ErrorCode)
	assert.Len(t, logger.warnMsgs, 1)
}

func TestPlaceOrder_InvalidPriceLastErrorAlsoRetries(t *testing.T) {
	gw := &mockGateway{
		spec:     eurusdSpec(),
		ticks:    []domain.Tick{eurusdTick()},
		outcomes: []submitOutcome{noResult(domain.RetcodeInvalid, "Invalid price"), done(1.2002, 0.02)},
	}
	exec, _ := newTestExecutor(t, gw)

	report, err := exec.PlaceOrder(context.Background(), buyParams())
	require.NoError(t, err)
	assert.True(t, report.Result.Accepted)
	assert.Len(t, gw.submitted, 2)
}

func TestPlaceOrder_RepeatedRequoteRetriedOnlyOnce(t *testing.T) {
	gw := &mockGateway{
		spec:  eurusdSpec(),
		ticks: []domain.Tick{eurusdTick()},
		outcomes: []submitOutcome{
			noResult(domain.RetcodeRequote, "Requote"),
			noResult(domain.RetcodeRequote, "Requote"),
			done(1.2002, 0.02),
		},
	}
	exec, _ := newTestExecutor(t, gw)

	report, err := exec.PlaceOrder(context.Background(), buyParams())
	require.Error(t, err)

	var rej *ports.RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, domain.RetcodeRequote, rej.Code)
	assert.Equal(t, "Requote", rej.Reason)
	assert.ErrorIs(t, err, ports.ErrOrderRejected)
	assert.Len(t, gw.submitted, 2)
	assert.Equal(t, 1, report.Count(StateRequoteRetry))
	assert.Equal(t, StateRejected, report.States[len(report.States)-1])
	assert.Nil(t, report.Result)
}

func TestPlaceOrder_NonRequoteLastErrorIsFinal(t *testing.T) {
	gw := &mockGateway{
		spec:     eurusdSpec(),
		ticks:    []domain.Tick{eurusdTick()},
		outcomes: []submitOutcome{noResult(10027, "AutoTrading disabled by client")},
	}
	exec, _ := newTestExecutor(t, gw)

	_, err := exec.PlaceOrder(context.Background(), buyParams())
	var rej *ports.RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, 10027, rej.Code)
	assert.Equal(t, "AutoTrading disabled by client", rej.Reason)
	assert.Len(t, gw.submitted, 1)
}

func TestPlaceOrder_NonDoneRetcodeRejectedWithoutRetry(t *testing.T) {
	tests := []struct {
		code   int
		reason string
	}{
		{domain.RetcodeInvalidParams, "Invalid parameters"},
		{domain.RetcodeMarketClosed, "Market closed"},
		{domain.RetcodeNoMoney, "Insufficient funds"},
		{domain.RetcodeInvalidRequest, "Invalid request (check volume, symbol, or market status)"},
		{domain.RetcodeInvalidStops, "Invalid SL/TP"},
		{10006, "Error 10006"},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			gw := &mockGateway{spec: eurusdSpec(), ticks: []domain.Tick{eurusdTick()}, outcomes: []submitOutcome{retcode(tt.code)}}
			exec, _ := newTestExecutor(t, gw)

			report, err := exec.PlaceOrder(context.Background(), buyParams())
			var rej *ports.RejectionError
			require.True(t, errors.As(err, &rej))
			assert.Equal(t, tt.code, rej.Code)
			assert.Equal(t, tt.reason, rej.Reason)
			assert.Len(t, gw.submitted, 1)
			assert.Zero(t, report.Count(StateRequoteRetry))
		})
	}
}

func TestPlaceOrder_GatewayFailures(t *testing.T) {
	t.Run("symbol not found", func(t *testing.T) {
		gw := &mockGateway{specErr: ports.ErrSymbolNotFound}
		exec, _ := newTestExecutor(t, gw)
		report, err := exec.PlaceOrder(context.Background(), buyParams())
		assert.ErrorIs(t, err, ports.ErrSymbolNotFound)
		assert.Equal(t, []State{StateResolving, StateRejected}, report.States)
	})

	t.Run("price unavailable", func(t *testing.T) {
		gw := &mockGateway{spec: eurusdSpec(), tickErr: ports.ErrPriceUnavailable}
		exec, _ := newTestExecutor(t, gw)
		_, err := exec.PlaceOrder(context.Background(), buyParams())
		assert.ErrorIs(t, err, ports.ErrPriceUnavailable)
	})

	t.Run("unknown gateway error becomes transport", func(t *testing.T) {
		gw := &mockGateway{specErr: errors.New("pipe closed")}
		exec, _ := newTestExecutor(t, gw)
		_, err := exec.PlaceOrder(context.Background(), buyParams())
		assert.ErrorIs(t, err, ports.ErrTransport)
	})

	t.Run("deadline becomes timeout", func(t *testing.T) {
		gw := &mockGateway{spec: eurusdSpec(), ticks: []domain.Tick{eurusdTick()}, outcomes: []submitOutcome{{err: context.DeadlineExceeded}}}
		exec, logger := newTestExecutor(t, gw)
		_, err := exec.PlaceOrder(context.Background(), buyParams())
		assert.ErrorIs(t, err, ports.ErrTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Len(t, logger.errorMsgs, 1)
	})

	t.Run("invalid side is not submitted", func(t *testing.T) {
		gw := &mockGateway{spec: eurusdSpec(), ticks: []domain.Tick{eurusdTick()}}
		exec, _ := newTestExecutor(t, gw)
		p := buyParams()
		p.Side = "HOLD"
		_, err := exec.PlaceOrder(context.Background(), p)
		assert.ErrorIs(t, err, ports.ErrInvalidSide)
		assert.Empty(t, gw.submitted)
	})
}

func TestPlaceOrder_ReportsOnlyStopsTheBackendSet(t *testing.T) {
	gw := &mockGateway{spec: eurusdSpec(), ticks: []domain.Tick{eurusdTick()}, outcomes: []submitOutcome{done(1.2002, 0.02)}, dropStops: true}
	exec, _ := newTestExecutor(t, gw)

	report, err := exec.PlaceOrder(context.Background(), buyParams())
	require.NoError(t, err)
	require.Len(t, gw.submitted, 1)
	assert.InDelta(t, 1.1902, gw.submitted[0].StopLoss, 1e-9)
	assert.InDelta(t, 1.2102, gw.submitted[0].TakeProfit, 1e-9)
	assert.Zero(t, report.Result.StopLoss)
	assert.Zero(t, report.Result.TakeProfit)
}

func TestPlaceOrder_JournalFailureDoesNotFailOrder(t *testing.T) {
	gw := &mockGateway{spec: eurusdSpec(), ticks: []domain.Tick{eurusdTick()}, outcomes: []submitOutcome{done(1.2002, 0.02)}}
	exec, logger := newTestExecutor(t, gw, WithRecorder(&mockRecorder{err: errors.New("disk full")}))

	report, err := exec.PlaceOrder(context.Background(), buyParams())
	require.NoError(t, err)
	assert.True(t, report.Result.Accepted)
	assert.Zero(t, report.Attempts[0].ID)
	assert.Contains(t, logger.warnMsgs, "Failed to journal order attempt")
}

func TestExecute_UsesRequestAsGiven(t *testing.T) {
	gw := &mockGateway{outcomes: []submitOutcome{done(1.1, 1)}}
	exec, _ := newTestExecutor(t, gw)

	req := domain.OrderRequest{Symbol: "EURUSD", Side: domain.Sell, Volume: 1, Price: 1.1, DeviationPoints: 7, FillingMode: domain.FillingFOK}
	report, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, report.Result.Accepted)
	require.Len(t, gw.submitted, 1)
	assert.Equal(t, req, gw.submitted[0])
}

func TestPlaceOrder_PrefersLastErrorAttachedToSubmission(t *testing.T) {
	gw := &mockGateway{
		spec:  eurusdSpec(),
		ticks: []domain.Tick{eurusdTick()},
		outcomes: []submitOutcome{
			{
				err:     &ports.NoResultError{Last: ports.TerminalError{Code: domain.RetcodeRequote, Message: "Requote"}},
				lastErr: ports.TerminalError{Code: domain.RetcodeMarketClosed, Message: "stale"},
			},
			done(1.2002, 0.02),
		},
	}
	exec, _ := newTestExecutor(t, gw)

	report, err := exec.PlaceOrder(context.Background(), buyParams())
	require.NoError(t, err)
	assert.True(t, report.Result.Accepted)
	assert.Equal(t, 1, report.Count(StateRequoteRetry))
}
