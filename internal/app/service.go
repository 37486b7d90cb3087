package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"tradeBridge/internal/domain"
	"tradeBridge/internal/execution"
	"tradeBridge/internal/ports"
)

// Gateway is the session the service drives: a full terminal plus its connection state.
type Gateway interface {
	ports.Terminal
	Connected() bool
}

// OrderCommand is a caller's request to open a position. Side is free text ("buy", "SELL").
// Distances are in price units.
type OrderCommand struct {
	Symbol     string
	Side       string
	Volume     float64
	SLDistance float64
	TPDistance float64
	Comment    string
	Magic      int64
}

// CloseCommand identifies a position to close. Zero Volume closes it fully.
type CloseCommand struct {
	Ticket int64
	Volume float64
	Symbol string
}

// Quote is the current price of a symbol with its spread in points.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Spread float64
	Time   time.Time
}

// Health summarises the bridge for monitoring.
type Health struct {
	Status    string
	Backend   string
	Connected bool
	Account   *domain.AccountInfo
	Journal   bool
	Time      time.Time
}

// BridgeService is the entry point transports call. It owns no trading state: each
// operation fetches what it needs through the gateway and delegates execution to the core.
type BridgeService struct {
	gateway  Gateway
	executor *execution.Executor
	journal  ports.AttemptJournal // Optional
	logger   ports.Logger

	mu      sync.Mutex // Protects account
	account *domain.AccountInfo
}

// NewBridgeService creates the service. journal may be nil when journaling is disabled.
func NewBridgeService(gateway Gateway, executor *execution.Executor, journal ports.AttemptJournal, logger ports.Logger) (*BridgeService, error) {
	if gateway == nil || executor == nil || logger == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for BridgeService", ports.ErrConfigurationError)
	}
	return &BridgeService{gateway: gateway, executor: executor, journal: journal, logger: logger}, nil
}

// Connect logs into the terminal.
func (s *BridgeService) Connect(ctx context.Context, creds domain.Credentials) (*domain.AccountInfo, error) {
	if creds.Server == "" || creds.Login == 0 || creds.Password == "" {
		return nil, fmt.Errorf("%w: server, login and password are required", ports.ErrInvalidRequest)
	}
	account, err := s.gateway.Connect(ctx, creds)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.account = account
	s.mu.Unlock()
	return account, nil
}

// ConnectWithRetry keeps calling Connect with exponential backoff while the failure looks
// transient. Bad credentials and a terminal refusing automated trading end it at once.
func (s *BridgeService) ConnectWithRetry(ctx context.Context, creds domain.Credentials, attempts int, b *backoff.Backoff) (*domain.AccountInfo, error) {
	if b == nil {
		b = &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		account, err := s.Connect(ctx, creds)
		if err == nil {
			return account, nil
		}
		lastErr = err
		if !retryableConnectError(err) || i == attempts {
			break
		}
		wait := b.Duration()
		s.logger.Warn(ctx, "Terminal connection failed, retrying", map[string]interface{}{
			"attempt": i, "maxAttempts": attempts, "retryIn": wait.String(), "error": err.Error(),
		})
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ports.ErrContextCanceled, ctx.Err())
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func retryableConnectError(err error) bool {
	return errors.Is(err, ports.ErrTransport) ||
		errors.Is(err, ports.ErrSessionLost) ||
		errors.Is(err, ports.ErrTimeout)
}

func (s *BridgeService) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.account = nil
	s.mu.Unlock()
	return s.gateway.Disconnect(ctx)
}

func (s *BridgeService) Symbols(ctx context.Context) ([]string, error) {
	return s.gateway.ListSymbols(ctx)
}

func (s *BridgeService) SymbolInfo(ctx context.Context, symbol string) (*domain.SymbolSpec, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ports.ErrInvalidRequest)
	}
	return s.gateway.GetSymbolSpec(ctx, symbol)
}

// Price returns bid, ask and the spread in points of the symbol.
func (s *BridgeService) Price(ctx context.Context, symbol string) (*Quote, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ports.ErrInvalidRequest)
	}
	spec, err := s.gateway.GetSymbolSpec(ctx, symbol)
	if err != nil {
		return nil, err
	}
	tick, err := s.gateway.GetTick(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &Quote{
		Symbol: symbol,
		Bid:    tick.Bid,
		Ask:    tick.Ask,
		Spread: spreadPoints(*tick, spec.Point),
		Time:   tick.Time,
	}, nil
}

func spreadPoints(t domain.Tick, point float64) float64 {
	if point <= 0 {
		return 0
	}
	spread := decimal.NewFromFloat(t.Ask).Sub(decimal.NewFromFloat(t.Bid)).Div(decimal.NewFromFloat(point))
	return spread.Round(1).InexactFloat64()
}

func (s *BridgeService) Positions(ctx context.Context) ([]domain.Position, error) {
	return s.gateway.GetPositions(ctx)
}

// PlaceOrder opens a market position. The volume is fitted to the symbol's grid, so a
// volume below the minimum, zero included, trades the minimum.
func (s *BridgeService) PlaceOrder(ctx context.Context, cmd OrderCommand) (*execution.Report, error) {
	side, err := execution.ParseSide(cmd.Side)
	if err != nil {
		return nil, err
	}
	symbol := strings.TrimSpace(cmd.Symbol)
	switch {
	case symbol == "":
		return nil, fmt.Errorf("%w: symbol is required", ports.ErrInvalidRequest)
	case cmd.SLDistance < 0 || cmd.TPDistance < 0:
		return nil, fmt.Errorf("%w: stop distances must not be negative", ports.ErrInvalidRequest)
	}

	s.logger.Info(ctx, "Placing order", map[string]interface{}{
		"symbol": symbol, "side": string(side), "volume": cmd.Volume, "sl": cmd.SLDistance, "tp": cmd.TPDistance, "magic": cmd.Magic,
	})
	return s.executor.PlaceOrder(ctx, execution.PlacementParams{
		Symbol:     symbol,
		Side:       side,
		Volume:     cmd.Volume,
		SLDistance: cmd.SLDistance,
		TPDistance: cmd.TPDistance,
		Comment:    cmd.Comment,
		Magic:      cmd.Magic,
	})
}

// ClosePosition closes all or part of an open position.
func (s *BridgeService) ClosePosition(ctx context.Context, cmd CloseCommand) (*execution.Report, error) {
	if cmd.Ticket <= 0 {
		return nil, fmt.Errorf("%w: ticket is required", ports.ErrInvalidRequest)
	}
	if cmd.Volume < 0 {
		return nil, fmt.Errorf("%w: volume must not be negative", ports.ErrInvalidRequest)
	}
	s.logger.Info(ctx, "Closing position", map[string]interface{}{"ticket": cmd.Ticket, "volume": cmd.Volume, "symbol": cmd.Symbol})
	return s.executor.ClosePosition(ctx, execution.CloseParams{Ticket: cmd.Ticket, Volume: cmd.Volume, Symbol: cmd.Symbol})
}

// Health never fails; a disconnected terminal is reported, not returned as an error.
func (s *BridgeService) Health(ctx context.Context) Health {
	h := Health{
		Status:    "running",
		Backend:   s.gateway.Name(),
		Connected: s.gateway.Connected(),
		Journal:   s.journal != nil,
		Time:      time.Now().UTC(),
	}
	if !h.Connected {
		return h
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account != nil {
		acc := *s.account
		h.Account = &acc
	}
	return h
}

// Attempts returns the journaled attempts of one operation, or the most recent ones when
// operationID is empty.
func (s *BridgeService) Attempts(ctx context.Context, operationID string, limit int) ([]*domain.Attempt, error) {
	if s.journal == nil {
		return nil, fmt.Errorf("%w: attempt journal is disabled", ports.ErrNotFound)
	}
	if operationID != "" {
		return s.journal.FindByOperation(ctx, operationID)
	}
	return s.journal.FindRecent(ctx, limit)
}
