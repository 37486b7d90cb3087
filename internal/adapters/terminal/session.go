package terminal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradeBridge/internal/domain"
	"tradeBridge/internal/ports"
)

// Session owns the single logical connection to a terminal backend.
// Every backend call runs under one mutex, so at most one request is in flight.
// The connected state lives here rather than in a process-wide flag: it is set by Connect
// and cleared by Disconnect or by any call that reports ports.ErrSessionLost.
type Session struct {
	mu        sync.Mutex
	backend   ports.Terminal
	logger    ports.Logger
	connected bool
	account   *domain.AccountInfo
	since     time.Time
	lastErr   ports.TerminalError
}

// Status is a snapshot of the session for health reporting.
type Status struct {
	Backend   string
	Connected bool
	Account   *domain.AccountInfo
	Since     time.Time
}

var _ ports.Terminal = (*Session)(nil)

// NewSession wraps a backend. The session starts disconnected.
func NewSession(backend ports.Terminal, logger ports.Logger) (*Session, error) {
	if backend == nil || logger == nil {
		return nil, fmt.Errorf("%w: session requires a backend and a logger", ports.ErrConfigurationError)
	}
	return &Session{backend: backend, logger: logger}, nil
}

func (s *Session) Name() string {
	return s.backend.Name()
}

// Connect logs in and marks the session connected. Connecting an already connected
// session logs in again with the new credentials. An account that disallows automated
// trading is logged out again and reported as ports.ErrAutoTradingDisabled.
func (s *Session) Connect(ctx context.Context, creds domain.Credentials) (*domain.AccountInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.backend.Connect(ctx, creds)
	if err != nil {
		s.connected = false
		s.account = nil
		s.logger.Error(ctx, err, "Terminal connection failed", map[string]interface{}{
			"backend": s.backend.Name(),
			"server":  creds.Server,
			"login":   creds.Login,
		})
		return nil, err
	}
	if account == nil {
		s.connected = false
		s.account = nil
		_ = s.backend.Disconnect(ctx)
		err := fmt.Errorf("%w: %s backend returned no account", ports.ErrTransport, s.backend.Name())
		s.logger.Error(ctx, err, "Terminal connection failed", map[string]interface{}{"backend": s.backend.Name()})
		return nil, err
	}
	if !account.TradeAllowed {
		_ = s.backend.Disconnect(ctx)
		s.connected = false
		s.account = nil
		s.logger.Warn(ctx, "Terminal refuses automated trading", map[string]interface{}{
			"backend": s.backend.Name(),
			"login":   account.Login,
		})
		return nil, ports.ErrAutoTradingDisabled
	}
	s.connected = true
	s.account = account
	s.since = time.Now()
	s.lastErr = ports.TerminalError{}
	s.logger.Info(ctx, "Terminal connected", map[string]interface{}{
		"backend":  s.backend.Name(),
		"login":    account.Login,
		"server":   account.Server,
		"balance":  account.Balance,
		"currency": account.Currency,
	})
	return account, nil
}

// Disconnect shuts the backend connection down. It is a no-op on a disconnected session.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.connected = false
	s.account = nil
	if err := s.backend.Disconnect(ctx); err != nil {
		s.logger.Warn(ctx, "Terminal disconnect reported an error", map[string]interface{}{"error": err.Error()})
		return err
	}
	s.logger.Info(ctx, "Terminal disconnected", map[string]interface{}{"backend": s.backend.Name()})
	return nil
}

// Connected reports whether the session currently holds a live connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Status returns a snapshot for health reporting.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Backend: s.backend.Name(), Connected: s.connected, Since: s.since}
	if s.account != nil {
		acc := *s.account
		st.Account = &acc
	}
	return st
}

// guard runs fn under the session lock after checking the connection,
// and drops the connection when fn reports it lost.
func (s *Session) guard(ctx context.Context, op string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return fmt.Errorf("%s: %w", op, ports.ErrNotConnected)
	}
	err := fn()
	if errors.Is(err, ports.ErrSessionLost) {
		s.connected = false
		s.account = nil
		s.logger.Warn(ctx, "Terminal session lost", map[string]interface{}{"operation": op, "error": err.Error()})
	}
	return err
}

func (s *Session) ListSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := s.guard(ctx, "list symbols", func() (err error) {
		symbols, err = s.backend.ListSymbols(ctx)
		return err
	})
	return symbols, err
}

func (s *Session) GetSymbolSpec(ctx context.Context, symbol string) (*domain.SymbolSpec, error) {
	var spec *domain.SymbolSpec
	err := s.guard(ctx, "get symbol spec", func() (err error) {
		spec, err = s.backend.GetSymbolSpec(ctx, symbol)
		return err
	})
	return spec, err
}

func (s *Session) GetTick(ctx context.Context, symbol string) (*domain.Tick, error) {
	var tick *domain.Tick
	err := s.guard(ctx, "get tick", func() (err error) {
		tick, err = s.backend.GetTick(ctx, symbol)
		return err
	})
	return tick, err
}

// SubmitOrder sends one request. When the backend produces no result, the backend's last
// error is read before the lock is released and returned as a *ports.NoResultError, so a
// concurrent submission cannot swap it.
func (s *Session) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	var result *domain.OrderResult
	err := s.guard(ctx, "submit order", func() (err error) {
		result, err = s.backend.SubmitOrder(ctx, req)
		if errors.Is(err, ports.ErrNoResult) {
			var nr *ports.NoResultError
			if !errors.As(err, &nr) {
				nr = &ports.NoResultError{Last: s.backend.LastError(ctx)}
			}
			s.lastErr = nr.Last
			return nr
		}
		return err
	})
	return result, err
}

// LastError returns the last error captured by a failing SubmitOrder.
func (s *Session) LastError(ctx context.Context) ports.TerminalError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) GetPosition(ctx context.Context, ticket int64) (*domain.Position, error) {
	var pos *domain.Position
	err := s.guard(ctx, "get position", func() (err error) {
		pos, err = s.backend.GetPosition(ctx, ticket)
		return err
	})
	return pos, err
}

func (s *Session) GetPositions(ctx context.Context) ([]domain.Position, error) {
	var positions []domain.Position
	err := s.guard(ctx, "get positions", func() (err error) {
		positions, err = s.backend.GetPositions(ctx)
		return err
	})
	return positions, err
}
