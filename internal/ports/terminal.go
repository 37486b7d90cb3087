package ports

import (
	"context"

	"tradeBridge/internal/domain"
)

// TradeGateway is the narrow contract the order core consumes.
// Implementations must serialize calls on one logical session; the core issues one request at a time.
type TradeGateway interface {
	// GetSymbolSpec returns a fresh snapshot of the symbol's metadata.
	// Returns ErrSymbolNotFound when the terminal does not know the symbol.
	GetSymbolSpec(ctx context.Context, symbol string) (*domain.SymbolSpec, error)

	// GetTick returns the latest quote. Returns ErrPriceUnavailable when no quote exists.
	GetTick(ctx context.Context, symbol string) (*domain.Tick, error)

	// SubmitOrder sends one order. A returned rejection is a result with a non-done retcode;
	// ErrNoResult means the terminal produced nothing and LastError holds the cause.
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error)

	// LastError returns the terminal's last-error code and message.
	LastError(ctx context.Context) TerminalError

	// GetPosition returns the open position for ticket, or ErrPositionNotFound.
	GetPosition(ctx context.Context, ticket int64) (*domain.Position, error)

	// GetPositions returns all open positions.
	GetPositions(ctx context.Context) ([]domain.Position, error)
}

// Terminal is a full gateway backend: the trade contract plus session lifecycle and listings.
type Terminal interface {
	TradeGateway

	// Name identifies the backend (e.g., "paper", "bridge", "binance").
	Name() string

	// Connect logs into the terminal and returns the account it is attached to.
	Connect(ctx context.Context, creds domain.Credentials) (*domain.AccountInfo, error)

	// Disconnect releases the terminal session.
	Disconnect(ctx context.Context) error

	// ListSymbols returns the names of all symbols the terminal offers.
	ListSymbols(ctx context.Context) ([]string, error)
}
