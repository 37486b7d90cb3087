// Package paper is an in-memory terminal. It fills market orders at the current quote,
// nets positions per ticket, and answers like a real terminal: requotes when the price moved
// beyond the allowed deviation, volume and market-state rejections, and scripted outcomes
// queued with Inject for exercising the retry paths.
package paper

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradeBridge/internal/domain"
	"tradeBridge/internal/ports"
)

const (
	firstTicket = 100000

	retcodeInvalidVolume  = 10014
	retcodePositionClosed = 10036
)

// Outcome is a scripted terminal answer consumed by the next SubmitOrder.
// A zero Retcode means "no result" with LastError set to Last.
type Outcome struct {
	Retcode int
	Last    ports.TerminalError
}

type symbolState struct {
	spec         domain.SymbolSpec
	contractSize float64
	tick         domain.Tick
}

// Terminal is the simulated backend. It is safe for concurrent use.
type Terminal struct {
	mu        sync.Mutex
	logger    ports.Logger
	account   AccountEntry
	symbols   map[string]*symbolState
	positions map[int64]*domain.Position
	scripted  []Outcome
	lastErr   ports.TerminalError
	nextID    int64
	now       func() time.Time
}

var _ ports.Terminal = (*Terminal)(nil)

// New builds a terminal from a catalogue. A nil catalogue uses DefaultCatalogue.
func New(cat *Catalogue, logger ports.Logger) (*Terminal, error) {
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required for paper terminal", ports.ErrConfigurationError)
	}
	if cat == nil {
		cat = DefaultCatalogue()
	}
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrConfigurationError, err)
	}

	t := &Terminal{
		logger:    logger,
		account:   cat.Account,
		symbols:   make(map[string]*symbolState, len(cat.Symbols)),
		positions: make(map[int64]*domain.Position),
		nextID:    firstTicket,
		now:       time.Now,
	}
	for _, e := range cat.Symbols {
		size := e.ContractSize
		if size <= 0 {
			size = 1
		}
		t.symbols[e.Name] = &symbolState{
			spec:         e.Spec(),
			contractSize: size,
			tick:         domain.Tick{Symbol: e.Name, Bid: e.Bid, Ask: e.Ask},
		}
	}
	return t, nil
}

func (t *Terminal) Name() string { return "paper" }

// Connect accepts any non-empty credentials.
func (t *Terminal) Connect(ctx context.Context, creds domain.Credentials) (*domain.AccountInfo, error) {
	if creds.Server == "" || creds.Login == 0 || creds.Password == "" {
		return nil, fmt.Errorf("%w: server, login and password are required", ports.ErrAuthenticationFailed)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	allowed := t.account.TradeAllowed == nil || *t.account.TradeAllowed
	return &domain.AccountInfo{
		Login:        creds.Login,
		Server:       creds.Server,
		Currency:     t.account.Currency,
		Balance:      t.account.Balance,
		TradeAllowed: allowed,
	}, nil
}

func (t *Terminal) Disconnect(ctx context.Context) error { return nil }

func (t *Terminal) ListSymbols(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.symbols))
	for name := range t.symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (t *Terminal) GetSymbolSpec(ctx context.Context, symbol string) (*domain.SymbolSpec, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrSymbolNotFound, symbol)
	}
	spec := st.spec
	if spec.Point > 0 {
		spec.Spread = int(math.Round(st.tick.SpreadPoints(spec.Point)))
	}
	return &spec, nil
}

func (t *Terminal) GetTick(ctx context.Context, symbol string) (*domain.Tick, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrSymbolNotFound, symbol)
	}
	if st.tick.Bid <= 0 || st.tick.Ask <= 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrPriceUnavailable, symbol)
	}
	tick := st.tick
	tick.Time = t.now()
	return &tick, nil
}

// SetQuote moves the market for a symbol.
func (t *Terminal) SetQuote(symbol string, bid, ask float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.symbols[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrSymbolNotFound, symbol)
	}
	st.tick.Bid, st.tick.Ask = bid, ask
	return nil
}

// SetTradeMode changes a symbol's trade mode; 0 disables trading.
func (t *Terminal) SetTradeMode(symbol string, mode int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.symbols[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrSymbolNotFound, symbol)
	}
	st.spec.TradeMode = mode
	st.spec.Tradable = mode != 0
	return nil
}

// Inject queues scripted outcomes answered before any simulated execution.
func (t *Terminal) Inject(outcomes ...Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scripted = append(t.scripted, outcomes...)
}

func (t *Terminal) LastError(ctx context.Context) ports.TerminalError {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

func (t *Terminal) noResult(code int, msg string) error {
	t.lastErr = ports.TerminalError{Code: code, Message: msg}
	return ports.ErrNoResult
}

func (t *Terminal) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.scripted) > 0 {
		out := t.scripted[0]
		t.scripted = t.scripted[1:]
		if out.Retcode == 0 {
			return nil, t.noResult(out.Last.Code, out.Last.Message)
		}
		return &domain.OrderResult{Retcode: out.Retcode, Comment: "scripted"}, nil
	}

	st, ok := t.symbols[req.Symbol]
	if !ok {
		return nil, t.noResult(-2, "Invalid \"symbol\" argument")
	}
	if !st.spec.Tradable {
		return &domain.OrderResult{Retcode: domain.RetcodeMarketClosed}, nil
	}
	if !req.Side.IsValid() {
		return nil, t.noResult(-2, "Invalid \"type\" argument")
	}
	if !onGrid(st.spec, req.Volume) {
		return &domain.OrderResult{Retcode: retcodeInvalidVolume}, nil
	}

	fill := st.tick.Ask
	if req.Side == domain.Sell {
		fill = st.tick.Bid
	}
	if slipped(req.Price, fill, req.DeviationPoints, st.spec.Point) {
		return nil, t.noResult(domain.RetcodeRequote, "Requote")
	}

	if req.IsClose() {
		return t.closeDeal(st, req, fill), nil
	}
	return t.openDeal(st, req, fill), nil
}

func (t *Terminal) openDeal(st *symbolState, req domain.OrderRequest, fill float64) *domain.OrderResult {
	if !stopsValid(st.spec, req, fill) {
		return &domain.OrderResult{Retcode: domain.RetcodeInvalidStops}
	}
	t.nextID++
	ticket := t.nextID
	t.positions[ticket] = &domain.Position{
		Ticket:       ticket,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Volume:       req.Volume,
		OpenPrice:    fill,
		CurrentPrice: fill,
		Magic:        req.Magic,
		Comment:      req.Comment,
	}
	t.logger.Debug(context.Background(), "Paper position opened", map[string]interface{}{
		"ticket": ticket, "symbol": req.Symbol, "side": string(req.Side), "volume": req.Volume, "price": fill,
	})
	return &domain.OrderResult{
		Retcode:    domain.RetcodeDone,
		OrderID:    ticket,
		DealID:     ticket,
		Volume:     req.Volume,
		Price:      fill,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Comment:    req.Comment,
	}
}

func (t *Terminal) closeDeal(st *symbolState, req domain.OrderRequest, fill float64) *domain.OrderResult {
	pos, ok := t.positions[req.PositionTicket]
	if !ok || pos.Symbol != req.Symbol {
		return &domain.OrderResult{Retcode: retcodePositionClosed}
	}
	if req.Side != pos.Side.Opposite() {
		return &domain.OrderResult{Retcode: domain.RetcodeInvalidRequest}
	}
	remaining := decimal.NewFromFloat(pos.Volume).Sub(decimal.NewFromFloat(req.Volume))
	if remaining.IsNegative() {
		return &domain.OrderResult{Retcode: retcodeInvalidVolume}
	}

	profit := t.profit(st, pos.Side, pos.OpenPrice, fill, req.Volume)
	t.account.Balance += profit
	if remaining.IsZero() {
		delete(t.positions, pos.Ticket)
	} else {
		pos.Volume = remaining.InexactFloat64()
	}

	t.nextID++
	t.logger.Debug(context.Background(), "Paper position closed", map[string]interface{}{
		"ticket": req.PositionTicket, "volume": req.Volume, "price": fill, "profit": profit,
	})
	return &domain.OrderResult{
		Retcode: domain.RetcodeDone,
		OrderID: t.nextID,
		DealID:  t.nextID,
		Volume:  req.Volume,
		Price:   fill,
		Comment: req.Comment,
	}
}

func (t *Terminal) GetPosition(ctx context.Context, ticket int64) (*domain.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[ticket]
	if !ok {
		return nil, fmt.Errorf("%w: ticket %d", ports.ErrPositionNotFound, ticket)
	}
	p := t.mark(pos)
	return &p, nil
}

func (t *Terminal) GetPositions(ctx context.Context) ([]domain.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	positions := make([]domain.Position, 0, len(t.positions))
	for _, pos := range t.positions {
		positions = append(positions, t.mark(pos))
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Ticket < positions[j].Ticket })
	return positions, nil
}

// mark returns a copy of pos valued at the current quote.
func (t *Terminal) mark(pos *domain.Position) domain.Position {
	p := *pos
	st := t.symbols[p.Symbol]
	p.CurrentPrice = st.tick.Bid
	if p.Side == domain.Sell {
		p.CurrentPrice = st.tick.Ask
	}
	p.Profit = t.profit(st, p.Side, p.OpenPrice, p.CurrentPrice, p.Volume)
	return p
}

func (t *Terminal) profit(st *symbolState, side domain.OrderSide, open, current, volume float64) float64 {
	diff := decimal.NewFromFloat(current).Sub(decimal.NewFromFloat(open))
	if side == domain.Sell {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromFloat(volume)).Mul(decimal.NewFromFloat(st.contractSize)).Round(2).InexactFloat64()
}

func onGrid(spec domain.SymbolSpec, volume float64) bool {
	if volume < spec.MinVolume || volume > spec.MaxVolume {
		return false
	}
	steps := decimal.NewFromFloat(volume).Div(decimal.NewFromFloat(spec.VolumeStep))
	return steps.Equal(steps.Round(0))
}

// slipped reports whether the market moved further from the requested price than deviation allows.
// A zero requested price means "at market".
func slipped(requested, fill float64, deviation int, point float64) bool {
	if requested == 0 {
		return false
	}
	gap := decimal.NewFromFloat(fill).Sub(decimal.NewFromFloat(requested)).Abs()
	allowed := decimal.NewFromInt(int64(deviation)).Mul(decimal.NewFromFloat(point))
	return gap.GreaterThan(allowed)
}

func stopsValid(spec domain.SymbolSpec, req domain.OrderRequest, fill float64) bool {
	minGap := float64(spec.MinStopDistance) * spec.Point
	check := func(level float64, below bool) bool {
		if level == 0 {
			return true
		}
		if below {
			return fill-level >= minGap-spec.Point/2
		}
		return level-fill >= minGap-spec.Point/2
	}
	if req.Side == domain.Buy {
		return check(req.StopLoss, true) && check(req.TakeProfit, false)
	}
	return check(req.StopLoss, false) && check(req.TakeProfit, true)
}
