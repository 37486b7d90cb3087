package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"tradeBridge/internal/domain"
	"tradeBridge/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	statusTrading = "TRADING"
	quoteAsset    = "USDT"

	// Terminal codes used where the exchange has no equivalent answer.
	retcodeNoConnection = 10031
	retcodeRequote      = domain.RetcodeRequote
)

// Client implements ports.Terminal on Binance USDⓈ-M futures. Market orders stand in for
// terminal deals; the requested deviation is enforced against the book before submitting.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger

	mu      sync.Mutex
	lastErr ports.TerminalError
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	BaseURL    string // Overrides the production/testnet URL when set
	Logger     ports.Logger
}

var _ ports.Terminal = (*Client)(nil)

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for Binance client", ports.ErrConfigurationError)
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL, "testnet": cfg.UseTestnet})

	return &Client{futuresClient: client, logger: cfg.Logger}, nil
}

func (c *Client) Name() string { return "binance" }

// handleError translates Binance API and transport errors into the ports taxonomy.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrTransport
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Bad signature, malformed or rejected API key
			mappedErr = ports.ErrAuthenticationFailed
		case -1121: // Invalid symbol
			mappedErr = ports.ErrSymbolNotFound
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1125, -1127, -1128, -1130:
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrTransport
		}
		c.logger.Error(ctx, err, operation+" failed with API error", fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case isConnectionError(err):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrSessionLost, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTransport, err)
	}
	c.logger.Error(ctx, err, operation+" failed", fields)
	return finalErr
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset by peer")
}

// Connect checks connectivity and reads the futures account. The terminal login is echoed
// back; the exchange authenticates with the configured API keys.
func (c *Client) Connect(ctx context.Context, creds domain.Credentials) (*domain.AccountInfo, error) {
	op := "Connect"
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	info := &domain.AccountInfo{
		Login:        creds.Login,
		Server:       c.futuresClient.BaseURL,
		Currency:     quoteAsset,
		TradeAllowed: account.CanTrade,
	}
	for _, bal := range account.Assets {
		if bal.Asset == quoteAsset {
			info.Balance, _ = strconv.ParseFloat(bal.WalletBalance, 64)
			break
		}
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"balance": info.Balance, "canTrade": info.TradeAllowed})
	return info, nil
}

// Disconnect is a no-op: the REST API holds no session.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.lastErr = ports.TerminalError{}
	c.mu.Unlock()
	return nil
}

func (c *Client) exchangeSymbols(ctx context.Context, op string) ([]futures.Symbol, error) {
	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return info.Symbols, nil
}

func (c *Client) ListSymbols(ctx context.Context) ([]string, error) {
	symbols, err := c.exchangeSymbols(ctx, "ListSymbols")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s.Status == statusTrading {
			names = append(names, s.Symbol)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) GetSymbolSpec(ctx context.Context, symbol string) (*domain.SymbolSpec, error) {
	symbols, err := c.exchangeSymbols(ctx, "GetSymbolSpec")
	if err != nil {
		return nil, err
	}
	for i := range symbols {
		if symbols[i].Symbol == symbol {
			spec, err := translateSymbol(&symbols[i])
			if err != nil {
				return nil, c.handleError(ctx, err, "GetSymbolSpec")
			}
			return spec, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ports.ErrSymbolNotFound, symbol)
}

func (c *Client) GetTick(ctx context.Context, symbol string) (*domain.Tick, error) {
	op := "GetTick"
	tickers, err := c.futuresClient.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	for _, t := range tickers {
		if t.Symbol != symbol {
			continue
		}
		tick, err := translateBookTicker(t)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		tick.Time = time.Now().UTC()
		return tick, nil
	}
	return nil, fmt.Errorf("%w: %s", ports.ErrPriceUnavailable, symbol)
}

func (c *Client) setLastError(code int, msg string) error {
	c.mu.Lock()
	c.lastErr = ports.TerminalError{Code: code, Message: msg}
	c.mu.Unlock()
	return &ports.NoResultError{Last: ports.TerminalError{Code: code, Message: msg}}
}

// SubmitOrder places a market order, followed by the stops of a new position. The fill
// side of the book is checked against req.Price first and a move beyond DeviationPoints
// is reported like a terminal requote.
// Exchange rejections come back as results carrying the equivalent terminal retcode;
// transport failures produce no result.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	op := "SubmitOrder"
	spec, err := c.GetSymbolSpec(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	tick, err := c.GetTick(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	market := tick.Ask
	if req.Side == domain.Sell {
		market = tick.Bid
	}
	if exceedsDeviation(req.Price, market, req.DeviationPoints, spec.Point) {
		c.logger.Warn(ctx, op+": price moved beyond deviation", map[string]interface{}{
			"symbol": req.Symbol, "requested": req.Price, "market": market, "deviation": req.DeviationPoints,
		})
		return nil, c.setLastError(retcodeRequote, "Requote")
	}

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideType(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatQuantity(req.Volume, spec.VolumeStep))
	if req.IsClose() {
		svc = svc.ReduceOnly(true)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		switch {
		case errors.As(err, &apiErr):
			code := retcodeForAPIError(apiErr.Code)
			c.logger.Warn(ctx, op+": order rejected", map[string]interface{}{
				"symbol": req.Symbol, "apiErrorCode": apiErr.Code, "apiErrorMessage": apiErr.Message, "retcode": code,
			})
			return &domain.OrderResult{Retcode: code, Comment: apiErr.Message}, nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, c.handleError(ctx, err, op)
		default:
			c.logger.Error(ctx, err, op+": no answer from exchange", map[string]interface{}{"symbol": req.Symbol})
			return nil, c.setLastError(retcodeNoConnection, err.Error())
		}
	}

	result := translateOrderResponse(order, req)
	if !req.IsClose() && (req.StopLoss != 0 || req.TakeProfit != 0) {
		if rejected := c.protect(ctx, req, spec, result); rejected != nil {
			return rejected, nil
		}
		result.StopLoss, result.TakeProfit = req.StopLoss, req.TakeProfit
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": req.Symbol, "side": string(req.Side), "orderID": result.OrderID, "price": result.Price, "volume": result.Volume,
		"stopLoss": result.StopLoss, "takeProfit": result.TakeProfit,
	})
	return result, nil
}

// protect attaches the request's stops to the freshly opened position as close-position
// STOP_MARKET and TAKE_PROFIT_MARKET orders. When one is refused the entry is unwound and
// an invalid-stops result is returned, so no position is left open without its stops.
func (c *Client) protect(ctx context.Context, req domain.OrderRequest, spec *domain.SymbolSpec, entry *domain.OrderResult) *domain.OrderResult {
	op := "SubmitOrder"
	exit := sideType(req.Side.Opposite())
	stops := []struct {
		kind  futures.OrderType
		price float64
	}{
		{futures.OrderTypeStopMarket, req.StopLoss},
		{futures.OrderTypeTakeProfitMarket, req.TakeProfit},
	}

	var placed []int64
	for _, stop := range stops {
		if stop.price == 0 {
			continue
		}
		order, err := c.futuresClient.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(exit).
			Type(stop.kind).
			StopPrice(formatPrice(stop.price, spec.Digits)).
			ClosePosition(true).
			WorkingType(futures.WorkingTypeMarkPrice).
			Do(ctx)
		if err == nil {
			placed = append(placed, order.OrderID)
			continue
		}

		comment := err.Error()
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			comment = apiErr.Message
		}
		c.logger.Error(ctx, err, op+": protective order refused, unwinding entry", map[string]interface{}{
			"symbol": req.Symbol, "type": string(stop.kind), "stopPrice": stop.price, "entryOrderID": entry.OrderID,
		})
		c.unwind(ctx, req, spec, entry, placed)
		return &domain.OrderResult{
			Retcode: domain.RetcodeInvalidStops,
			OrderID: entry.OrderID,
			Price:   entry.Price,
			Comment: comment,
		}
	}
	return nil
}

// unwind cancels already placed protective orders and closes the entry with a reduce-only
// market order. Failures are logged; the caller reports the submission as rejected either way.
func (c *Client) unwind(ctx context.Context, req domain.OrderRequest, spec *domain.SymbolSpec, entry *domain.OrderResult, placed []int64) {
	op := "SubmitOrder"
	for _, id := range placed {
		if _, err := c.futuresClient.NewCancelOrderService().Symbol(req.Symbol).OrderID(id).Do(ctx); err != nil {
			c.logger.Error(ctx, err, op+": failed to cancel protective order", map[string]interface{}{"symbol": req.Symbol, "orderID": id})
		}
	}
	_, err := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideType(req.Side.Opposite())).
		Type(futures.OrderTypeMarket).
		Quantity(formatQuantity(entry.Volume, spec.VolumeStep)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		c.logger.Error(ctx, err, op+": failed to flatten unprotected entry", map[string]interface{}{
			"symbol": req.Symbol, "volume": entry.Volume, "entryOrderID": entry.OrderID,
		})
	}
}

func (c *Client) LastError(ctx context.Context) ports.TerminalError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	op := "GetPositions"
	risks, err := c.futuresClient.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	positions := make([]domain.Position, 0, len(risks))
	for _, r := range risks {
		if pos, ok := translatePositionRisk(r); ok {
			positions = append(positions, pos)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// GetPosition finds a position by its synthetic ticket (see TicketFor).
func (c *Client) GetPosition(ctx context.Context, ticket int64) (*domain.Position, error) {
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].Ticket == ticket {
			return &positions[i], nil
		}
	}
	return nil, fmt.Errorf("%w: ticket %d", ports.ErrPositionNotFound, ticket)
}

// --- Translation Helpers ---

// TicketFor derives a stable positive ticket for a one-way-mode position. The exchange
// identifies positions by symbol and direction only.
func TicketFor(symbol string, side domain.OrderSide) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol + "/" + string(side)))
	return int64(h.Sum64() & (1<<63 - 1))
}

// retcodeForAPIError maps an exchange rejection to the terminal code with the same meaning.
func retcodeForAPIError(code int64) int {
	switch code {
	case -2019, -3005, -4047: // Margin or balance insufficient
		return domain.RetcodeNoMoney
	case -1013, -4003, -1111, -4014: // Quantity or price outside filters
		return domain.RetcodeInvalidParams
	case -2022, -4164: // ReduceOnly rejected, notional too small
		return domain.RetcodeInvalidRequest
	case -1021:
		return domain.RetcodePriceChanged
	case -2014, -2015:
		return domain.RetcodeAutoTrading
	case -4131: // Counterparty best price does not meet PERCENT_PRICE filter
		return domain.RetcodeMarketClosed
	case -2021: // Stop order would immediately trigger
		return domain.RetcodeInvalidStops
	default:
		return domain.RetcodeRejected
	}
}

func sideType(side domain.OrderSide) futures.SideType {
	if side == domain.Sell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func formatQuantity(volume, step float64) string {
	d := decimal.NewFromFloat(volume)
	if step > 0 {
		places := -decimal.NewFromFloat(step).Exponent()
		if places < 0 {
			places = 0
		}
		return d.StringFixed(places)
	}
	return d.String()
}

func formatPrice(price float64, digits int) string {
	if digits < 0 {
		digits = 0
	}
	return decimal.NewFromFloat(price).StringFixed(int32(digits))
}

func exceedsDeviation(requested, market float64, deviation int, point float64) bool {
	if requested <= 0 || market <= 0 {
		return false
	}
	gap := decimal.NewFromFloat(market).Sub(decimal.NewFromFloat(requested)).Abs()
	return gap.GreaterThan(decimal.NewFromInt(int64(deviation)).Mul(decimal.NewFromFloat(point)))
}

func translateSymbol(s *futures.Symbol) (*domain.SymbolSpec, error) {
	spec := &domain.SymbolSpec{
		Name:            s.Symbol,
		Digits:          s.PricePrecision,
		FillingModeBits: 1, // Market orders on the exchange behave as IOC
		Tradable:        s.Status == statusTrading,
		TradeMode:       4,
	}
	if !spec.Tradable {
		spec.TradeMode = 0
	}
	if lot := s.LotSizeFilter(); lot != nil {
		var err error
		if spec.MinVolume, err = strconv.ParseFloat(lot.MinQuantity, 64); err != nil {
			return nil, fmt.Errorf("parsing min quantity '%s': %w", lot.MinQuantity, err)
		}
		if spec.MaxVolume, err = strconv.ParseFloat(lot.MaxQuantity, 64); err != nil {
			return nil, fmt.Errorf("parsing max quantity '%s': %w", lot.MaxQuantity, err)
		}
		if spec.VolumeStep, err = strconv.ParseFloat(lot.StepSize, 64); err != nil {
			return nil, fmt.Errorf("parsing step size '%s': %w", lot.StepSize, err)
		}
	}
	if pf := s.PriceFilter(); pf != nil {
		tick, err := strconv.ParseFloat(pf.TickSize, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing tick size '%s': %w", pf.TickSize, err)
		}
		spec.Point = tick
	}
	if spec.Point <= 0 && spec.Digits > 0 {
		spec.Point = decimal.New(1, -int32(spec.Digits)).InexactFloat64()
	}
	return spec, nil
}

func translateBookTicker(t *futures.BookTicker) (*domain.Tick, error) {
	bid, err := strconv.ParseFloat(t.BidPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing bid price '%s': %w", t.BidPrice, err)
	}
	ask, err := strconv.ParseFloat(t.AskPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing ask price '%s': %w", t.AskPrice, err)
	}
	return &domain.Tick{Symbol: t.Symbol, Bid: bid, Ask: ask}, nil
}

func translateOrderResponse(order *futures.CreateOrderResponse, req domain.OrderRequest) *domain.OrderResult {
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	if avgPrice == 0 {
		avgPrice = req.Price // ACK responses carry no fill yet
	}
	if execQty == 0 {
		execQty = req.Volume
	}
	return &domain.OrderResult{
		Retcode: domain.RetcodeDone,
		OrderID: order.OrderID,
		DealID:  order.OrderID,
		Volume:  execQty,
		Price:   avgPrice,
		Comment: req.Comment,
	}
}

func translatePositionRisk(pos *futures.PositionRisk) (domain.Position, bool) {
	if pos == nil {
		return domain.Position{}, false
	}
	amt, _ := strconv.ParseFloat(pos.PositionAmt, 64)
	if amt == 0 {
		return domain.Position{}, false
	}
	entryPrice, _ := strconv.ParseFloat(pos.EntryPrice, 64)
	markPrice, _ := strconv.ParseFloat(pos.MarkPrice, 64)
	unProfit, _ := strconv.ParseFloat(pos.UnRealizedProfit, 64)

	side := domain.Buy
	if amt < 0 {
		side = domain.Sell
		amt = -amt
	}
	return domain.Position{
		Ticket:       TicketFor(pos.Symbol, side),
		Symbol:       pos.Symbol,
		Side:         side,
		Volume:       amt,
		OpenPrice:    entryPrice,
		CurrentPrice: markPrice,
		Profit:       unProfit,
	}, true
}
