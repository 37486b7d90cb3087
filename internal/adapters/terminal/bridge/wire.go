package bridge

import (
	"time"

	"tradeBridge/internal/domain"
)

// Wire DTOs of the terminal-side proxy. Terminal builds differ in which symbol attributes
// they report, so optional fields are pointers and get their defaults here, once.

type loginRequest struct {
	Server   string `json:"server"`
	Login    int64  `json:"login"`
	Password string `json:"password"`
}

type accountDTO struct {
	Login        int64   `json:"login"`
	Server       string  `json:"server"`
	Currency     string  `json:"currency"`
	Balance      float64 `json:"balance"`
	TradeAllowed *bool   `json:"trade_allowed"`
}

func (a accountDTO) toDomain() *domain.AccountInfo {
	return &domain.AccountInfo{
		Login:        a.Login,
		Server:       a.Server,
		Currency:     a.Currency,
		Balance:      a.Balance,
		TradeAllowed: a.TradeAllowed == nil || *a.TradeAllowed,
	}
}

type symbolDTO struct {
	Name        string  `json:"name"`
	Point       float64 `json:"point"`
	Digits      int     `json:"digits"`
	VolumeMin   float64 `json:"volume_min"`
	VolumeMax   float64 `json:"volume_max"`
	VolumeStep  float64 `json:"volume_step"`
	StopsLevel  *int    `json:"stops_level"`
	FillingMode *int    `json:"filling_mode"`
	TradeMode   *int    `json:"trade_mode"`
	Spread      *int    `json:"spread"`
}

const tradeModeFull = 4

func (s symbolDTO) toDomain() domain.SymbolSpec {
	spec := domain.SymbolSpec{
		Name:            s.Name,
		Point:           s.Point,
		Digits:          s.Digits,
		MinVolume:       s.VolumeMin,
		MaxVolume:       s.VolumeMax,
		VolumeStep:      s.VolumeStep,
		MinStopDistance: intOr(s.StopsLevel, 0),
		FillingModeBits: intOr(s.FillingMode, 0),
		TradeMode:       intOr(s.TradeMode, tradeModeFull),
		Spread:          intOr(s.Spread, 0),
	}
	spec.Tradable = spec.TradeMode != 0
	return spec
}

type tickDTO struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Time int64   `json:"time"` // Unix seconds
}

type orderDTO struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"type"`
	Volume      float64 `json:"volume"`
	Price       float64 `json:"price"`
	StopLoss    float64 `json:"sl,omitempty"`
	TakeProfit  float64 `json:"tp,omitempty"`
	Deviation   int     `json:"deviation"`
	FillingMode int     `json:"type_filling"`
	Comment     string  `json:"comment,omitempty"`
	Magic       int64   `json:"magic"`
	Position    int64   `json:"position,omitempty"`
}

func newOrderDTO(r domain.OrderRequest) orderDTO {
	return orderDTO{
		Symbol:      r.Symbol,
		Side:        string(r.Side),
		Volume:      r.Volume,
		Price:       r.Price,
		StopLoss:    r.StopLoss,
		TakeProfit:  r.TakeProfit,
		Deviation:   r.DeviationPoints,
		FillingMode: int(r.FillingMode),
		Comment:     r.Comment,
		Magic:       r.Magic,
		Position:    r.PositionTicket,
	}
}

type resultDTO struct {
	Retcode    int      `json:"retcode"`
	Order      int64    `json:"order"`
	Deal       int64    `json:"deal"`
	Volume     float64  `json:"volume"`
	Price      float64  `json:"price"`
	StopLoss   *float64 `json:"sl"`
	TakeProfit *float64 `json:"tp"`
	Comment    string   `json:"comment"`
}

// toDomain converts a result. A done deal carries the stops of its request unless the
// proxy reports the ones the terminal actually set.
func (r resultDTO) toDomain(req domain.OrderRequest) *domain.OrderResult {
	res := &domain.OrderResult{
		Retcode: r.Retcode,
		OrderID: r.Order,
		DealID:  r.Deal,
		Volume:  r.Volume,
		Price:   r.Price,
		Comment: r.Comment,
	}
	if r.Retcode == domain.RetcodeDone && !req.IsClose() {
		res.StopLoss = floatOr(r.StopLoss, req.StopLoss)
		res.TakeProfit = floatOr(r.TakeProfit, req.TakeProfit)
	}
	return res
}

// orderResponse is the answer to a submission. Result is null when the terminal produced
// none; LastError then holds the terminal's last-error pair.
type orderResponse struct {
	Result    *resultDTO    `json:"result"`
	LastError *lastErrorDTO `json:"last_error"`
}

type lastErrorDTO struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type positionDTO struct {
	Ticket       int64   `json:"ticket"`
	Symbol       string  `json:"symbol"`
	Type         string  `json:"type"`
	Volume       float64 `json:"volume"`
	PriceOpen    float64 `json:"price_open"`
	PriceCurrent float64 `json:"price_current"`
	Profit       float64 `json:"profit"`
	Comment      string  `json:"comment"`
	Magic        int64   `json:"magic"`
}

func (p positionDTO) toDomain() domain.Position {
	return domain.Position{
		Ticket:       p.Ticket,
		Symbol:       p.Symbol,
		Side:         domain.OrderSide(p.Type),
		Volume:       p.Volume,
		OpenPrice:    p.PriceOpen,
		CurrentPrice: p.PriceCurrent,
		Profit:       p.Profit,
		Magic:        p.Magic,
		Comment:      p.Comment,
	}
}

type errorDTO struct {
	Error string `json:"error"`
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
