package httpapi

import (
	"time"

	"tradeBridge/internal/app"
	"tradeBridge/internal/domain"
	"tradeBridge/internal/execution"
)

// Request defaults match what automation clients of the bridge have always assumed.
const (
	defaultVolume     = 0.1
	defaultSLDistance = 10.0
	defaultTPDistance = 10.0
)

// Envelope wraps every response.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
	Code    int         `json:"code,omitempty"`
}

type connectRequest struct {
	Server   string `json:"server"`
	Login    int64  `json:"login"`
	Password string `json:"password"`
}

type tradeRequest struct {
	Symbol     string   `json:"symbol"`
	Type       string   `json:"type"`
	Volume     *float64 `json:"volume"`
	SLDistance *float64 `json:"sl_distance"`
	TPDistance *float64 `json:"tp_distance"`
	Comment    string   `json:"comment"`
	Magic      int64    `json:"magic"`
}

func (r tradeRequest) command() app.OrderCommand {
	cmd := app.OrderCommand{
		Symbol:     r.Symbol,
		Side:       r.Type,
		Volume:     defaultVolume,
		SLDistance: defaultSLDistance,
		TPDistance: defaultTPDistance,
		Comment:    r.Comment,
		Magic:      r.Magic,
	}
	if r.Volume != nil {
		cmd.Volume = *r.Volume
	}
	if r.SLDistance != nil {
		cmd.SLDistance = *r.SLDistance
	}
	if r.TPDistance != nil {
		cmd.TPDistance = *r.TPDistance
	}
	return cmd
}

type closeRequest struct {
	Ticket int64    `json:"ticket"`
	Volume *float64 `json:"volume"`
	Symbol string   `json:"symbol"`
}

type accountDTO struct {
	Login        int64   `json:"login"`
	Server       string  `json:"server"`
	Balance      float64 `json:"balance"`
	Currency     string  `json:"currency"`
	TradeAllowed bool    `json:"trade_allowed"`
}

func toAccountDTO(a *domain.AccountInfo) *accountDTO {
	if a == nil {
		return nil
	}
	return &accountDTO{Login: a.Login, Server: a.Server, Balance: a.Balance, Currency: a.Currency, TradeAllowed: a.TradeAllowed}
}

type symbolDTO struct {
	Name        string  `json:"name"`
	Point       float64 `json:"point"`
	Digits      int     `json:"digits"`
	Spread      int     `json:"spread"`
	TradeMode   int     `json:"trade_mode"`
	VolumeMin   float64 `json:"volume_min"`
	VolumeMax   float64 `json:"volume_max"`
	VolumeStep  float64 `json:"volume_step"`
	StopsLevel  int     `json:"stops_level"`
	FillingMode int     `json:"filling_mode"`
}

func toSymbolDTO(s *domain.SymbolSpec) symbolDTO {
	return symbolDTO{
		Name:        s.Name,
		Point:       s.Point,
		Digits:      s.Digits,
		Spread:      s.Spread,
		TradeMode:   s.TradeMode,
		VolumeMin:   s.MinVolume,
		VolumeMax:   s.MaxVolume,
		VolumeStep:  s.VolumeStep,
		StopsLevel:  s.MinStopDistance,
		FillingMode: s.FillingModeBits,
	}
}

type priceDTO struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Spread float64 `json:"spread"`
	Time   string  `json:"time"`
}

func toPriceDTO(q *app.Quote) priceDTO {
	ts := q.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return priceDTO{Symbol: q.Symbol, Bid: q.Bid, Ask: q.Ask, Spread: q.Spread, Time: ts.UTC().Format(time.RFC3339)}
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

func toPositionDTOs(positions []domain.Position) []positionDTO {
	out := make([]positionDTO, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionDTO{
			Ticket:       p.Ticket,
			Symbol:       p.Symbol,
			Type:         string(p.Side),
			Volume:       p.Volume,
			PriceOpen:    p.OpenPrice,
			PriceCurrent: p.CurrentPrice,
			Profit:       p.Profit,
			Comment:      p.Comment,
			Magic:        p.Magic,
		})
	}
	return out
}

type tradeDTO struct {
	OperationID string  `json:"operation_id"`
	Order       int64   `json:"order"`
	Deal        int64   `json:"deal"`
	Volume      float64 `json:"volume"`
	Price       float64 `json:"price"`
	SL          float64 `json:"sl"`
	TP          float64 `json:"tp"`
	Comment     string  `json:"comment"`
	Retcode     int     `json:"retcode"`
	Attempts    int     `json:"attempts"`
}

type closeDTO struct {
	OperationID string  `json:"operation_id"`
	Ticket      int64   `json:"ticket"`
	Order       int64   `json:"order"`
	Deal        int64   `json:"deal"`
	Symbol      string  `json:"symbol"`
	Type        string  `json:"type"`
	Volume      float64 `json:"volume"`
	Price       float64 `json:"price"`
	Profit      float64 `json:"profit"`
	Retcode     int     `json:"retcode"`
	Attempts    int     `json:"attempts"`
}

// operationRef is returned with a failed order so the caller can look the attempts up.
type operationRef struct {
	OperationID string `json:"operation_id"`
	Attempts    int    `json:"attempts"`
}

func refOf(r *execution.Report) interface{} {
	if r == nil || r.OperationID == "" {
		return nil
	}
	return operationRef{OperationID: r.OperationID, Attempts: len(r.Attempts)}
}

type healthDTO struct {
	Status    string      `json:"status"`
	Backend   string      `json:"backend"`
	Connected bool        `json:"connected"`
	Account   *accountDTO `json:"account,omitempty"`
	Journal   bool        `json:"journal"`
	Timestamp string      `json:"timestamp"`
}

type attemptDTO struct {
	ID           int64   `json:"id"`
	OperationID  string  `json:"operation_id"`
	Operation    string  `json:"operation"`
	Number       int     `json:"attempt"`
	Symbol       string  `json:"symbol"`
	Type         string  `json:"type"`
	Volume       float64 `json:"volume"`
	Price        float64 `json:"price"`
	SL           float64 `json:"sl"`
	TP           float64 `json:"tp"`
	Deviation    int     `json:"deviation"`
	Filling      string  `json:"filling"`
	Position     int64   `json:"position,omitempty"`
	Retcode      int     `json:"retcode"`
	Succeeded    bool    `json:"succeeded"`
	ErrorMessage string  `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

func toAttemptDTOs(attempts []*domain.Attempt) []attemptDTO {
	out := make([]attemptDTO, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, attemptDTO{
			ID:           a.ID,
			OperationID:  a.OperationID,
			Operation:    string(a.Operation),
			Number:       a.Number,
			Symbol:       a.Request.Symbol,
			Type:         string(a.Request.Side),
			Volume:       a.Request.Volume,
			Price:        a.Request.Price,
			SL:           a.Request.StopLoss,
			TP:           a.Request.TakeProfit,
			Deviation:    a.Request.DeviationPoints,
			Filling:      a.Request.FillingMode.String(),
			Position:     a.Request.PositionTicket,
			Retcode:      a.Retcode(),
			Succeeded:    a.Succeeded(),
			ErrorMessage: a.ErrorMessage,
			CreatedAt:    a.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return out
}
