package domain

// OrderRequest is one submission to the terminal. A fresh value is built per attempt;
// DeviationPoints and FillingMode are the only fields that change between retries.
type OrderRequest struct {
	Symbol          string
	Side            OrderSide
	Volume          float64
	Price           float64
	StopLoss        float64 // 0 means no stop-loss
	TakeProfit      float64 // 0 means no take-profit
	DeviationPoints int
	FillingMode     FillingMode
	Comment         string
	Magic           int64
	PositionTicket  int64 // Non-zero for a closing deal against an open position
}

// IsClose reports whether the request closes an existing position.
func (r OrderRequest) IsClose() bool {
	return r.PositionTicket != 0
}

// OrderResult is what the terminal returned for a submission, enriched by the core on success.
type OrderResult struct {
	Accepted     bool
	OrderID      int64
	DealID       int64
	Volume       float64 // Filled volume
	Price        float64 // Filled price
	StopLoss     float64
	TakeProfit   float64
	Comment      string
	Retcode      int
	Profit       float64   // Pre-close profit snapshot, closes only
	Symbol       string    // Set on closes
	PositionSide OrderSide // Side of the closed position, closes only
}
