package domain

// Position is a read-only snapshot of an open terminal position.
// The core never mutates it, a close is a new opposite-side deal against Ticket.
type Position struct {
	Ticket       int64     // Terminal-assigned identifier
	Symbol       string    // Trading symbol (e.g., "EURUSD")
	Side         OrderSide // Direction the position was opened in
	Volume       float64   // Open volume in lots
	OpenPrice    float64   // Average open price
	CurrentPrice float64   // Latest price the terminal marked the position at
	Profit       float64   // Floating profit at read time
	Magic        int64     // Expert/magic number of the opening order
	Comment      string
}

// AccountInfo describes the trading account a session is logged into.
type AccountInfo struct {
	Login        int64
	Server       string
	Currency     string
	Balance      float64
	TradeAllowed bool // Algo trading enabled for this account and terminal
}

// Credentials are the terminal login parameters.
type Credentials struct {
	Server   string
	Login    int64
	Password string
}
