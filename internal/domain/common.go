package domain

// OrderSide represents the side of an order or position (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// IsValid reports whether the side is one of BUY or SELL.
func (s OrderSide) IsValid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the side that offsets s. Closing a BUY position is a SELL deal.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// FillingMode is the terminal's execution-fill policy for partial fills.
type FillingMode int

const (
	FillingFOK    FillingMode = iota // Fill-or-Kill
	FillingIOC                       // Immediate-or-Cancel
	FillingReturn                    // Return the unfilled remainder as a resting order
)

// String returns the terminal name of the filling mode.
func (m FillingMode) String() string {
	switch m {
	case FillingFOK:
		return "FOK"
	case FillingIOC:
		return "IOC"
	case FillingReturn:
		return "RETURN"
	default:
		return "UNKNOWN"
	}
}

// Toggle swaps FOK and IOC. Any other mode toggles to FOK.
func (m FillingMode) Toggle() FillingMode {
	if m == FillingFOK {
		return FillingIOC
	}
	return FillingFOK
}
