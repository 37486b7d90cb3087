package domain

import "fmt"

// Terminal return codes the core branches on.
const (
	RetcodeRequote        = 10004
	RetcodeRejected       = 10006
	RetcodeDone           = 10009
	RetcodeInvalid        = 10013 // Last-error code the terminal reports for a requoted market order
	RetcodeInvalidParams  = 10017
	RetcodeMarketClosed   = 10018
	RetcodeNoMoney        = 10019
	RetcodePriceChanged   = 10020
	RetcodeInvalidRequest = 10021
	RetcodeInvalidStops   = 10022
	RetcodeAutoTrading    = 10027
)

var retcodeReasons = map[int]string{
	RetcodeMarketClosed:   "Market closed",
	RetcodeNoMoney:        "Insufficient funds",
	RetcodePriceChanged:   "Prices changed",
	RetcodeInvalidRequest: "Invalid request (check volume, symbol, or market status)",
	RetcodeInvalidStops:   "Invalid SL/TP",
	RetcodeInvalidParams:  "Invalid parameters",
	RetcodeAutoTrading:    "AutoTrading disabled",
}

// RetcodeReason maps a terminal return code to its human-readable reason.
// Unknown codes map to "Error <code>".
func RetcodeReason(code int) string {
	if reason, ok := retcodeReasons[code]; ok {
		return reason
	}
	return fmt.Sprintf("Error %d", code)
}

// IsRequote reports whether a last-error code signals that the price moved before execution.
func IsRequote(code int) bool {
	return code == RetcodeRequote || code == RetcodeInvalid
}
