package domain

import (
	"errors"
	"fmt"
	"time"
)

// SymbolSpec is a point-in-time snapshot of a symbol's trading metadata.
// It is fetched per operation and never cached, the terminal may change it between requests.
type SymbolSpec struct {
	Name            string
	Point           float64 // Tick size
	Digits          int     // Price precision in decimal places
	MinVolume       float64
	MaxVolume       float64
	VolumeStep      float64
	MinStopDistance int  // Minimum SL/TP gap, in points
	FillingModeBits int  // Raw filling-mode flags as reported by the terminal
	Tradable        bool // False when the terminal reports trading disabled for the symbol
	TradeMode       int  // Raw terminal trade mode, 0 means disabled
	Spread          int  // Current spread in points, informational
}

// Validate checks the invariants the core relies on.
func (s SymbolSpec) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name is empty"))
	}
	if s.Point <= 0 {
		errs = append(errs, fmt.Errorf("point must be positive, got %v", s.Point))
	}
	if s.Digits < 0 {
		errs = append(errs, fmt.Errorf("digits cannot be negative, got %d", s.Digits))
	}
	if s.MinVolume <= 0 {
		errs = append(errs, fmt.Errorf("min volume must be positive, got %v", s.MinVolume))
	}
	if s.MaxVolume < s.MinVolume {
		errs = append(errs, fmt.Errorf("max volume %v below min volume %v", s.MaxVolume, s.MinVolume))
	}
	if s.VolumeStep <= 0 {
		errs = append(errs, fmt.Errorf("volume step must be positive, got %v", s.VolumeStep))
	}
	if s.MinStopDistance < 0 {
		errs = append(errs, fmt.Errorf("min stop distance cannot be negative, got %d", s.MinStopDistance))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid symbol spec %q: %w", s.Name, errors.Join(errs...))
	}
	return nil
}

// Tick is a bid/ask quote. Bid <= Ask is expected but not enforced, feeds may violate it transiently.
type Tick struct {
	Symbol string
	Bid    float64
	Ask    float64
	Time   time.Time
}

// SpreadPoints returns the spread expressed in points of the given size.
func (t Tick) SpreadPoints(point float64) float64 {
	if point <= 0 {
		return 0
	}
	return (t.Ask - t.Bid) / point
}
