package execution

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tradeBridge/internal/domain"
	"tradeBridge/internal/ports"
)

// PlacementParams is what a caller asks for when opening a position.
// Distances are in price units, not points.
type PlacementParams struct {
	Symbol     string
	Side       domain.OrderSide
	Volume     float64
	SLDistance float64
	TPDistance float64
	Comment    string
	Magic      int64
}

// ParseSide converts a caller-supplied side ("buy", "SELL", ...) into a domain side.
func ParseSide(s string) (domain.OrderSide, error) {
	side := domain.OrderSide(strings.ToUpper(strings.TrimSpace(s)))
	if !side.IsValid() {
		return "", fmt.Errorf("%w: %q", ports.ErrInvalidSide, s)
	}
	return side, nil
}

// Resolve turns placement parameters into an executable order using the symbol's current
// metadata and quote. The returned request already satisfies the terminal's volume grid and
// stop-distance floor.
func Resolve(spec domain.SymbolSpec, tick domain.Tick, p PlacementParams, deviation int) (domain.OrderRequest, error) {
	if !spec.Tradable {
		return domain.OrderRequest{}, fmt.Errorf("%w: %s", ports.ErrNotTradable, spec.Name)
	}
	if !p.Side.IsValid() {
		return domain.OrderRequest{}, fmt.Errorf("%w: %q", ports.ErrInvalidSide, p.Side)
	}

	slDistance := decimal.NewFromFloat(EffectiveStopDistance(spec, p.SLDistance))
	tpDistance := decimal.NewFromFloat(EffectiveStopDistance(spec, p.TPDistance))

	var price, sl, tp decimal.Decimal
	switch p.Side {
	case domain.Buy:
		price = decimal.NewFromFloat(tick.Ask)
		sl = price.Sub(slDistance)
		tp = price.Add(tpDistance)
	case domain.Sell:
		price = decimal.NewFromFloat(tick.Bid)
		sl = price.Add(slDistance)
		tp = price.Sub(tpDistance)
	}

	req := domain.OrderRequest{
		Symbol:          spec.Name,
		Side:            p.Side,
		Volume:          NormalizeVolume(spec, p.Volume),
		Price:           price.InexactFloat64(),
		DeviationPoints: deviation,
		FillingMode:     FillingModeFromBits(spec.FillingModeBits),
		Comment:         p.Comment,
		Magic:           p.Magic,
	}
	if slDistance.IsPositive() {
		req.StopLoss = roundDecimal(sl, spec.Digits)
	}
	if tpDistance.IsPositive() {
		req.TakeProfit = roundDecimal(tp, spec.Digits)
	}
	return req, nil
}

// EffectiveStopDistance applies the terminal's stop floor: the larger of the requested
// distance and MinStopDistance*Point.
func EffectiveStopDistance(spec domain.SymbolSpec, requested float64) float64 {
	floor := decimal.NewFromInt(int64(spec.MinStopDistance)).Mul(decimal.NewFromFloat(spec.Point))
	d := decimal.NewFromFloat(requested)
	if d.LessThan(floor) {
		return floor.InexactFloat64()
	}
	return requested
}

// NormalizeVolume rounds v to the nearest multiple of VolumeStep (half-up) and clamps the
// result into [MinVolume, MaxVolume].
func NormalizeVolume(spec domain.SymbolSpec, v float64) float64 {
	step := decimal.NewFromFloat(spec.VolumeStep)
	minVol := decimal.NewFromFloat(spec.MinVolume)
	maxVol := decimal.NewFromFloat(spec.MaxVolume)

	vol := decimal.NewFromFloat(v)
	if step.IsPositive() {
		vol = vol.Div(step).Round(0).Mul(step)
	}
	if vol.LessThan(minVol) {
		vol = minVol
	}
	if vol.GreaterThan(maxVol) {
		vol = maxVol
	}
	return vol.InexactFloat64()
}

// RoundPrice rounds a price to digits decimal places, half away from zero.
func RoundPrice(price float64, digits int) float64 {
	return roundDecimal(decimal.NewFromFloat(price), digits)
}

func roundDecimal(d decimal.Decimal, digits int) float64 {
	return d.Round(int32(digits)).InexactFloat64()
}

// FillingModeFromBits maps the low two bits of the terminal's filling flags to a mode.
// Unmapped patterns fall back to IOC; terminals report this field inconsistently.
func FillingModeFromBits(bits int) domain.FillingMode {
	switch bits & 0b11 {
	case 0:
		return domain.FillingFOK
	case 1:
		return domain.FillingIOC
	case 2:
		return domain.FillingReturn
	default:
		return domain.FillingIOC
	}
}
