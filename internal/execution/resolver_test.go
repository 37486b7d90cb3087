package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeBridge/internal/domain"
	"tradeBridge/internal/ports"
)

func TestResolve_BuyAppliesVolumeGridAndStopFloor(t *testing.T) {
	p := PlacementParams{
		Symbol:     "EURUSD",
		Side:       domain.Buy,
		Volume:     0.015,
		SLDistance: 0.0005,
		TPDistance: 0.0005,
		Comment:    "scalp",
		Magic:      42,
	}

	req, err := Resolve(*eurusdSpec(), eurusdTick(), p, 20)
	require.NoError(t, err)

	assert.Equal(t, "EURUSD", req.Symbol)
	assert.Equal(t, domain.Buy, req.Side)
	assert.InDelta(t, 0.02, req.Volume, 1e-9)
	assert.InDelta(t, 1.2002, req.Price, 1e-9)
	assert.InDelta(t, 1.1902, req.StopLoss, 1e-9)
	assert.InDelta(t, 1.2102, req.TakeProfit, 1e-9)
	assert.Equal(t, domain.FillingIOC, req.FillingMode)
	assert.Equal(t, 20, req.DeviationPoints)
	assert.Equal(t, "scalp", req.Comment)
	assert.Equal(t, int64(42), req.Magic)
	assert.False(t, req.IsClose())
}

func TestResolve_SellUsesBidAndMirrorsStops(t *testing.T) {
	p := PlacementParams{Symbol: "EURUSD", Side: domain.Sell, Volume: 0.1, SLDistance: 0.02, TPDistance: 0.03}

	req, err := Resolve(*eurusdSpec(), eurusdTick(), p, 20)
	require.NoError(t, err)

	assert.InDelta(t, 1.2000, req.Price, 1e-9)
	assert.InDelta(t, 1.2200, req.StopLoss, 1e-9)
	assert.InDelta(t, 1.1700, req.TakeProfit, 1e-9)
}

func TestResolve_StopOrdering(t *testing.T) {
	distances := []float64{0.00001, 0.0005, 0.01, 0.0123, 0.25}
	for _, sl := range distances {
		for _, tp := range distances {
			buy, err := Resolve(*eurusdSpec(), eurusdTick(), PlacementParams{Side: domain.Buy, Volume: 1, SLDistance: sl, TPDistance: tp}, 20)
			require.NoError(t, err)
			assert.Less(t, buy.StopLoss, buy.Price, "buy sl=%v", sl)
			assert.Less(t, buy.Price, buy.TakeProfit, "buy tp=%v", tp)

			sell, err := Resolve(*eurusdSpec(), eurusdTick(), PlacementParams{Side: domain.Sell, Volume: 1, SLDistance: sl, TPDistance: tp}, 20)
			require.NoError(t, err)
			assert.Less(t, sell.TakeProfit, sell.Price, "sell tp=%v", tp)
			assert.Less(t, sell.Price, sell.StopLoss, "sell sl=%v", sl)
		}
	}
}

func TestResolve_ZeroStopFloorOmitsStops(t *testing.T) {
	spec := eurusdSpec()
	spec.MinStopDistance = 0

	req, err := Resolve(*spec, eurusdTick(), PlacementParams{Side: domain.Buy, Volume: 1}, 20)
	require.NoError(t, err)
	assert.Zero(t, req.StopLoss)
	assert.Zero(t, req.TakeProfit)
}

func TestResolve_Errors(t *testing.T) {
	t.Run("not tradable", func(t *testing.T) {
		spec := eurusdSpec()
		spec.Tradable = false
		_, err := Resolve(*spec, eurusdTick(), PlacementParams{Side: domain.Buy, Volume: 1}, 20)
		assert.ErrorIs(t, err, ports.ErrNotTradable)
	})

	t.Run("invalid side", func(t *testing.T) {
		_, err := Resolve(*eurusdSpec(), eurusdTick(), PlacementParams{Side: "HOLD", Volume: 1}, 20)
		assert.ErrorIs(t, err, ports.ErrInvalidSide)
	})

	t.Run("not tradable wins over invalid side", func(t *testing.T) {
		spec := eurusdSpec()
		spec.Tradable = false
		_, err := Resolve(*spec, eurusdTick(), PlacementParams{Side: "HOLD", Volume: 1}, 20)
		assert.ErrorIs(t, err, ports.ErrNotTradable)
	})
}

func TestNormalizeVolume(t *testing.T) {
	spec := *eurusdSpec()
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"exact step", 0.05, 0.05},
		{"half step rounds up", 0.015, 0.02},
		{"below half step rounds down", 0.014, 0.01},
		{"below minimum", 0.001, 0.01},
		{"zero", 0, 0.01},
		{"above maximum", 25, 10},
		{"large on grid", 3.33, 3.33},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, NormalizeVolume(spec, tt.in), 1e-9)
		})
	}
}

func TestNormalizeVolume_GridAndIdempotence(t *testing.T) {
	specs := []domain.SymbolSpec{
		*eurusdSpec(),
		{Name: "XAUUSD", MinVolume: 0.1, MaxVolume: 50, VolumeStep: 0.1},
		{Name: "US30", MinVolume: 1, MaxVolume: 100, VolumeStep: 1},
	}
	inputs := []float64{0, 0.003, 0.017, 0.15, 0.99, 1.234, 7.77, 49.96, 120}

	for _, spec := range specs {
		for _, in := range inputs {
			v := NormalizeVolume(spec, in)
			assert.GreaterOrEqual(t, v, spec.MinVolume, "%s %v", spec.Name, in)
			assert.LessOrEqual(t, v, spec.MaxVolume, "%s %v", spec.Name, in)

			steps := (v - spec.MinVolume) / spec.VolumeStep
			assert.InDelta(t, float64(int64(steps+0.5)), steps, 1e-6, "%s %v off grid: %v", spec.Name, in, v)

			assert.Equal(t, v, NormalizeVolume(spec, v), "%s %v not idempotent", spec.Name, in)
		}
	}
}

func TestEffectiveStopDistance(t *testing.T) {
	spec := *eurusdSpec()
	assert.InDelta(t, 0.01, EffectiveStopDistance(spec, 0.0005), 1e-12)
	assert.InDelta(t, 0.01, EffectiveStopDistance(spec, 0), 1e-12)
	assert.InDelta(t, 0.05, EffectiveStopDistance(spec, 0.05), 1e-12)
}

func TestFillingModeFromBits(t *testing.T) {
	assert.Equal(t, domain.FillingFOK, FillingModeFromBits(0))
	assert.Equal(t, domain.FillingIOC, FillingModeFromBits(1))
	assert.Equal(t, domain.FillingReturn, FillingModeFromBits(2))
	assert.Equal(t, domain.FillingIOC, FillingModeFromBits(3))
	assert.Equal(t, domain.FillingIOC, FillingModeFromBits(5))
}

func TestParseSide(t *testing.T) {
	side, err := ParseSide(" buy ")
	require.NoError(t, err)
	assert.Equal(t, domain.Buy, side)

	side, err = ParseSide("SELL")
	require.NoError(t, err)
	assert.Equal(t, domain.Sell, side)

	_, err = ParseSide("long")
	assert.ErrorIs(t, err, ports.ErrInvalidSide)
}

func TestRoundPrice(t *testing.T) {
	assert.Equal(t, 1.2346, RoundPrice(1.23455, 4))
	assert.Equal(t, 105.3, RoundPrice(105.25, 1))
	assert.Equal(t, 2000.0, RoundPrice(1999.996, 2))
}
