package paper

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tradeBridge/internal/domain"
)

// Catalogue is the simulated terminal's symbol list and account, as loaded from YAML.
type Catalogue struct {
	Account AccountEntry  `yaml:"account"`
	Symbols []SymbolEntry `yaml:"symbols"`
}

// AccountEntry seeds the simulated account.
type AccountEntry struct {
	Balance      float64 `yaml:"balance"`
	Currency     string  `yaml:"currency"`
	TradeAllowed *bool   `yaml:"trade_allowed"` // Omitted means allowed
}

// SymbolEntry is one symbol with its opening quote.
type SymbolEntry struct {
	Name         string  `yaml:"name"`
	Point        float64 `yaml:"point"`
	Digits       int     `yaml:"digits"`
	MinVolume    float64 `yaml:"volume_min"`
	MaxVolume    float64 `yaml:"volume_max"`
	VolumeStep   float64 `yaml:"volume_step"`
	StopsLevel   int     `yaml:"stops_level"`
	FillingMode  int     `yaml:"filling_mode"`
	TradeMode    *int    `yaml:"trade_mode"` // Omitted means full access (4)
	ContractSize float64 `yaml:"contract_size"`
	Bid          float64 `yaml:"bid"`
	Ask          float64 `yaml:"ask"`
}

const tradeModeFull = 4

// Spec converts the entry into the terminal's symbol metadata.
func (e SymbolEntry) Spec() domain.SymbolSpec {
	mode := tradeModeFull
	if e.TradeMode != nil {
		mode = *e.TradeMode
	}
	spec := domain.SymbolSpec{
		Name:            e.Name,
		Point:           e.Point,
		Digits:          e.Digits,
		MinVolume:       e.MinVolume,
		MaxVolume:       e.MaxVolume,
		VolumeStep:      e.VolumeStep,
		MinStopDistance: e.StopsLevel,
		FillingModeBits: e.FillingMode,
		Tradable:        mode != 0,
		TradeMode:       mode,
	}
	if e.Point > 0 && e.Ask >= e.Bid {
		spec.Spread = int((e.Ask-e.Bid)/e.Point + 0.5)
	}
	return spec
}

// LoadCatalogue reads a catalogue file.
func LoadCatalogue(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read paper catalogue '%s': %w", path, err)
	}
	return ParseCatalogue(data)
}

// ParseCatalogue decodes and validates catalogue YAML.
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse paper catalogue: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every symbol and rejects duplicates.
func (c *Catalogue) Validate() error {
	if len(c.Symbols) == 0 {
		return errors.New("paper catalogue has no symbols")
	}
	var errs []error
	seen := make(map[string]bool, len(c.Symbols))
	for _, e := range c.Symbols {
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("duplicate symbol %q", e.Name))
			continue
		}
		seen[e.Name] = true
		if err := e.Spec().Validate(); err != nil {
			errs = append(errs, err)
		}
		if e.Bid <= 0 || e.Ask < e.Bid {
			errs = append(errs, fmt.Errorf("symbol %q: invalid quote bid=%v ask=%v", e.Name, e.Bid, e.Ask))
		}
	}
	return errors.Join(errs...)
}

func intPtr(v int) *int { return &v }

// DefaultCatalogue is used when no catalogue file is configured.
func DefaultCatalogue() *Catalogue {
	return &Catalogue{
		Account: AccountEntry{Balance: 10000, Currency: "USD"},
		Symbols: []SymbolEntry{
			{Name: "EURUSD", Point: 0.00001, Digits: 5, MinVolume: 0.01, MaxVolume: 100, VolumeStep: 0.01, StopsLevel: 10, FillingMode: 1, ContractSize: 100000, Bid: 1.08500, Ask: 1.08512},
			{Name: "GBPUSD", Point: 0.00001, Digits: 5, MinVolume: 0.01, MaxVolume: 100, VolumeStep: 0.01, StopsLevel: 10, FillingMode: 1, ContractSize: 100000, Bid: 1.26400, Ask: 1.26418},
			{Name: "USDJPY", Point: 0.001, Digits: 3, MinVolume: 0.01, MaxVolume: 100, VolumeStep: 0.01, StopsLevel: 10, FillingMode: 1, ContractSize: 100000, Bid: 149.800, Ask: 149.815},
			{Name: "XAUUSD", Point: 0.01, Digits: 2, MinVolume: 0.01, MaxVolume: 50, VolumeStep: 0.01, StopsLevel: 50, FillingMode: 0, ContractSize: 100, Bid: 2330.50, Ask: 2330.85},
			{Name: "US30", Point: 0.1, Digits: 1, MinVolume: 0.1, MaxVolume: 20, VolumeStep: 0.1, StopsLevel: 100, FillingMode: 2, ContractSize: 1, Bid: 39100.0, Ask: 39102.5, TradeMode: intPtr(tradeModeFull)},
		},
	}
}
