package utils

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"tradeBridge/internal/domain"
)

var symbolSpecHeader = []string{
	"name", "point", "digits", "volume_min", "volume_max", "volume_step",
	"stops_level", "filling_mode", "trade_mode", "tradable", "spread",
}

// WriteSymbolSpecsCSV writes one row per symbol to filename, creating its directory.
func WriteSymbolSpecsCSV(specs []*domain.SymbolSpec, filename string) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory '%s': %w", dir, err)
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(symbolSpecHeader); err != nil {
		return err
	}
	for _, s := range specs {
		err := writer.Write([]string{
			s.Name,
			strconv.FormatFloat(s.Point, 'f', -1, 64),
			strconv.Itoa(s.Digits),
			strconv.FormatFloat(s.MinVolume, 'f', -1, 64),
			strconv.FormatFloat(s.MaxVolume, 'f', -1, 64),
			strconv.FormatFloat(s.VolumeStep, 'f', -1, 64),
			strconv.Itoa(s.MinStopDistance),
			strconv.Itoa(s.FillingModeBits),
			strconv.Itoa(s.TradeMode),
			strconv.FormatBool(s.Tradable),
			strconv.Itoa(s.Spread),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
