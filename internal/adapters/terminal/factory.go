package terminal

import (
	"context"
	"fmt"

	"tradeBridge/config"
	"tradeBridge/internal/adapters/binanceclient"
	"tradeBridge/internal/adapters/terminal/bridge"
	"tradeBridge/internal/adapters/terminal/paper"
	"tradeBridge/internal/ports"
)

// NewBackend builds the backend selected by cfg.Backend. The choice is made once at startup.
func NewBackend(cfg *config.Config, logger ports.Logger) (ports.Terminal, error) {
	if cfg == nil || logger == nil {
		return nil, fmt.Errorf("%w: backend requires config and logger", ports.ErrConfigurationError)
	}

	switch cfg.Backend {
	case config.BackendPaper:
		var cat *paper.Catalogue
		if cfg.PaperSymbolsFile != "" {
			loaded, err := paper.LoadCatalogue(cfg.PaperSymbolsFile)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ports.ErrConfigurationError, err)
			}
			cat = loaded
		}
		t, err := paper.New(cat, logger)
		if err != nil {
			return nil, err
		}
		logger.Info(context.Background(), "Paper terminal initialized", map[string]interface{}{"catalogue": cfg.PaperSymbolsFile})
		return t, nil

	case config.BackendBridge:
		c, err := bridge.New(bridge.Config{BaseURL: cfg.BridgeURL, Timeout: cfg.BridgeTimeout, Logger: logger})
		if err != nil {
			return nil, err
		}
		logger.Info(context.Background(), "Bridge terminal client initialized", map[string]interface{}{"url": cfg.BridgeURL})
		return c, nil

	case config.BackendBinance:
		return binanceclient.New(binanceclient.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			UseTestnet: cfg.IsTestnet,
			Logger:     logger,
		})

	default:
		return nil, fmt.Errorf("%w: unknown gateway backend %q", ports.ErrConfigurationError, cfg.Backend)
	}
}
