package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"tradeBridge/config"
	"tradeBridge/internal/adapters/logger"
	"tradeBridge/internal/adapters/terminal"
	"tradeBridge/internal/domain"
	"tradeBridge/internal/utils"
)

var (
	output  = flag.String("o", "", "output CSV file (default data/<backend>_symbols_<date>.csv)")
	timeout = flag.Duration("timeout", 2*time.Minute, "overall timeout")
)

func main() {
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(logger.Options{Level: cfg.LogLevel, Encoding: "console"})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	// 3. Initialize Terminal Backend and Session
	backend, err := terminal.NewBackend(cfg, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize terminal backend: %v", err)
	}
	session, err := terminal.NewSession(backend, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize terminal session: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	creds := domain.Credentials{Server: cfg.TerminalServer, Login: cfg.TerminalLogin, Password: cfg.TerminalPassword}
	if _, err := session.Connect(ctx, creds); err != nil {
		log.Fatalf("Error connecting to terminal: %v", err)
	}
	defer func() { _ = session.Disconnect(context.Background()) }()

	names, err := session.ListSymbols(ctx)
	if err != nil {
		log.Fatalf("Error listing symbols: %v", err)
	}

	specs := make([]*domain.SymbolSpec, 0, len(names))
	for _, name := range names {
		spec, err := session.GetSymbolSpec(ctx, name)
		if err != nil {
			appLogger.Warn(ctx, "Skipping symbol", map[string]interface{}{"symbol": name, "error": err.Error()})
			continue
		}
		specs = append(specs, spec)
	}
	appLogger.Info(ctx, "Fetched symbol specifications", map[string]interface{}{"count": len(specs)})

	filename := *output
	if filename == "" {
		filename = fmt.Sprintf("data/%s_symbols_%s.csv", session.Name(), time.Now().Format("20060102"))
	}
	if err := utils.WriteSymbolSpecsCSV(specs, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved to", map[string]interface{}{"filename": filename})
}
