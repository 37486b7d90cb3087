package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"tradeBridge/config"
	"tradeBridge/internal/adapters/httpapi"
	"tradeBridge/internal/adapters/logger"
	"tradeBridge/internal/adapters/sqlite"
	"tradeBridge/internal/adapters/terminal"
	"tradeBridge/internal/app"
	"tradeBridge/internal/domain"
	"tradeBridge/internal/execution"
	"tradeBridge/internal/ports"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(logger.Options{Level: cfg.LogLevel, Encoding: cfg.LogEncoding, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "backend": cfg.Backend})

	// 3. Initialize Attempt Journal (Database Adapter)
	var journal ports.AttemptJournal
	if cfg.JournalEnabled {
		repo, err := sqlite.NewRepository(sqlite.Config{
			DBPath: cfg.DBPath,
			Logger: appLogger,
		})
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to initialize attempt journal")
			log.Fatalf("FATAL: Failed to initialize attempt journal: %v", err)
		}
		defer func() {
			if err := repo.Close(); err != nil {
				appLogger.Error(context.Background(), err, "Error closing attempt journal")
			}
		}()
		journal = repo
	} else {
		appLogger.Warn(context.Background(), "Attempt journal disabled")
	}

	// 4. Initialize Terminal Backend and Session
	backend, err := terminal.NewBackend(cfg, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize terminal backend")
		log.Fatalf("FATAL: Failed to initialize terminal backend: %v", err)
	}
	session, err := terminal.NewSession(backend, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize terminal session: %v", err)
	}

	// 5. Initialize Order Executor
	opts := []execution.Option{execution.WithConfig(cfg.Execution())}
	if journal != nil {
		opts = append(opts, execution.WithRecorder(journal))
	}
	executor, err := execution.NewExecutor(session, appLogger, opts...)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize order executor: %v", err)
	}

	// 6. Initialize Application Service
	bridgeService, err := app.NewBridgeService(session, executor, journal, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize bridge service")
		log.Fatalf("FATAL: Failed to initialize bridge service: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AutoConnect {
		creds := domain.Credentials{Server: cfg.TerminalServer, Login: cfg.TerminalLogin, Password: cfg.TerminalPassword}
		if _, err := bridgeService.ConnectWithRetry(ctx, creds, cfg.AutoConnectTries, nil); err != nil {
			// The API stays up so a client can retry through POST /connect.
			appLogger.Warn(ctx, "Auto-connect failed", map[string]interface{}{"error": err.Error()})
		}
	}

	// 7. Start the HTTP API
	server, err := httpapi.NewServer(bridgeService, httpapi.Config{
		Addr:           cfg.HTTPAddr,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize API server: %v", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		// Detached context: the terminal must be released even though ctx is already done.
		return bridgeService.Disconnect(context.Background())
	})

	if err := group.Wait(); err != nil {
		appLogger.Error(context.Background(), err, "Bridge exited with error")
		_ = appLogger.Sync()
		os.Exit(1)
	}
	appLogger.Info(context.Background(), "Application finished gracefully.")
}
