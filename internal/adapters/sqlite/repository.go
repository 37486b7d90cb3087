package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tradeBridge/internal/domain"
	"tradeBridge/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.AttemptJournal interface using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for SQLite repository", ports.ErrConfigurationError)
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trade_bridge.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}

	// A single connection serializes writers; concurrent operations record through it in turn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Attempt journal ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		attempt_number INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		volume REAL NOT NULL,
		price REAL NOT NULL,
		stop_loss REAL NOT NULL DEFAULT 0,
		take_profit REAL NOT NULL DEFAULT 0,
		deviation INTEGER NOT NULL,
		filling_mode INTEGER NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		magic INTEGER NOT NULL DEFAULT 0,
		position_ticket INTEGER NOT NULL DEFAULT 0,
		retcode INTEGER NULL, -- NULL when the terminal returned no result
		order_id INTEGER NULL,
		deal_id INTEGER NULL,
		filled_volume REAL NULL,
		filled_price REAL NULL,
		error_code INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_operation ON attempts (operation_id, attempt_number);
	CREATE INDEX IF NOT EXISTS idx_attempts_created_at ON attempts (created_at);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// RecordAttempt appends one submission to the journal and returns its assigned ID.
func (r *Repository) RecordAttempt(ctx context.Context, a *domain.Attempt) (int64, error) {
	const query = `
	INSERT INTO attempts (operation_id, operation, attempt_number, symbol, side, volume, price,
	                      stop_loss, take_profit, deviation, filling_mode, comment, magic, position_ticket,
	                      retcode, order_id, deal_id, filled_volume, filled_price,
	                      error_code, error_message, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var (
		retcode, orderID, dealID  sql.NullInt64
		filledVolume, filledPrice sql.NullFloat64
	)
	if a.Result != nil {
		retcode = sql.NullInt64{Int64: int64(a.Result.Retcode), Valid: true}
		orderID = sql.NullInt64{Int64: a.Result.OrderID, Valid: true}
		dealID = sql.NullInt64{Int64: a.Result.DealID, Valid: true}
		filledVolume = sql.NullFloat64{Float64: a.Result.Volume, Valid: true}
		filledPrice = sql.NullFloat64{Float64: a.Result.Price, Valid: true}
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	req := a.Request
	result, err := r.db.ExecContext(ctx, query,
		a.OperationID, string(a.Operation), a.Number, req.Symbol, string(req.Side), req.Volume, req.Price,
		req.StopLoss, req.TakeProfit, req.DeviationPoints, int(req.FillingMode), req.Comment, req.Magic, req.PositionTicket,
		retcode, orderID, dealID, filledVolume, filledPrice,
		a.ErrorCode, a.ErrorMessage, createdAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert attempt %d of operation %s: %w", a.Number, a.OperationID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for attempt of operation %s: %w", a.OperationID, err)
	}
	a.ID = id
	r.logger.Debug(ctx, "Attempt journaled", map[string]interface{}{"attemptID": id, "operationID": a.OperationID, "retcode": a.Retcode()})
	return id, nil
}

const selectAttempts = `
	SELECT id, operation_id, operation, attempt_number, symbol, side, volume, price,
	       stop_loss, take_profit, deviation, filling_mode, comment, magic, position_ticket,
	       retcode, order_id, deal_id, filled_volume, filled_price,
	       error_code, error_message, created_at
	FROM attempts`

// FindByOperation returns every attempt of one operation in submission order.
// An unknown operation ID yields ports.ErrNotFound.
func (r *Repository) FindByOperation(ctx context.Context, operationID string) ([]*domain.Attempt, error) {
	attempts, err := r.query(ctx, selectAttempts+` WHERE operation_id = ? ORDER BY attempt_number`, operationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts of operation %s: %w", operationID, err)
	}
	if len(attempts) == 0 {
		return nil, fmt.Errorf("operation %s: %w", operationID, ports.ErrNotFound)
	}
	return attempts, nil
}

// FindRecent returns up to limit attempts, newest first.
func (r *Repository) FindRecent(ctx context.Context, limit int) ([]*domain.Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	attempts, err := r.query(ctx, selectAttempts+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent attempts: %w", err)
	}
	return attempts, nil
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) ([]*domain.Attempt, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make([]*domain.Attempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempt rows: %w", err)
	}
	return attempts, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(s scanner) (*domain.Attempt, error) {
	a := &domain.Attempt{}
	var (
		operation, side           string
		filling                   int
		retcode, orderID, dealID  sql.NullInt64
		filledVolume, filledPrice sql.NullFloat64
	)
	req := &a.Request
	err := s.Scan(
		&a.ID, &a.OperationID, &operation, &a.Number, &req.Symbol, &side, &req.Volume, &req.Price,
		&req.StopLoss, &req.TakeProfit, &req.DeviationPoints, &filling, &req.Comment, &req.Magic, &req.PositionTicket,
		&retcode, &orderID, &dealID, &filledVolume, &filledPrice,
		&a.ErrorCode, &a.ErrorMessage, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Operation = domain.Operation(operation)
	req.Side = domain.OrderSide(side)
	req.FillingMode = domain.FillingMode(filling)
	if retcode.Valid {
		a.Result = &domain.OrderResult{
			Retcode: int(retcode.Int64),
			OrderID: orderID.Int64,
			DealID:  dealID.Int64,
			Volume:  filledVolume.Float64,
			Price:   filledPrice.Float64,
		}
	}
	return a, nil
}
