package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"tradeBridge/internal/app"
	"tradeBridge/internal/domain"
	"tradeBridge/internal/execution"
	"tradeBridge/internal/ports"
)

// Service is what the API exposes; app.BridgeService implements it.
type Service interface {
	Connect(ctx context.Context, creds domain.Credentials) (*domain.AccountInfo, error)
	Disconnect(ctx context.Context) error
	Symbols(ctx context.Context) ([]string, error)
	SymbolInfo(ctx context.Context, symbol string) (*domain.SymbolSpec, error)
	Price(ctx context.Context, symbol string) (*app.Quote, error)
	Positions(ctx context.Context) ([]domain.Position, error)
	PlaceOrder(ctx context.Context, cmd app.OrderCommand) (*execution.Report, error)
	ClosePosition(ctx context.Context, cmd app.CloseCommand) (*execution.Report, error)
	Health(ctx context.Context) app.Health
	Attempts(ctx context.Context, operationID string, limit int) ([]*domain.Attempt, error)
}

// Config holds configuration for the API server.
type Config struct {
	Addr           string
	AllowedOrigins []string      // Empty allows any origin
	StreamInterval time.Duration // Default interval of the price stream
	Logger         ports.Logger
}

// Server handles REST and WebSocket connections.
type Server struct {
	svc      Service
	logger   ports.Logger
	router   *mux.Router
	handler  http.Handler
	addr     string
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{} // Closed on shutdown; ends price streams
}

// NewServer creates a new API server.
func NewServer(svc Service, cfg Config) (*Server, error) {
	if svc == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("%w: API server requires a service and a logger", ports.ErrConfigurationError)
	}
	if cfg.Addr == "" {
		cfg.Addr = ":5000"
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = time.Second
	}

	s := &Server{
		svc:      svc,
		logger:   cfg.Logger,
		router:   mux.NewRouter(),
		addr:     cfg.Addr,
		interval: cfg.StreamInterval,
		stop:     make(chan struct{}),
	}
	s.setupRoutes()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	s.handler = c.Handler(s.router)
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.logRequests)

	// Session
	s.router.HandleFunc("/connect", s.handleConnect).Methods(http.MethodPost)
	s.router.HandleFunc("/disconnect", s.handleDisconnect).Methods(http.MethodPost)

	// Market data
	s.router.HandleFunc("/symbols", s.handleSymbols).Methods(http.MethodGet)
	s.router.HandleFunc("/symbol/{symbol}", s.handleSymbol).Methods(http.MethodGet)
	s.router.HandleFunc("/price/{symbol}", s.handlePrice).Methods(http.MethodGet)
	s.router.HandleFunc("/stream/price/{symbol}", s.handlePriceStream).Methods(http.MethodGet)

	// Trading
	s.router.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	s.router.HandleFunc("/trade", s.handleTrade).Methods(http.MethodPost)
	s.router.HandleFunc("/close", s.handleClose).Methods(http.MethodPost)

	s.router.HandleFunc("/attempts", s.handleAttempts).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "API server listening", map[string]interface{}{"addr": s.addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info(shutdownCtx, "Shutting down API server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown: %w", err)
	}
	return nil
}

// Close ends open price streams.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Server == "" || req.Login == 0 || req.Password == "" {
		s.respondMessage(w, http.StatusBadRequest, "Missing server, login, or password", "InvalidRequest")
		return
	}
	account, err := s.svc.Connect(r.Context(), domain.Credentials{Server: req.Server, Login: req.Login, Password: req.Password})
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, Envelope{Success: true, Data: toAccountDTO(account)})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Disconnect(r.Context()); err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, Envelope{Success: true, Data: "Disconnected"})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.svc.Symbols(r.Context())
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, Envelope{Success: true, Data: symbols})
}

func (s *Server) handleSymbol(w http.ResponseWriter, r *http.Request) {
	spec, err := s.svc.SymbolInfo(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, Envelope{Success: true, Data: toSymbolDTO(spec)})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	q, err := s.svc.Price(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, Envelope{Success: true, Data: toPriceDTO(q)})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.svc.Positions(r.Context())
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, Envelope{Success: true, Data: toPositionDTOs(positions)})
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Symbol == "" || req.Type == "" {
		s.respondMessage(w, http.StatusBadRequest, "Missing symbol or order type", "InvalidRequest")
		return
	}

	report, err := s.svc.PlaceOrder(r.Context(), req.command())
	if err != nil {
		s.respondError(w, r, err, refOf(report))
		return
	}
	res := report.Result
	respondJSON(w, http.StatusOK, Envelope{Success: true, Data: tradeDTO{
		OperationID: report.OperationID,
		Order:       res.OrderID,
		Deal:        res.DealID,
		Volume:      res.Volume,
		Price:       res.Price,
		SL:          res.StopLoss,
		TP:          res.TakeProfit,
		Comment:     res.Comment,
		Retcode:     res.Retcode,
		Attempts:    len(report.Attempts),
	}})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Ticket == 0 {
		s.respondMessage(w, http.StatusBadRequest, "Missing ticket", "InvalidRequest")
		return
	}
	cmd := app.CloseCommand{Ticket: req.Ticket, Symbol: req.Symbol}
	if req.Volume != nil {
		cmd.Volume = *req.Volume
	}

	report, err := s.svc.ClosePosition(r.Context(), cmd)
	if err != nil {
		s.respondError(w, r, err, refOf(report))
		return
	}
	res := report.Result
	respondJSON(w, http.StatusOK, Envelope{Success: true, Data: closeDTO{
		OperationID: report.OperationID,
		Ticket:      req.Ticket,
		Order:       res.OrderID,
		Deal:        res.DealID,
		Symbol:      res.Symbol,
		Type:        string(res.PositionSide),
		Volume:      res.Volume,
		Price:       res.Price,
		Profit:      res.Profit,
		Retcode:     res.Retcode,
		Attempts:    len(report.Attempts),
	}})
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondMessage(w, http.StatusBadRequest, "limit must be a non-negative integer", "InvalidRequest")
			return
		}
		limit = n
	}
	attempts, err := s.svc.Attempts(r.Context(), q.Get("operation_id"), limit)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, Envelope{Success: true, Data: toAttemptDTOs(attempts)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.svc.Health(r.Context())
	respondJSON(w, http.StatusOK, Envelope{Success: true, Data: healthDTO{
		Status:    h.Status,
		Backend:   h.Backend,
		Connected: h.Connected,
		Account:   toAccountDTO(h.Account),
		Journal:   h.Journal,
		Timestamp: h.Time.Format(time.RFC3339),
	}})
}

// ==============================
// Helpers
// ==============================

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		s.respondMessage(w, http.StatusBadRequest, "No JSON data provided", "InvalidRequest")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondMessage(w, http.StatusBadRequest, "Invalid JSON: "+err.Error(), "InvalidRequest")
		return false
	}
	return true
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "InvalidRequest", "InvalidSide":
		return http.StatusBadRequest
	case "AuthenticationFailed":
		return http.StatusUnauthorized
	case "AutoTradingDisabled":
		return http.StatusForbidden
	case "SymbolNotFound", "PositionNotFound", "NotFound":
		return http.StatusNotFound
	case "NotConnected":
		return http.StatusConflict
	case "NotTradable", "OrderRejected", "CloseFailed":
		return http.StatusUnprocessableEntity
	case "PriceUnavailable", "Canceled":
		return http.StatusServiceUnavailable
	case "TransportError":
		return http.StatusBadGateway
	case "Timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, data interface{}) {
	kind := ports.KindOf(err)
	status := statusFor(kind)
	fields := map[string]interface{}{"path": r.URL.Path, "kind": kind, "status": status}
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), err, "Request failed", fields)
	} else {
		s.logger.Warn(r.Context(), "Request refused", map[string]interface{}{"path": r.URL.Path, "kind": kind, "error": err.Error()})
	}
	respondJSON(w, status, Envelope{Success: false, Data: data, Error: err.Error(), Kind: kind, Code: ports.CodeOf(err)})
}

func (s *Server) respondMessage(w http.ResponseWriter, status int, msg, kind string) {
	respondJSON(w, status, Envelope{Success: false, Error: msg, Kind: kind})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the recorder.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rec.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug(r.Context(), "HTTP request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		})
	})
}
