// Package bridge talks to a terminal-side HTTP proxy that owns the native terminal API.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradeBridge/internal/domain"
	"tradeBridge/internal/ports"
)

// Client implements ports.Terminal over HTTP/JSON.
type Client struct {
	baseURL string
	http    *http.Client
	logger  ports.Logger

	mu      sync.Mutex
	lastErr ports.TerminalError
}

// Config holds configuration for the bridge client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Logger     ports.Logger
	HTTPClient *http.Client // Optional, mostly for tests
}

var _ ports.Terminal = (*Client)(nil)

// New creates a bridge client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for bridge client", ports.ErrConfigurationError)
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid bridge URL %q", ports.ErrConfigurationError, cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: strings.TrimRight(cfg.BaseURL, "/"), http: hc, logger: cfg.Logger}, nil
}

func (c *Client) Name() string { return "bridge" }

func (c *Client) Connect(ctx context.Context, creds domain.Credentials) (*domain.AccountInfo, error) {
	var acc accountDTO
	err := c.do(ctx, http.MethodPost, "/session", loginRequest{Server: creds.Server, Login: creds.Login, Password: creds.Password}, &acc)
	if err != nil {
		return nil, err
	}
	return acc.toDomain(), nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/session", nil, nil)
}

func (c *Client) ListSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	if err := c.do(ctx, http.MethodGet, "/symbols", nil, &symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}

func (c *Client) GetSymbolSpec(ctx context.Context, symbol string) (*domain.SymbolSpec, error) {
	var dto symbolDTO
	err := c.do(ctx, http.MethodGet, "/symbols/"+url.PathEscape(symbol), nil, &dto)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ports.ErrSymbolNotFound, symbol)
	}
	if err != nil {
		return nil, err
	}
	spec := dto.toDomain()
	return &spec, nil
}

func (c *Client) GetTick(ctx context.Context, symbol string) (*domain.Tick, error) {
	var dto tickDTO
	err := c.do(ctx, http.MethodGet, "/ticks/"+url.PathEscape(symbol), nil, &dto)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ports.ErrSymbolNotFound, symbol)
	}
	if err != nil {
		return nil, err
	}
	if dto.Bid <= 0 && dto.Ask <= 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrPriceUnavailable, symbol)
	}
	return &domain.Tick{Symbol: symbol, Bid: dto.Bid, Ask: dto.Ask, Time: unixTime(dto.Time)}, nil
}

// SubmitOrder posts one request. A null result is reported as a *ports.NoResultError carrying
// the last error the proxy attached, or the one fetched from /last-error when it did not.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", newOrderDTO(req), &resp); err != nil {
		return nil, err
	}
	if resp.Result == nil {
		var last ports.TerminalError
		if resp.LastError != nil {
			last = ports.TerminalError{Code: resp.LastError.Code, Message: resp.LastError.Message}
		} else {
			var dto lastErrorDTO
			if err := c.do(ctx, http.MethodGet, "/last-error", nil, &dto); err != nil {
				return nil, err
			}
			last = ports.TerminalError{Code: dto.Code, Message: dto.Message}
		}
		c.mu.Lock()
		c.lastErr = last
		c.mu.Unlock()
		return nil, &ports.NoResultError{Last: last}
	}
	return resp.Result.toDomain(req), nil
}

func (c *Client) LastError(ctx context.Context) ports.TerminalError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) GetPosition(ctx context.Context, ticket int64) (*domain.Position, error) {
	var dto positionDTO
	err := c.do(ctx, http.MethodGet, "/positions/"+strconv.FormatInt(ticket, 10), nil, &dto)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, fmt.Errorf("%w: ticket %d", ports.ErrPositionNotFound, ticket)
	}
	if err != nil {
		return nil, err
	}
	pos := dto.toDomain()
	return &pos, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	var dtos []positionDTO
	if err := c.do(ctx, http.MethodGet, "/positions", nil, &dtos); err != nil {
		return nil, err
	}
	positions := make([]domain.Position, 0, len(dtos))
	for _, d := range dtos {
		positions = append(positions, d.toDomain())
	}
	return positions, nil
}

// do performs one round trip and decodes a 2xx body into out.
// Status codes map onto the error taxonomy: 401 authentication, 403 AutoTrading disabled,
// 404 not found, 409 not connected, 503 session lost.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encode %s %s: %w", ports.ErrInvalidRequest, method, path, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: build %s %s: %w", ports.ErrTransport, method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(ctx, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return c.transportError(ctx, method, path, err)
	}

	if resp.StatusCode >= 300 {
		var e errorDTO
		_ = json.Unmarshal(data, &e)
		msg := e.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		var kind error
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			kind = ports.ErrAuthenticationFailed
		case http.StatusForbidden:
			kind = ports.ErrAutoTradingDisabled
		case http.StatusNotFound:
			kind = ports.ErrNotFound
		case http.StatusConflict:
			kind = ports.ErrNotConnected
		case http.StatusServiceUnavailable:
			kind = ports.ErrSessionLost
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			kind = ports.ErrInvalidRequest
		default:
			kind = ports.ErrTransport
		}
		return fmt.Errorf("%s %s: %w: %s", method, path, kind, msg)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %w", ports.ErrTransport, method, path, err)
	}
	return nil
}

func (c *Client) transportError(ctx context.Context, method, path string, err error) error {
	c.logger.Warn(ctx, "Bridge request failed", map[string]interface{}{"method": method, "path": path, "error": err.Error()})
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s %s: %w: %w", method, path, ports.ErrContextCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s %s: %w: %w", method, path, ports.ErrTimeout, err)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return fmt.Errorf("%s %s: %w: %w", method, path, ports.ErrTimeout, err)
	}
	return fmt.Errorf("%s %s: %w: %w", method, path, ports.ErrTransport, err)
}
